package layer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"

	"github.com/denisvmedia/relaymitm/internal/stream"
)

// SOCKS5 wire constants, RFC 1928.
const (
	socksVersion = 0x05

	authNoAuth         = 0x00
	authNoAcceptable   = 0xFF
	cmdConnect         = 0x01
	atypIPv4           = 0x01
	atypDomain         = 0x03
	atypIPv6           = 0x04
	repSuccess         = 0x00
	repGeneralFailure  = 0x01
	repNetUnreachable  = 0x03
	repCmdNotSupported = 0x07
	repAtypNotSupp     = 0x08
)

// SocksLayer speaks the RFC 1928 CONNECT-only, NO_AUTH-only handshake
// described in §4.2: INIT → GREETED → REQUESTED → READY.
type SocksLayer struct{}

func (l *SocksLayer) Kind() LayerKind { return LayerSocks }

func (l *SocksLayer) Run(ctx context.Context, lc *Context) (*Context, error) {
	if err := l.greet(ctx, lc); err != nil {
		return lc, err
	}

	atyp, addrBytes, host, port, err := l.readRequest(ctx, lc)
	if err != nil {
		return lc, err
	}

	conn, dialErr := l.connect(ctx, lc, host, port)
	status := repSuccess
	if dialErr != nil {
		status = classifySocksError(dialErr)
	}

	if err := l.reply(ctx, lc, status, atyp, addrBytes, port); err != nil {
		return lc, err
	}

	if dialErr != nil {
		return lc, DestNotConnectedError(dialErr)
	}

	lc.Dest = stream.New(conn)
	lc.Host = host
	lc.Port = port
	return lc, nil
}

func (l *SocksLayer) greet(ctx context.Context, lc *Context) error {
	hdr, err := lc.Src.ReadExact(ctx, 2)
	if err != nil {
		return wrapSrcErr(err, "socks: read greeting header")
	}
	nmethods := int(hdr[1])

	methods, err := lc.Src.ReadExact(ctx, nmethods)
	if err != nil {
		return wrapSrcErr(err, "socks: read greeting methods")
	}

	offered := false
	for _, m := range methods {
		if m == authNoAuth {
			offered = true
			break
		}
	}

	if !offered {
		_ = lc.Src.Write(ctx, []byte{socksVersion, authNoAcceptable})
		return ProtocolError(errors.New("socks: no acceptable auth method offered"))
	}

	return lc.Src.Write(ctx, []byte{socksVersion, authNoAuth})
}

// readRequest parses the CONNECT request. On an unsupported command or
// address type it still sends the matching error reply (echoing what can
// be echoed) before returning the error, per §4.2.
func (l *SocksLayer) readRequest(ctx context.Context, lc *Context) (atyp byte, addrBytes []byte, host string, port int, err error) {
	hdr, err := lc.Src.ReadExact(ctx, 4)
	if err != nil {
		return 0, nil, "", 0, wrapSrcErr(err, "socks: read request header")
	}
	cmd, atyp := hdr[1], hdr[3]

	addrBytes, host, err = l.readAddress(ctx, lc, atyp)
	if err != nil {
		return 0, nil, "", 0, err
	}

	portBytes, err := lc.Src.ReadExact(ctx, 2)
	if err != nil {
		return 0, nil, "", 0, wrapSrcErr(err, "socks: read request port")
	}
	port = int(binary.BigEndian.Uint16(portBytes))

	if cmd != cmdConnect {
		_ = l.reply(ctx, lc, repCmdNotSupported, atyp, addrBytes, port)
		return 0, nil, "", 0, ProtocolError(fmt.Errorf("socks: unsupported command %d", cmd))
	}

	return atyp, addrBytes, host, port, nil
}

func (l *SocksLayer) readAddress(ctx context.Context, lc *Context, atyp byte) (addrBytes []byte, host string, err error) {
	switch atyp {
	case atypIPv4:
		b, err := lc.Src.ReadExact(ctx, 4)
		if err != nil {
			return nil, "", wrapSrcErr(err, "socks: read ipv4 address")
		}
		return b, net.IP(b).String(), nil
	case atypIPv6:
		b, err := lc.Src.ReadExact(ctx, 16)
		if err != nil {
			return nil, "", wrapSrcErr(err, "socks: read ipv6 address")
		}
		return b, net.IP(b).String(), nil
	case atypDomain:
		lenByte, err := lc.Src.ReadExact(ctx, 1)
		if err != nil {
			return nil, "", wrapSrcErr(err, "socks: read domain length")
		}
		n := int(lenByte[0])
		domain, err := lc.Src.ReadExact(ctx, n)
		if err != nil {
			return nil, "", wrapSrcErr(err, "socks: read domain")
		}
		return append(append([]byte{}, lenByte...), domain...), string(domain), nil
	default:
		_ = l.reply(ctx, lc, repAtypNotSupp, atyp, nil, 0)
		return nil, "", ProtocolError(fmt.Errorf("socks: unsupported address type %d", atyp))
	}
}

func (l *SocksLayer) connect(ctx context.Context, lc *Context, host string, port int) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, lc.Config.connectTimeout())
	defer cancel()
	return lc.Config.dialer().DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// reply writes a SOCKS5 reply echoing atyp/addr/port, per RFC 1928 §6.
func (l *SocksLayer) reply(ctx context.Context, lc *Context, status byte, atyp byte, addrBytes []byte, port int) error {
	buf := make([]byte, 0, 4+len(addrBytes)+2)
	buf = append(buf, socksVersion, status, 0x00, atyp)
	buf = append(buf, addrBytes...)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, uint16(port))
	buf = append(buf, portBytes...)
	return lc.Src.Write(ctx, buf)
}

func wrapSrcErr(err error, what string) error {
	if errors.Is(err, stream.ErrStreamClosed) {
		return SrcStreamClosedError(fmt.Errorf("%s: %w", what, err))
	}
	return ProtocolError(fmt.Errorf("%s: %w", what, err))
}

// classifySocksError maps a dial failure to the reply status table in
// §4.2.
func classifySocksError(err error) byte {
	if errors.Is(err, context.DeadlineExceeded) {
		return repNetUnreachable
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOEXEC, syscall.EBADF:
			return repAtypNotSupp
		case syscall.ETIMEDOUT:
			return repNetUnreachable
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Timeout() {
		return repNetUnreachable
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return repGeneralFailure
	}

	return repGeneralFailure
}
