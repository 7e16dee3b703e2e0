package layer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"unsafe"

	"github.com/denisvmedia/relaymitm/internal/stream"
)

// soOriginalDst is SOL_IP / SO_ORIGINAL_DST on Linux, used to recover the
// pre-NAT destination of a connection redirected here by an iptables
// REDIRECT rule.
const soOriginalDst = 80

// TransparentLayer accepts a connection whose original destination was
// rewritten by iptables REDIRECT, recovers that destination via
// SO_ORIGINAL_DST, and dials it. The next layer is then chosen by
// Manager purely from the recovered port (§4.6), the same as SocksLayer.
// Grounded on the getOriginalDst-consuming shape of
// other_examples' transparent-listener.go; golang.org/x/sys/unix has no
// typed wrapper for this sockopt, so the raw syscall is used directly
// (justified in DESIGN.md).
type TransparentLayer struct{}

func (l *TransparentLayer) Kind() LayerKind { return LayerTransparent }

func (l *TransparentLayer) Run(ctx context.Context, lc *Context) (*Context, error) {
	tcpConn, ok := lc.Src.Conn().(*net.TCPConn)
	if !ok {
		return lc, ProtocolError(errors.New("transparent: source is not a TCP connection"))
	}

	host, port, err := getOriginalDst(tcpConn)
	if err != nil {
		return lc, DestNotConnectedError(err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, lc.Config.connectTimeout())
	defer cancel()

	conn, err := lc.Config.dialer().DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return lc, DestNotConnectedError(err)
	}

	lc.Dest = stream.New(conn)
	lc.Host = host
	lc.Port = port
	return lc, nil
}

func getOriginalDst(conn *net.TCPConn) (host string, port int, err error) {
	f, err := conn.File()
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	fd := int(f.Fd())

	var addr syscall.RawSockaddrInet4
	size := uint32(unsafe.Sizeof(addr))

	_, _, errno := syscall.Syscall6(
		syscall.SYS_GETSOCKOPT,
		uintptr(fd),
		syscall.IPPROTO_IP,
		soOriginalDst,
		uintptr(unsafe.Pointer(&addr)),
		uintptr(unsafe.Pointer(&size)),
		0,
	)
	if errno != 0 {
		return "", 0, errno
	}

	ip := net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3])
	p := int(addr.Port&0xFF)<<8 | int(addr.Port>>8)
	return ip.String(), p, nil
}
