package layer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/internal/stream"
	"github.com/denisvmedia/relaymitm/proto/http1"
)

// HTTPProxyLayer handles mode=="http": old-style explicit HTTP proxying,
// where the client sends plaintext requests with an absolute-form URI (or
// an origin-form request plus Host header) directly, with no CONNECT
// tunnel. TLS interception is reached instead via SocksLayer/
// TransparentLayer's port-based routing, so CONNECT is out of scope here
// (a CONNECT request is rejected as a protocol error).
type HTTPProxyLayer struct{}

func (l *HTTPProxyLayer) Kind() LayerKind { return LayerHTTPProxy }

func (l *HTTPProxyLayer) Run(ctx context.Context, lc *Context) (*Context, error) {
	src := http1.NewConn(lc.Src, http1.RoleServer)

	req, err := src.ReadRequest(ctx)
	if err != nil {
		if errors.Is(err, stream.ErrStreamClosed) {
			return lc, SrcStreamClosedError(err)
		}
		return lc, ProtocolError(err)
	}

	if req.Method == "CONNECT" {
		return lc, ProtocolError(errors.New("http_proxy: CONNECT tunneling is not supported in http mode"))
	}

	host, port, err := resolveProxyTarget(req)
	if err != nil {
		return lc, ProtocolError(err)
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
	lc.Scheme = SchemeHTTP

	dest := http1.NewConn(lc.Dest, http1.RoleClient)

	h1 := &HTTP1Layer{}
	if _, err := h1.cycle(ctx, lc, src, dest, req); err != nil {
		return lc, err
	}
	return lc, nil
}

// resolveProxyTarget extracts the destination host/port from an
// absolute-form request URI, or falls back to origin-form plus Host
// header, and rewrites req.Path to origin-form in place (upstream
// servers expect origin-form, not the proxy's absolute-form).
func resolveProxyTarget(req *httpmsg.Request) (host string, port int, err error) {
	if strings.HasPrefix(req.Path, "http://") {
		u, err := url.Parse(req.Path)
		if err != nil {
			return "", 0, fmt.Errorf("http_proxy: bad absolute-form URI %q: %w", req.Path, err)
		}
		host = u.Hostname()
		port = 80
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return "", 0, fmt.Errorf("http_proxy: bad port in %q: %w", req.Path, err)
			}
		}
		req.Path = u.RequestURI()
		return host, port, nil
	}

	hostport := req.Headers.Get("Host")
	if hostport == "" {
		return "", 0, errors.New("http_proxy: no absolute-form URI and no Host header")
	}
	if h, p, splitErr := net.SplitHostPort(hostport); splitErr == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("http_proxy: bad port in Host %q: %w", hostport, err)
		}
		return host, port, nil
	}
	return hostport, 80, nil
}

// ReplayRequest is one stored transaction pulled from the events channel
// to be replayed against its real destination.
type ReplayRequest struct {
	Scheme  Scheme
	Host    string
	Port    int
	Request *httpmsg.Request
}

// ReplaySource yields the next replay event, or an error (including
// io.EOF-like exhaustion) when there is nothing left to replay.
type ReplaySource interface {
	Next(ctx context.Context) (*ReplayRequest, error)
}

// ReplayLayer drives mode=="replay": it pulls one stored request from
// the events channel, dials its real destination (establishing TLS
// itself when the recorded scheme was https, since there is no live
// client to MITM), and hands off to Http1Layer wired to a synthetic
// source pipe that feeds it the replayed request and discards whatever
// response comes back (the live response is what gets published to the
// viewer channel by Http1Layer's normal finish policy).
type ReplayLayer struct{}

func (l *ReplayLayer) Kind() LayerKind { return LayerReplay }

func (l *ReplayLayer) Run(ctx context.Context, lc *Context) (*Context, error) {
	if lc.Config.ReplaySource == nil {
		return lc, ProtocolError(errors.New("replay: no replay source configured"))
	}

	rr, err := lc.Config.ReplaySource.Next(ctx)
	if err != nil {
		lc.Done = true
		return lc, nil
	}

	destConn, err := l.dial(ctx, lc, rr)
	if err != nil {
		return lc, DestNotConnectedError(err)
	}

	lc.Scheme = rr.Scheme
	lc.Host = rr.Host
	lc.Port = rr.Port
	lc.Dest = stream.New(destConn)

	clientSide, replaySide := net.Pipe()
	lc.Src = stream.New(clientSide)

	go l.feed(ctx, replaySide, rr.Request)

	return lc, nil
}

func (l *ReplayLayer) dial(ctx context.Context, lc *Context, rr *ReplayRequest) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, lc.Config.connectTimeout())
	defer cancel()

	conn, err := lc.Config.dialer().DialContext(dialCtx, "tcp", net.JoinHostPort(rr.Host, strconv.Itoa(rr.Port)))
	if err != nil {
		return nil, err
	}

	if rr.Scheme != SchemeHTTPS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: rr.Host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// feed writes the replayed request onto replaySide as a well-framed
// HTTP/1.1 message, then drains and discards whatever Http1Layer writes
// back as the (unwanted) response.
func (l *ReplayLayer) feed(ctx context.Context, replaySide net.Conn, req *httpmsg.Request) {
	conn := http1.NewConn(stream.New(replaySide), http1.RoleClient)
	_ = conn.WriteRequest(ctx, req)

	buf := make([]byte, 4096)
	for {
		if _, err := replaySide.Read(buf); err != nil {
			return
		}
	}
}
