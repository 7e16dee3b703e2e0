// Package layer implements the resumable per-connection state machine that
// drives protocol interception: SOCKS5/CONNECT/transparent/replay entry,
// TLS MITM, HTTP/1.1 and HTTP/2 interception, and opaque forwarding,
// chained by a routing table owned by Manager, built around the explicit
// suspension points described by internal/stream.ByteStream rather than
// net/http.Hijacker-driven interception.
package layer

import (
	"context"
	"net"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"

	"github.com/denisvmedia/relaymitm/cert"
	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/internal/stream"
)

// ConnStats is a per-connection set of atomic counters exposed read-only
// to plugins through Context, grounded on the idea of a connection
// tracking its own traffic shape as it's interceped.
type ConnStats struct {
	cycles atomic.Int64
}

// Cycles reports the number of HTTP/1.1 request/response cycles
// completed so far on this connection.
func (s *ConnStats) Cycles() int64 {
	if s == nil {
		return 0
	}
	return s.cycles.Load()
}

func (s *ConnStats) incCycle() {
	s.cycles.Inc()
}

// Mode selects the entry layer a connection starts in.
type Mode string

const (
	ModeSocks       Mode = "socks"
	ModeTransparent Mode = "transparent"
	ModeHTTP        Mode = "http"
	ModeReplay      Mode = "replay"
)

// Scheme is the protocol negotiated for the current hop, used by the
// routing table to pick the next layer.
type Scheme string

const (
	SchemeHTTP      Scheme = "http"
	SchemeHTTPS     Scheme = "https"
	SchemeH2        Scheme = "h2"
	SchemeH2C       Scheme = "h2c"
	SchemeWebSocket Scheme = "websocket"
	SchemeOpaque    Scheme = ""
)

// Dialer establishes the destination connection. It exists as an
// interface (rather than calling net.Dial directly) so tests can stub
// unreachable/slow destinations without a real socket.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NetDialer adapts *net.Dialer to Dialer.
type NetDialer struct {
	D net.Dialer
}

func (d *NetDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.D.DialContext(ctx, network, addr)
}

// DefaultConnectTimeout bounds destination TCP connect attempts (spec: a
// 5-second connect deadline).
const DefaultConnectTimeout = 5 * time.Second

// Interceptor is the layer package's view of the plugin pipeline: it sees
// only what a layer needs (LayerContext plus the message), never the
// plugin chain itself. Defined here, consumer-side, so layer never
// imports the interceptor package; interceptor.Manager implements this.
type Interceptor interface {
	Request(ctx *Context, req *httpmsg.Request) (*httpmsg.Request, error)
	Response(ctx *Context, req *httpmsg.Request, resp *httpmsg.Response) (*httpmsg.Response, error)
	Publish(ctx *Context, req *httpmsg.Request, resp *httpmsg.Response)
}

// Config holds process-wide routing and dependency configuration, shared
// read-only across connections: the publish bus socket and plugin
// manager are process-wide resources, not per-connection ones.
type Config struct {
	HTTPPorts  []int
	HTTPSPorts []int

	CA          cert.CA
	Dialer      Dialer
	Interceptor Interceptor

	// ReplaySource feeds ReplayLayer the next stored transaction to
	// replay; required when any connection enters in ModeReplay.
	ReplaySource ReplaySource

	ConnectTimeout time.Duration
}

func (c *Config) dialer() Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return &NetDialer{}
}

func (c *Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (c *Config) isHTTPPort(port int) bool {
	if port == 80 {
		return true
	}
	for _, p := range c.HTTPPorts {
		if p == port {
			return true
		}
	}
	return false
}

func (c *Config) isHTTPSPort(port int) bool {
	if port == 443 {
		return true
	}
	for _, p := range c.HTTPSPorts {
		if p == port {
			return true
		}
	}
	return false
}

// Context is the per-connection state threaded through every layer in the
// pipeline (the Go analogue of microproxy's LayerContext). Layers mutate
// it in place and return it; Manager reads Scheme/Port/Done to pick the
// next layer.
type Context struct {
	ID string

	Src  *stream.ByteStream
	Dest *stream.ByteStream

	Mode   Mode
	Scheme Scheme
	Host   string
	Port   int

	// Done marks the pipeline as finished without the ordinary
	// routing table advancing it further (e.g. ReplayLayer closing
	// both streams).
	Done bool
	// SwitchProtocol is latched by Http1Layer when the original
	// request carried Upgrade and a 1xx informational response was
	// forwarded; it tells the routing table to treat Scheme as the
	// upgraded protocol rather than the negotiated one.
	SwitchProtocol bool

	Stats ConnStats

	Config *Config
}

// NewContext builds a fresh per-connection Context, stamping a UUID the
// way the rest of the codebase identifies connections/requests.
func NewContext(mode Mode, src *stream.ByteStream, cfg *Config) *Context {
	return &Context{
		ID:     uuid.NewV4().String(),
		Src:    src,
		Mode:   mode,
		Config: cfg,
	}
}

// CloseAll closes both streams, swallowing errors — used on the
// unconditional-source-closure error path and final teardown.
func (c *Context) CloseAll() {
	if c.Src != nil {
		_ = c.Src.Close()
	}
	if c.Dest != nil {
		_ = c.Dest.Close()
	}
}
