package layer

import "context"

// LayerKind identifies which concrete layer produced/consumes a Context, used
// purely for routing-table lookups (never type-switched on in place of
// an interface method).
type LayerKind int

const (
	LayerSocks LayerKind = iota
	LayerTransparent
	LayerHTTPProxy
	LayerReplay
	LayerTLS
	LayerHTTP1
	LayerHTTP2
	LayerForward
)

func (k LayerKind) String() string {
	switch k {
	case LayerSocks:
		return "socks"
	case LayerTransparent:
		return "transparent"
	case LayerHTTPProxy:
		return "http_proxy"
	case LayerReplay:
		return "replay"
	case LayerTLS:
		return "tls"
	case LayerHTTP1:
		return "http1"
	case LayerHTTP2:
		return "http2"
	default:
		return "forward"
	}
}

// Layer is one resumable stage of the connection pipeline. Run suspends
// only at stream.ByteStream operations and TCP connect, never blocks on
// anything else, and returns the (possibly mutated) Context for Manager
// to route onward — or an error, which Manager handles at its boundary
// (layers never catch their own errors beyond closing resources they
// exclusively own).
type Layer interface {
	Kind() LayerKind
	Run(ctx context.Context, lc *Context) (*Context, error)
}
