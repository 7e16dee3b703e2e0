package layer

import (
	"context"
	"errors"
	"strings"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/internal/stream"
	"github.com/denisvmedia/relaymitm/proto/http1"
)

// HTTP1Layer is the interception heart described in §4.4: it drives two
// http1.Conn peers (server role on source, client role on destination)
// through request/response cycles, running the interceptor chain on each
// message and publishing exactly once per completed transaction.
type HTTP1Layer struct{}

func (l *HTTP1Layer) Kind() LayerKind { return LayerHTTP1 }

func (l *HTTP1Layer) Run(ctx context.Context, lc *Context) (*Context, error) {
	if lc.Dest == nil {
		return lc, DestNotConnectedError(errors.New("http1: no destination stream"))
	}
	if lc.Scheme == SchemeOpaque {
		lc.Scheme = SchemeHTTP
	}

	src := http1.NewConn(lc.Src, http1.RoleServer)
	dest := http1.NewConn(lc.Dest, http1.RoleClient)

	for {
		req, err := src.ReadRequest(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrStreamClosed) {
				// No request was in flight: an ordinary keep-alive idle
				// close, not a failure.
				lc.Done = true
				return lc, nil
			}
			return lc, ProtocolError(err)
		}

		cont, err := l.cycle(ctx, lc, src, dest, req)
		if err != nil {
			return lc, err
		}
		if !cont {
			return lc, nil
		}
	}
}

// cycle runs the request-forward/response-forward/publish portion of one
// HTTP/1.1 transaction given an already-read req, and reports whether the
// connection should keep cycling (false means lc.Done or
// lc.SwitchProtocol was set and the pipeline should return to Manager).
// Factored out so HttpProxyLayer can reuse it for the first request it
// has to read itself (to learn the destination host).
func (l *HTTP1Layer) cycle(ctx context.Context, lc *Context, src, dest *http1.Conn, req *httpmsg.Request) (cont bool, err error) {
	if lc.Config.Interceptor != nil {
		rewritten, ierr := lc.Config.Interceptor.Request(lc, req)
		if ierr == nil && rewritten != nil {
			req = rewritten
		}
	}

	if werr := dest.WriteRequest(ctx, req); werr != nil {
		if errors.Is(werr, stream.ErrStreamClosed) {
			return false, DestStreamClosedError(werr)
		}
		return false, ProtocolError(werr)
	}

	resp, isInfo, err := l.runResponse(ctx, lc, src, dest, req)
	if err != nil {
		return false, err
	}

	if lc.Config.Interceptor != nil {
		lc.Config.Interceptor.Publish(lc, req, resp)
	}
	lc.Stats.incCycle()

	upgrade := ""
	if isInfo {
		if u := req.Headers.Get("Upgrade"); u != "" {
			upgrade = u
		}
	}

	switch {
	case lc.Mode == ModeReplay:
		lc.Done = true
		return false, nil
	case upgrade != "":
		lc.Scheme = Scheme(strings.ToLower(upgrade))
		lc.SwitchProtocol = true
		return false, nil
	case isInfo:
		// A 1xx with no Upgrade (100 Continue, 103 Early Hints, ...) is
		// still a finish point per §4.4/§4.5: it publishes using the 1xx
		// as the response and the cycle ends here rather than reading a
		// further "final" response.
		lc.Done = true
		return false, nil
	case src.Closed() || dest.Closed():
		lc.Done = true
		return false, nil
	default:
		src.StartNextCycle()
		dest.StartNextCycle()
		return true, nil
	}
}

// runResponse reads exactly one response from the destination and
// forwards it to the source: a final response is run through the
// interceptor as usual, while a 1xx informational response (including
// 101 Switching Protocols) is forwarded as-is and reported via isInfo so
// cycle can treat it as the finish of this transaction instead of
// looping for a response that, on a protocol switch, will never arrive.
func (l *HTTP1Layer) runResponse(ctx context.Context, lc *Context, src, dest *http1.Conn, req *httpmsg.Request) (resp *httpmsg.Response, isInfo bool, err error) {
	r, isInfo, rerr := dest.ReadResponse(ctx)
	if rerr != nil {
		if errors.Is(rerr, stream.ErrStreamClosed) {
			return nil, false, DestStreamClosedError(rerr)
		}
		return nil, false, ProtocolError(rerr)
	}

	if isInfo {
		if werr := src.WriteInfoResponse(ctx, r); werr != nil {
			if errors.Is(werr, stream.ErrStreamClosed) {
				return nil, false, SrcStreamClosedError(werr)
			}
			return nil, false, ProtocolError(werr)
		}
		return r, true, nil
	}

	if lc.Config.Interceptor != nil {
		rewritten, ierr := lc.Config.Interceptor.Response(lc, req, r)
		if ierr == nil && rewritten != nil {
			r = rewritten
		}
	}

	if werr := src.WriteResponse(ctx, r); werr != nil {
		if errors.Is(werr, stream.ErrStreamClosed) {
			return nil, false, SrcStreamClosedError(werr)
		}
		return nil, false, ProtocolError(werr)
	}

	return r, false, nil
}
