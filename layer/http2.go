package layer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/net/http2"

	"github.com/denisvmedia/relaymitm/internal/stream"
)

// HTTP2Layer forwards an HTTP/2 connection frame-for-frame rather than
// reinterpreting it: bytes are relayed verbatim (preserving exact wire
// fidelity across HPACK-compressed headers and flow-control windows,
// which this proxy does not renegotiate), while a side-channel
// http2.Framer decodes a tee of the traffic purely to log frame
// boundaries. Full per-stream interception is out of scope; see
// DESIGN.md.
type HTTP2Layer struct{}

func (l *HTTP2Layer) Kind() LayerKind { return LayerHTTP2 }

func (l *HTTP2Layer) Run(ctx context.Context, lc *Context) (*Context, error) {
	if lc.Dest == nil {
		return lc, DestNotConnectedError(errors.New("http2: no destination stream"))
	}

	preface, err := lc.Src.ReadExact(ctx, len(http2.ClientPreface))
	if err != nil {
		if errors.Is(err, stream.ErrStreamClosed) {
			return lc, SrcStreamClosedError(err)
		}
		return lc, ProtocolError(err)
	}
	if string(preface) != http2.ClientPreface {
		return lc, ProtocolError(fmt.Errorf("http2: bad connection preface"))
	}
	if err := lc.Dest.Write(ctx, preface); err != nil {
		if errors.Is(err, stream.ErrStreamClosed) {
			return lc, DestStreamClosedError(err)
		}
		return lc, ProtocolError(err)
	}

	errCh := make(chan error, 2)
	go l.pump(ctx, lc.Src, lc.Dest, errCh)
	go l.pump(ctx, lc.Dest, lc.Src, errCh)

	pumpErr := <-errCh
	lc.CloseAll()
	lc.Done = true

	if pumpErr != nil && !errors.Is(pumpErr, stream.ErrStreamClosed) {
		return lc, UnhandledError(pumpErr)
	}
	return lc, nil
}

func (l *HTTP2Layer) pump(ctx context.Context, from, to *stream.ByteStream, errCh chan<- error) {
	pr, pw := io.Pipe()
	go decodeFrames(pr)

	for {
		buf, err := from.ReadPartial(ctx, forwardChunkSize)
		if err != nil {
			_ = pw.CloseWithError(err)
			errCh <- err
			return
		}
		if len(buf) == 0 {
			continue
		}
		_, _ = pw.Write(buf)
		if err := to.Write(ctx, buf); err != nil {
			_ = pw.CloseWithError(err)
			errCh <- err
			return
		}
	}
}

// decodeFrames is a best-effort frame logger: it decodes a tee of relayed
// bytes purely for observability and stops decoding silently on the first
// framing error (the primary pump already owns error handling). After
// that it keeps draining the tee, so the pump's writes into it never block.
func decodeFrames(r io.Reader) {
	fr := http2.NewFramer(io.Discard, r)
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			_, _ = io.Copy(io.Discard, r)
			return
		}
		h := f.Header()
		slog.Debug("http2 frame", "type", h.Type, "stream_id", h.StreamID, "length", h.Length)
	}
}
