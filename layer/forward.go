package layer

import (
	"context"
	"errors"

	"github.com/denisvmedia/relaymitm/internal/stream"
)

const forwardChunkSize = 32 * 1024

// ForwardLayer is the terminal, opaque byte pump for traffic that isn't
// being interpreted at a higher layer (raw TCP, WebSocket after upgrade,
// or any scheme the routing table doesn't recognize), built on the
// ReadPartial/Write suspension points of stream.ByteStream rather than a
// plain io.Copy.
type ForwardLayer struct{}

func (l *ForwardLayer) Kind() LayerKind { return LayerForward }

func (l *ForwardLayer) Run(ctx context.Context, lc *Context) (*Context, error) {
	if lc.Dest == nil {
		return lc, DestNotConnectedError(errors.New("forward: no destination stream"))
	}

	errCh := make(chan error, 2)
	pump := func(from, to *stream.ByteStream) {
		for {
			buf, err := from.ReadPartial(ctx, forwardChunkSize)
			if err != nil {
				errCh <- err
				return
			}
			if len(buf) == 0 {
				continue
			}
			if err := to.Write(ctx, buf); err != nil {
				errCh <- err
				return
			}
		}
	}
	go pump(lc.Src, lc.Dest)
	go pump(lc.Dest, lc.Src)

	err := <-errCh
	lc.CloseAll()
	lc.Done = true

	if err != nil && !errors.Is(err, stream.ErrStreamClosed) {
		return lc, UnhandledError(err)
	}
	return lc, nil
}
