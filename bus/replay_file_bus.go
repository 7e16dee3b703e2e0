package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/denisvmedia/relaymitm/layer"
)

// ReplayFileBus implements the "Replay file: one ViewerContext JSON
// object per line, appended" requirement from spec.md §6. It doubles as
// both a recorder (Publish appends) and a sequential replay source
// (layer.ReplaySource, consumed line-by-line by ReplayLayer).
type ReplayFileBus struct {
	path string

	writeMu sync.Mutex

	readOnce sync.Once
	readErr  error
	file     *os.File
	scanner  *bufio.Scanner
	readMu   sync.Mutex
}

// NewReplayFileBus returns a bus backed by path without opening it:
// Publish opens/creates the file for append on each call, and reading
// happens lazily from the start of the same file on the first Next call.
func NewReplayFileBus(path string) *ReplayFileBus {
	return &ReplayFileBus{path: path}
}

var _ Bus = (*ReplayFileBus)(nil)
var _ layer.ReplaySource = (*ReplayFileBus)(nil)

func (b *ReplayFileBus) Publish(vc *ViewerContext) {
	data, err := json.Marshal(vc)
	if err != nil {
		return
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(data, '\n'))
}

// Request is not meaningful for a file-backed bus (there is no separate
// events_channel to round-trip on): it always returns an error pointing
// callers at Next.
func (b *ReplayFileBus) Request(_ context.Context, _ string) (*ViewerContext, error) {
	return nil, errors.New("bus: ReplayFileBus has no events_channel, use Next for replay")
}

// Next implements layer.ReplaySource, reading the file sequentially one
// line at a time.
func (b *ReplayFileBus) Next(_ context.Context) (*layer.ReplayRequest, error) {
	b.readOnce.Do(func() {
		f, err := os.Open(b.path)
		if err != nil {
			b.readErr = err
			return
		}
		b.file = f
		b.scanner = bufio.NewScanner(f)
		b.scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	})
	if b.readErr != nil {
		return nil, b.readErr
	}

	b.readMu.Lock()
	defer b.readMu.Unlock()

	if !b.scanner.Scan() {
		if err := b.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var vc ViewerContext
	if err := json.Unmarshal(b.scanner.Bytes(), &vc); err != nil {
		return nil, fmt.Errorf("bus: malformed replay line: %w", err)
	}

	return &layer.ReplayRequest{
		Scheme:  layer.Scheme(vc.Scheme),
		Host:    vc.Host,
		Port:    vc.Port,
		Request: vc.Request,
	}, nil
}

// Close releases the underlying read handle, if one was opened.
func (b *ReplayFileBus) Close() error {
	if b.file == nil {
		return nil
	}
	return b.file.Close()
}
