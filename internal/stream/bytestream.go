// Package stream implements ByteStream, the non-blocking, buffered duplex
// byte pipe every layer reads and writes through.
//
// ByteStream wraps a single net.Conn (plain or TLS) and owns a manually
// managed pending-bytes buffer rather than a bufio.Reader, because
// ReadUntil needs to peel a delimiter-terminated prefix off an arbitrary
// read boundary and push the remainder back for the next call — something
// bufio.Reader's single Peek/Discard pair can't do cleanly for multi-byte
// delimiters. Every read consumes what it returns; bytes still pending
// when StartTLS is called are replayed into the TLS handshake.
package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Error values for the taxonomy described in spec.md §7.
var (
	// ErrStreamClosed is returned when a read cannot be satisfied because
	// the stream closed before enough bytes arrived.
	ErrStreamClosed = errors.New("bytestream: closed")
	// ErrReadLimitExceeded is returned by ReadUntil when max_bytes would be
	// exceeded before the delimiter is seen.
	ErrReadLimitExceeded = errors.New("bytestream: read_until exceeded max_bytes before delimiter")
	// ErrReadInProgress is returned when a second read is attempted while
	// one is already outstanding, violating the "at most one outstanding
	// read" invariant.
	ErrReadInProgress = errors.New("bytestream: a read is already in progress")
	// ErrConsumed is returned by any operation on a ByteStream that has
	// already been handed off to StartTLS.
	ErrConsumed = errors.New("bytestream: consumed by start_tls")
)

const (
	// DefaultMaxBufferSize bounds how many unread bytes may sit in the
	// pending buffer before the stream stops pulling more from the socket.
	DefaultMaxBufferSize = 1 << 20 // 1MiB
	// DefaultReadChunkSize is how much we ask the OS for per underlying Read.
	DefaultReadChunkSize = 32 * 1024
)

// ByteStream is a duplex stream over one socket, per spec.md §3/§4.1.
type ByteStream struct {
	conn net.Conn

	maxBufferSize int
	readChunkSize int

	mu      sync.Mutex
	pending []byte
	closed  bool
	err     error

	readMu sync.Mutex // enforces "at most one outstanding read at a time"

	inFlightReads atomic.Int32
	closeOnce     sync.Once
	onClose       []func()

	consumed atomic.Bool // set once StartTLS has taken over the underlying conn
}

// Option configures a ByteStream at construction time.
type Option func(*ByteStream)

// WithMaxBufferSize overrides DefaultMaxBufferSize.
func WithMaxBufferSize(n int) Option {
	return func(s *ByteStream) { s.maxBufferSize = n }
}

// WithReadChunkSize overrides DefaultReadChunkSize.
func WithReadChunkSize(n int) Option {
	return func(s *ByteStream) { s.readChunkSize = n }
}

// WithCloseCallback registers a close callback, fired exactly once.
func WithCloseCallback(cb func()) Option {
	return func(s *ByteStream) { s.onClose = append(s.onClose, cb) }
}

// New wraps conn in a ByteStream.
func New(conn net.Conn, opts ...Option) *ByteStream {
	s := &ByteStream{
		conn:          conn,
		maxBufferSize: DefaultMaxBufferSize,
		readChunkSize: DefaultReadChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnClose registers an additional close callback.
func (s *ByteStream) OnClose(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, cb)
}

// Conn returns the underlying net.Conn, e.g. for RemoteAddr().
func (s *ByteStream) Conn() net.Conn { return s.conn }

// Closed reports whether Close has been called.
func (s *ByteStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastError returns the last asynchronous I/O error observed, if any.
func (s *ByteStream) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ByteStream) beginRead() error {
	if s.consumed.Load() {
		return ErrConsumed
	}
	if !s.readMu.TryLock() {
		return ErrReadInProgress
	}
	s.inFlightReads.Inc()
	return nil
}

func (s *ByteStream) endRead() {
	s.inFlightReads.Dec()
	s.readMu.Unlock()
	s.maybeFireClose()
}

// Close is idempotent and triggers the close callback exactly once. If a
// read is currently draining already-buffered data, the callback is
// deferred until that read finishes — see maybeFireClose.
func (s *ByteStream) Close() error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	var err error
	if !alreadyClosed {
		err = s.conn.Close()
	}
	s.maybeFireClose()
	return err
}

func (s *ByteStream) maybeFireClose() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed || s.inFlightReads.Load() > 0 {
		return
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cbs := append([]func(){}, s.onClose...)
		s.mu.Unlock()
		for _, cb := range cbs {
			cb()
		}
	})
}

func (s *ByteStream) closeWithError(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	_ = s.Close()
}

// fill reads one chunk from the socket into pending, respecting the flow
// control invariant: once pending reaches maxBufferSize no more is pulled
// from the socket until a consumer drains it.
func (s *ByteStream) fill(ctx context.Context) error {
	s.mu.Lock()
	full := len(s.pending) >= s.maxBufferSize
	s.mu.Unlock()
	if full {
		return nil
	}

	stop := watchContext(ctx, s.conn)
	defer stop()

	buf := make([]byte, s.readChunkSize)
	n, err := s.conn.Read(buf)
	if n > 0 {
		s.mu.Lock()
		s.pending = append(s.pending, buf[:n]...)
		s.mu.Unlock()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.closeWithError(err)
		return err
	}
	return nil
}

// watchContext arranges for conn's deadline to fire when ctx is done,
// unblocking an in-flight Read/Write without needing cancellable syscalls.
// The returned stop func must always be called.
func watchContext(ctx context.Context, conn net.Conn) func() {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}

// ReadExact succeeds only when exactly n bytes are delivered; fails with
// ErrStreamClosed if the stream closes first.
func (s *ByteStream) ReadExact(ctx context.Context, n int) ([]byte, error) {
	if err := s.beginRead(); err != nil {
		return nil, err
	}
	defer s.endRead()

	for {
		s.mu.Lock()
		if len(s.pending) >= n {
			out := append([]byte(nil), s.pending[:n]...)
			s.pending = s.pending[n:]
			s.mu.Unlock()
			return out, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrStreamClosed
		}
		if err := s.fill(ctx); err != nil {
			s.mu.Lock()
			have := len(s.pending) >= n
			s.mu.Unlock()
			if have {
				continue
			}
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				return nil, ErrStreamClosed
			}
			return nil, err
		}
	}
}

// ReadPartial returns 1..=max available bytes as soon as any are
// available; returns empty only when max == 0.
func (s *ByteStream) ReadPartial(ctx context.Context, max int) ([]byte, error) {
	if max == 0 {
		return nil, nil
	}
	if err := s.beginRead(); err != nil {
		return nil, err
	}
	defer s.endRead()

	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			n := max
			if n > len(s.pending) {
				n = len(s.pending)
			}
			out := append([]byte(nil), s.pending[:n]...)
			s.pending = s.pending[n:]
			s.mu.Unlock()
			return out, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrStreamClosed
		}
		if err := s.fill(ctx); err != nil {
			s.mu.Lock()
			have := len(s.pending) > 0
			s.mu.Unlock()
			if have {
				continue
			}
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				return nil, ErrStreamClosed
			}
			return nil, err
		}
	}
}

// ReadUntil returns the prefix up to and including delim. It fails (and
// closes the stream) if maxBytes would be exceeded before the delimiter
// is seen, even when the delimiter arrives in the same read that
// overshoots the limit.
func (s *ByteStream) ReadUntil(ctx context.Context, delim []byte, maxBytes int) ([]byte, error) {
	if err := s.beginRead(); err != nil {
		return nil, err
	}
	defer s.endRead()

	for {
		s.mu.Lock()
		idx := indexOf(s.pending, delim)
		if idx >= 0 {
			end := idx + len(delim)
			if end > maxBytes {
				s.mu.Unlock()
				s.closeWithError(ErrReadLimitExceeded)
				return nil, ErrReadLimitExceeded
			}
			out := append([]byte(nil), s.pending[:end]...)
			s.pending = s.pending[end:]
			s.mu.Unlock()
			return out, nil
		}
		if len(s.pending) >= maxBytes {
			s.mu.Unlock()
			s.closeWithError(ErrReadLimitExceeded)
			return nil, ErrReadLimitExceeded
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrStreamClosed
		}
		if err := s.fill(ctx); err != nil {
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				return nil, ErrStreamClosed
			}
			return nil, err
		}
	}
}

// ReadUntilClose drains to EOF. If streamingCB is non-nil, each chunk is
// delivered to it and the final returned slice is empty.
func (s *ByteStream) ReadUntilClose(ctx context.Context, streamingCB func([]byte)) ([]byte, error) {
	if err := s.beginRead(); err != nil {
		return nil, err
	}
	defer s.endRead()

	var acc []byte
	for {
		s.mu.Lock()
		chunk := s.pending
		s.pending = nil
		closed := s.closed
		s.mu.Unlock()

		if len(chunk) > 0 {
			if streamingCB != nil {
				streamingCB(chunk)
			} else {
				acc = append(acc, chunk...)
			}
		}
		if closed {
			if streamingCB != nil {
				return nil, nil
			}
			return acc, nil
		}
		if err := s.fill(ctx); err != nil {
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				if streamingCB != nil {
					return nil, nil
				}
				return acc, nil
			}
			return nil, err
		}
	}
}

// Write enqueues bytes; by the time it returns, the OS has accepted them.
// Zero-length writes still succeed.
func (s *ByteStream) Write(ctx context.Context, data []byte) error {
	if s.consumed.Load() {
		return ErrConsumed
	}
	if s.Closed() {
		return ErrStreamClosed
	}
	stop := watchContext(ctx, s.conn)
	defer stop()

	if len(data) == 0 {
		return nil
	}
	_, err := s.conn.Write(data)
	if err != nil {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		s.closeWithError(err)
		return ErrStreamClosed
	}
	return nil
}

// StartTLS consumes the plaintext stream, completes the TLS handshake and
// returns a new TLS ByteStream wrapping the same socket. Reads on s are forbidden from
// the moment StartTLS is called; any bytes already buffered in s.pending
// (e.g. from sniffing a ClientHello) are replayed to the TLS library
// before it touches the raw socket.
func (s *ByteStream) StartTLS(ctx context.Context, isServer bool, tlsConfig *tls.Config, serverHostname string) (*ByteStream, error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return nil, ErrConsumed
	}

	s.mu.Lock()
	prefix := s.pending
	s.pending = nil
	s.mu.Unlock()

	pc := &prefixConn{Conn: s.conn, prefix: prefix}

	var tlsConn *tls.Conn
	if isServer {
		tlsConn = tls.Server(pc, tlsConfig)
	} else {
		cfg := tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if serverHostname != "" && cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName = serverHostname
		}
		tlsConn = tls.Client(pc, cfg)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	return New(tlsConn,
		WithMaxBufferSize(s.maxBufferSize),
		WithReadChunkSize(s.readChunkSize),
	), nil
}

func indexOf(haystack, needle []byte) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// prefixConn replays a byte prefix before falling through to the
// underlying net.Conn, used to hand already-sniffed bytes to crypto/tls.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
