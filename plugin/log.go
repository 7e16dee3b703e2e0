package plugin

import (
	"log/slog"
	"sync"
	"time"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/layer"
)

// Log reports request/response timing through the global slog logger:
// it stamps a start time on Request and logs the duration on the
// matching Response, keyed by connection id since a Plugin's
// Request/Response hooks can interleave across connections.
// teacher's four-hook split. The plugin instance is shared process-wide
// across connections, so its start-time table is mutex-guarded.
type Log struct {
	mu    sync.Mutex
	start map[string]time.Time
}

// NewLog returns a ready-to-register Log plugin.
func NewLog() *Log {
	return &Log{start: make(map[string]time.Time)}
}

func (*Log) Name() string { return "log" }

func (l *Log) Request(lc *layer.Context, req *httpmsg.Request) (*httpmsg.Request, error) {
	slog.Debug("request", "conn_id", lc.ID, "method", req.Method, "path", req.Path, "host", lc.Host)
	l.mu.Lock()
	l.start[lc.ID] = time.Now()
	l.mu.Unlock()
	return nil, nil
}

func (l *Log) Response(lc *layer.Context, req *httpmsg.Request, resp *httpmsg.Response) (*httpmsg.Response, error) {
	l.mu.Lock()
	started, ok := l.start[lc.ID]
	delete(l.start, lc.ID)
	l.mu.Unlock()
	var duration time.Duration
	if ok {
		duration = time.Since(started)
	}
	slog.Info("request completed",
		"conn_id", lc.ID,
		"method", req.Method,
		"path", req.Path,
		"host", lc.Host,
		"status", resp.Code,
		"content_length", len(resp.Body),
		"duration_ms", duration.Milliseconds(),
	)
	return nil, nil
}
