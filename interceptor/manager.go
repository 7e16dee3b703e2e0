package interceptor

import (
	"log/slog"

	"github.com/denisvmedia/relaymitm/bus"
	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/layer"
)

// Manager implements layer.Interceptor: it folds a Context/Request (or
// Response) through the Registry's plugin chain and publishes finished
// transactions to a bus.Bus. Each plugin call is isolated with Go's
// defer/recover so one misbehaving plugin can't take down the chain.
type Manager struct {
	registry *Registry
	bus      bus.Bus
	logger   *slog.Logger
}

var _ layer.Interceptor = (*Manager)(nil)

// NewManager builds a Manager that folds requests/responses through
// registry and publishes finished transactions to b (b may be nil, in
// which case Publish is a no-op — running with no viewer channel wired
// still forwards traffic).
func NewManager(registry *Registry, b bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{registry: registry, bus: b, logger: logger}
}

// Request folds req through the plugin chain's Request hooks in order,
// starting from a defensive deep copy so no plugin can see another
// plugin's private working copy.
func (m *Manager) Request(lc *layer.Context, req *httpmsg.Request) (*httpmsg.Request, error) {
	cur := req.Clone()
	for _, p := range m.registry.Get() {
		cur = m.callRequest(p, lc, cur)
	}
	return cur, nil
}

// Response folds resp through the plugin chain's Response hooks, the
// same way Request does.
func (m *Manager) Response(lc *layer.Context, req *httpmsg.Request, resp *httpmsg.Response) (*httpmsg.Response, error) {
	cur := resp.Clone()
	for _, p := range m.registry.Get() {
		cur = m.callResponse(p, lc, req, cur)
	}
	return cur, nil
}

// callRequest isolates one plugin's Request hook behind recover, so a
// panicking plugin is logged and skipped rather than taking the
// connection down with it.
func (m *Manager) callRequest(p Plugin, lc *layer.Context, cur *httpmsg.Request) (out *httpmsg.Request) {
	out = cur
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("plugin panicked in Request hook", "plugin", p.Name(), "conn_id", lc.ID, "panic", r)
			out = cur
		}
	}()

	next, err := p.Request(lc, cur.Clone())
	if err != nil {
		m.logger.Error("plugin returned error in Request hook", "plugin", p.Name(), "conn_id", lc.ID, "error", err)
		return cur
	}
	if next == nil {
		return cur
	}
	return next
}

// callResponse is callRequest's Response-hook counterpart.
func (m *Manager) callResponse(p Plugin, lc *layer.Context, req *httpmsg.Request, cur *httpmsg.Response) (out *httpmsg.Response) {
	out = cur
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("plugin panicked in Response hook", "plugin", p.Name(), "conn_id", lc.ID, "panic", r)
			out = cur
		}
	}()

	next, err := p.Response(lc, req, cur.Clone())
	if err != nil {
		m.logger.Error("plugin returned error in Response hook", "plugin", p.Name(), "conn_id", lc.ID, "error", err)
		return cur
	}
	if next == nil {
		return cur
	}
	return next
}

// Publish builds a ViewerContext from the finished transaction and hands
// it to the bus in its own goroutine: fire-and-forget, at-most-once per
// transaction, and never able to fail the transaction it describes.
func (m *Manager) Publish(lc *layer.Context, req *httpmsg.Request, resp *httpmsg.Response) {
	if m.bus == nil {
		return
	}
	vc := &bus.ViewerContext{
		Scheme:   string(lc.Scheme),
		Host:     lc.Host,
		Port:     lc.Port,
		Path:     req.Path,
		Request:  req,
		Response: resp,
	}
	go m.bus.Publish(vc)
}
