package layer

import (
	"context"
	"log/slog"
)

// Manager drives one connection's Context through a sequence of Layers,
// choosing the next layer from the table in §4.6 of the design and
// catching every layer error at its own boundary (layers never recover
// from their own errors beyond releasing resources they exclusively
// own). The routing table is a plain Go switch over (fromLayer, port,
// scheme) rather than a dispatch-by-type chain.
type Manager struct {
	cfg    *Config
	logger *slog.Logger
}

// NewManager builds a Manager bound to cfg, logging through logger (or
// slog.Default() if nil).
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// EntryLayer returns the first layer for a connection entering in mode.
func EntryLayer(mode Mode) Layer {
	switch mode {
	case ModeSocks:
		return &SocksLayer{}
	case ModeTransparent:
		return &TransparentLayer{}
	case ModeHTTP:
		return &HTTPProxyLayer{}
	case ModeReplay:
		return &ReplayLayer{}
	default:
		return nil
	}
}

// Run drives lc through layers starting at EntryLayer(lc.Mode) until the routing table
// yields no next layer, a layer reports lc.Done, or a layer errors.
func (m *Manager) Run(ctx context.Context, lc *Context) {
	current := EntryLayer(lc.Mode)
	for current != nil {
		next, err := current.Run(ctx, lc)
		if err != nil {
			m.handleError(lc, err)
			return
		}
		lc = next
		if lc.Done {
			lc.CloseAll()
			return
		}
		current = m.nextLayer(current.Kind(), lc)
	}
	lc.CloseAll()
}

func (m *Manager) nextLayer(from LayerKind, lc *Context) Layer {
	switch from {
	case LayerHTTPProxy:
		return &HTTP1Layer{}
	case LayerSocks, LayerTransparent:
		switch {
		case lc.Config.isHTTPPort(lc.Port):
			lc.Scheme = SchemeHTTP
			return &HTTP1Layer{}
		case lc.Config.isHTTPSPort(lc.Port):
			return &TLSLayer{}
		default:
			return &ForwardLayer{}
		}
	case LayerTLS:
		switch lc.Scheme {
		case SchemeHTTPS:
			return &HTTP1Layer{}
		case SchemeH2:
			return &HTTP2Layer{}
		default:
			return &ForwardLayer{}
		}
	case LayerReplay:
		switch lc.Scheme {
		case SchemeHTTP, SchemeHTTPS:
			return &HTTP1Layer{}
		case SchemeH2:
			return &HTTP2Layer{}
		default:
			return &ForwardLayer{}
		}
	case LayerHTTP1:
		switch {
		case lc.Scheme == SchemeWebSocket:
			return &ForwardLayer{}
		case lc.Scheme == SchemeH2C:
			// Not in the base routing table but named explicitly by the
			// Http1Layer upgrade-handoff design: an h2c Upgrade hands off
			// to HTTP2Layer the same way a websocket Upgrade hands off to
			// ForwardLayer.
			return &HTTP2Layer{}
		case lc.Scheme == SchemeHTTPS && !lc.Done:
			return &TLSLayer{}
		case lc.Scheme == SchemeHTTP && !lc.Done:
			return &HTTP1Layer{}
		default:
			return nil
		}
	default:
		return nil
	}
}

// handleError implements §7: the manager closes the source stream
// unconditionally (except that a DestNotConnectedError may arise before
// a destination stream ever existed, so Dest is only closed when
// present), logs, and terminates the pipeline. No layer error is ever
// retried at this level.
func (m *Manager) handleError(lc *Context, err error) {
	kind := KindOf(err)
	m.logger.Error("layer pipeline failed",
		"conn_id", lc.ID, "kind", kind.String(), "error", err)

	if lc.Src != nil {
		_ = lc.Src.Close()
	}
	if lc.Dest != nil {
		_ = lc.Dest.Close()
	}
}
