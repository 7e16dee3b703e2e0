package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"
)

// WebsocketBus dials out to viewer_channel and events_channel endpoints
// and serializes writes on each with a mutex, the same
// per-connection mutex pattern used to let many goroutines
// share one *websocket.Conn safely. Replay replies are matched to
// requests by an id field read back off events_channel and delivered
// through a table of per-request wait channels.
type WebsocketBus struct {
	viewer *websocket.Conn
	events *websocket.Conn

	viewerMu sync.Mutex
	eventsMu sync.Mutex

	waitMu sync.Mutex
	wait   map[string]chan *ViewerContext
}

// replayEnvelope frames an events_channel round trip: the proxy writes
// {id} to ask for the next replay event and reads back {id, context}.
type replayEnvelope struct {
	ID      string         `json:"id"`
	Context *ViewerContext `json:"context,omitempty"`
}

// NewWebsocketBus dials viewerURL and eventsURL (either may be empty to
// skip that channel — a proxy run with no --viewer-channel still forwards
// traffic, it simply publishes nowhere).
func NewWebsocketBus(viewerURL, eventsURL string) (*WebsocketBus, error) {
	b := &WebsocketBus{wait: make(map[string]chan *ViewerContext)}

	if viewerURL != "" {
		conn, _, err := websocket.DefaultDialer.Dial(viewerURL, nil)
		if err != nil {
			return nil, fmt.Errorf("bus: dial viewer_channel: %w", err)
		}
		b.viewer = conn
	}
	if eventsURL != "" {
		conn, _, err := websocket.DefaultDialer.Dial(eventsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("bus: dial events_channel: %w", err)
		}
		b.events = conn
		go b.readEvents()
	}
	return b, nil
}

func (b *WebsocketBus) Publish(vc *ViewerContext) {
	if b.viewer == nil {
		return
	}
	data, err := json.Marshal(vc)
	if err != nil {
		slog.Error("bus: marshal ViewerContext failed", "error", err)
		return
	}
	b.viewerMu.Lock()
	err = b.viewer.WriteMessage(websocket.TextMessage, data)
	b.viewerMu.Unlock()
	if err != nil {
		slog.Error("bus: publish to viewer_channel failed", "error", err)
	}
}

func (b *WebsocketBus) Request(ctx context.Context, id string) (*ViewerContext, error) {
	if b.events == nil {
		return nil, errors.New("bus: no events_channel configured")
	}

	ch := make(chan *ViewerContext, 1)
	b.waitMu.Lock()
	b.wait[id] = ch
	b.waitMu.Unlock()
	defer func() {
		b.waitMu.Lock()
		delete(b.wait, id)
		b.waitMu.Unlock()
	}()

	data, err := json.Marshal(replayEnvelope{ID: id})
	if err != nil {
		return nil, err
	}
	b.eventsMu.Lock()
	err = b.events.WriteMessage(websocket.TextMessage, data)
	b.eventsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("bus: request on events_channel failed: %w", err)
	}

	select {
	case vc := <-ch:
		if vc == nil {
			return nil, errors.New("bus: replay source exhausted")
		}
		return vc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readEvents drains events_channel, routing each reply to the wait
// channel its id was registered under.
func (b *WebsocketBus) readEvents() {
	for {
		_, data, err := b.events.ReadMessage()
		if err != nil {
			slog.Error("bus: events_channel read failed", "error", err)
			return
		}
		var env replayEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("bus: malformed events_channel reply, skip", "error", err)
			continue
		}

		b.waitMu.Lock()
		ch, ok := b.wait[env.ID]
		b.waitMu.Unlock()
		if !ok {
			continue
		}
		ch <- env.Context
	}
}

// NewRequestID stamps a fresh events_channel request id.
func NewRequestID() string {
	return uuid.NewV4().String()
}
