// Package interceptor implements the plugin chain described in spec §4.5:
// an ordered sequence of Plugins that see a deep copy of each request and
// response, may hand back a rewritten copy, and are isolated from each
// other (a panicking or erroring plugin is skipped, leaving the message
// as the previous plugin left it). Manager also owns the publish step,
// handing a finished transaction to a bus.Bus exactly once.
package interceptor

import (
	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/layer"
)

// Plugin is one link in the chain. Returning (nil, nil) from either hook
// means "unchanged" — the previous value continues down the chain.
type Plugin interface {
	Name() string
	Request(lc *layer.Context, req *httpmsg.Request) (*httpmsg.Request, error)
	Response(lc *layer.Context, req *httpmsg.Request, resp *httpmsg.Response) (*httpmsg.Response, error)
}

// BasePlugin gives a Plugin implementation no-op Request/Response hooks,
// the same "embed to satisfy the interface cheaply" shape as the
// teacher's BaseAddon.
type BasePlugin struct{}

func (BasePlugin) Request(_ *layer.Context, _ *httpmsg.Request) (*httpmsg.Request, error) {
	return nil, nil
}

func (BasePlugin) Response(_ *layer.Context, _ *httpmsg.Request, _ *httpmsg.Response) (*httpmsg.Response, error) {
	return nil, nil
}
