package plugin_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/layer"
	"github.com/denisvmedia/relaymitm/plugin"
)

func TestHostFilterAllowList(t *testing.T) {
	c := qt.New(t)

	f := &plugin.HostFilter{Allow: []string{"*.example.com"}}
	lc := layer.NewContext(layer.ModeHTTP, nil, &layer.Config{})
	lc.Host = "api.example.com"
	lc.Port = 443

	req := httpmsg.NewRequest("HTTP/1.1", "GET", "/", httpmsg.NewHeaders(), nil)
	out, err := f.Request(lc, req)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.IsNil)

	lc.Host = "evil.other.com"
	_, err = f.Request(lc, req)
	c.Assert(err, qt.IsNotNil)
}

func TestHostFilterDenyList(t *testing.T) {
	c := qt.New(t)

	f := &plugin.HostFilter{Deny: []string{"ads.example.com"}}
	lc := layer.NewContext(layer.ModeHTTP, nil, &layer.Config{})
	lc.Host = "ads.example.com"

	req := httpmsg.NewRequest("HTTP/1.1", "GET", "/", httpmsg.NewHeaders(), nil)
	_, err := f.Request(lc, req)
	c.Assert(err, qt.IsNotNil)

	lc.Host = "ok.example.com"
	_, err = f.Request(lc, req)
	c.Assert(err, qt.IsNil)
}
