package interceptor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/bus"
	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/interceptor"
	"github.com/denisvmedia/relaymitm/layer"
)

type fnPlugin struct {
	name string
	req  func(*layer.Context, *httpmsg.Request) (*httpmsg.Request, error)
	resp func(*layer.Context, *httpmsg.Request, *httpmsg.Response) (*httpmsg.Response, error)
}

func (p *fnPlugin) Name() string { return p.name }

func (p *fnPlugin) Request(lc *layer.Context, req *httpmsg.Request) (*httpmsg.Request, error) {
	if p.req == nil {
		return nil, nil
	}
	return p.req(lc, req)
}

func (p *fnPlugin) Response(lc *layer.Context, req *httpmsg.Request, resp *httpmsg.Response) (*httpmsg.Response, error) {
	if p.resp == nil {
		return nil, nil
	}
	return p.resp(lc, req, resp)
}

type recordingBus struct {
	mu        sync.Mutex
	published []*bus.ViewerContext
	done      chan struct{}
}

func newRecordingBus() *recordingBus {
	return &recordingBus{done: make(chan struct{}, 8)}
}

func (b *recordingBus) Publish(vc *bus.ViewerContext) {
	b.mu.Lock()
	b.published = append(b.published, vc)
	b.mu.Unlock()
	b.done <- struct{}{}
}

func (b *recordingBus) Request(_ context.Context, _ string) (*bus.ViewerContext, error) {
	panic("unused")
}

func newContext() *layer.Context {
	return layer.NewContext(layer.ModeHTTP, nil, &layer.Config{})
}

func TestManagerRequestChainsInOrder(t *testing.T) {
	c := qt.New(t)

	var order []string
	mkPlugin := func(name string) *fnPlugin {
		return &fnPlugin{name: name, req: func(_ *layer.Context, req *httpmsg.Request) (*httpmsg.Request, error) {
			order = append(order, name)
			next := req.Clone()
			next.Path = req.Path + "-" + name
			return next, nil
		}}
	}

	reg := interceptor.NewRegistry()
	reg.Add(mkPlugin("a"))
	reg.Add(mkPlugin("b"))

	m := interceptor.NewManager(reg, nil, nil)
	req := httpmsg.NewRequest("HTTP/1.1", "GET", "/x", httpmsg.NewHeaders(), nil)

	out, err := m.Request(newContext(), req)
	c.Assert(err, qt.IsNil)
	c.Assert(out.Path, qt.Equals, "/x-a-b")
	c.Assert(order, qt.DeepEquals, []string{"a", "b"})
	c.Assert(req.Path, qt.Equals, "/x") // original untouched
}

func TestManagerRequestSkipsPanickingPlugin(t *testing.T) {
	c := qt.New(t)

	reg := interceptor.NewRegistry()
	reg.Add(&fnPlugin{name: "boom", req: func(*layer.Context, *httpmsg.Request) (*httpmsg.Request, error) {
		panic("plugin exploded")
	}})
	reg.Add(&fnPlugin{name: "tag", req: func(_ *layer.Context, req *httpmsg.Request) (*httpmsg.Request, error) {
		next := req.Clone()
		next.Path = req.Path + "-tag"
		return next, nil
	}})

	m := interceptor.NewManager(reg, nil, nil)
	req := httpmsg.NewRequest("HTTP/1.1", "GET", "/x", httpmsg.NewHeaders(), nil)

	out, err := m.Request(newContext(), req)
	c.Assert(err, qt.IsNil)
	c.Assert(out.Path, qt.Equals, "/x-tag")
}

func TestManagerRequestSkipsErroringPlugin(t *testing.T) {
	c := qt.New(t)

	reg := interceptor.NewRegistry()
	reg.Add(&fnPlugin{name: "erroring", req: func(_ *layer.Context, req *httpmsg.Request) (*httpmsg.Request, error) {
		next := req.Clone()
		next.Path = "/should-not-apply"
		return next, assertErr
	}})

	m := interceptor.NewManager(reg, nil, nil)
	req := httpmsg.NewRequest("HTTP/1.1", "GET", "/x", httpmsg.NewHeaders(), nil)

	out, err := m.Request(newContext(), req)
	c.Assert(err, qt.IsNil)
	c.Assert(out.Path, qt.Equals, "/x")
}

func TestManagerPublishIsFireAndForget(t *testing.T) {
	c := qt.New(t)

	rb := newRecordingBus()
	m := interceptor.NewManager(interceptor.NewRegistry(), rb, nil)

	req := httpmsg.NewRequest("HTTP/1.1", "GET", "/x", httpmsg.NewHeaders(), nil)
	resp := httpmsg.NewResponse("HTTP/1.1", 200, "OK", httpmsg.NewHeaders(), nil)
	lc := newContext()
	lc.Scheme = layer.SchemeHTTP
	lc.Host = "example.com"
	lc.Port = 80

	m.Publish(lc, req, resp)

	select {
	case <-rb.done:
	case <-time.After(time.Second):
		c.Fatal("publish did not reach the bus in time")
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()
	c.Assert(rb.published, qt.HasLen, 1)
	c.Assert(rb.published[0].Host, qt.Equals, "example.com")
	c.Assert(rb.published[0].Path, qt.Equals, "/x")
}

var assertErr = httpmsgTestError("boom")

type httpmsgTestError string

func (e httpmsgTestError) Error() string { return string(e) }
