package layer

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNextLayerRoutingTable(t *testing.T) {
	c := qt.New(t)

	cfg := &Config{HTTPPorts: []int{8080}, HTTPSPorts: []int{8443}}
	m := NewManager(cfg, nil)

	cases := []struct {
		name string
		from LayerKind
		lc   *Context
		want LayerKind // no-next-layer cases are covered by the tests below
	}{
		{"httpproxy always http1", LayerHTTPProxy, &Context{Config: cfg}, LayerHTTP1},
		{"socks http port -> http1", LayerSocks, &Context{Config: cfg, Port: 80}, LayerHTTP1},
		{"socks custom http port -> http1", LayerSocks, &Context{Config: cfg, Port: 8080}, LayerHTTP1},
		{"socks https port -> tls", LayerSocks, &Context{Config: cfg, Port: 443}, LayerTLS},
		{"socks custom https port -> tls", LayerSocks, &Context{Config: cfg, Port: 8443}, LayerTLS},
		{"socks other port -> forward", LayerSocks, &Context{Config: cfg, Port: 22}, LayerForward},
		{"transparent other port -> forward", LayerTransparent, &Context{Config: cfg, Port: 22}, LayerForward},
		{"tls https -> http1", LayerTLS, &Context{Config: cfg, Scheme: SchemeHTTPS}, LayerHTTP1},
		{"tls h2 -> http2", LayerTLS, &Context{Config: cfg, Scheme: SchemeH2}, LayerHTTP2},
		{"tls other -> forward", LayerTLS, &Context{Config: cfg, Scheme: SchemeOpaque}, LayerForward},
		{"replay http -> http1", LayerReplay, &Context{Config: cfg, Scheme: SchemeHTTP}, LayerHTTP1},
		{"replay h2 -> http2", LayerReplay, &Context{Config: cfg, Scheme: SchemeH2}, LayerHTTP2},
		{"http1 websocket -> forward", LayerHTTP1, &Context{Config: cfg, Scheme: SchemeWebSocket}, LayerForward},
		{"http1 h2c -> http2", LayerHTTP1, &Context{Config: cfg, Scheme: SchemeH2C}, LayerHTTP2},
		{"http1 https not done -> tls", LayerHTTP1, &Context{Config: cfg, Scheme: SchemeHTTPS, Done: false}, LayerTLS},
		{"http1 http not done -> http1", LayerHTTP1, &Context{Config: cfg, Scheme: SchemeHTTP, Done: false}, LayerHTTP1},
	}

	for _, tc := range cases {
		got := m.nextLayer(tc.from, tc.lc)
		c.Assert(got, qt.IsNotNil, qt.Commentf("case %s", tc.name))
		c.Assert(got.Kind(), qt.Equals, tc.want, qt.Commentf("case %s", tc.name))
	}
}

func TestNextLayerHTTP1DoneYieldsNoNextLayer(t *testing.T) {
	c := qt.New(t)

	cfg := &Config{}
	m := NewManager(cfg, nil)

	got := m.nextLayer(LayerHTTP1, &Context{Config: cfg, Scheme: SchemeHTTPS, Done: true})
	c.Assert(got, qt.IsNil)
}

func TestNextLayerUnknownFromYieldsNoNextLayer(t *testing.T) {
	c := qt.New(t)

	cfg := &Config{}
	m := NewManager(cfg, nil)

	got := m.nextLayer(LayerForward, &Context{Config: cfg})
	c.Assert(got, qt.IsNil)
}
