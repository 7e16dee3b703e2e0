package layer_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/internal/stream"
	"github.com/denisvmedia/relaymitm/layer"
)

func TestHTTP1LayerSingleRequestResponseCycle(t *testing.T) {
	c := qt.New(t)

	browserConn, srcProxyConn := net.Pipe()
	originProxyConn, originConn := net.Pipe()
	defer browserConn.Close()
	defer originConn.Close()

	lc := &layer.Context{
		Src:    stream.New(srcProxyConn),
		Dest:   stream.New(originProxyConn),
		Config: &layer.Config{},
	}

	runDone := make(chan error, 1)
	go func() {
		_, err := (&layer.HTTP1Layer{}).Run(context.Background(), lc)
		runDone <- err
	}()

	go func() {
		req, _ := http.NewRequest(http.MethodGet, "http://example.com/hello", nil)
		req.Write(browserConn)
	}()

	originReader := bufio.NewReader(originConn)
	gotReq, err := http.ReadRequest(originReader)
	c.Assert(err, qt.IsNil)
	c.Assert(gotReq.URL.Path, qt.Equals, "/hello")

	resp := &http.Response{
		StatusCode: 200,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Length": []string{"2"}},
		Body:       io.NopCloser(strings.NewReader("ok")),
	}
	go resp.Write(originConn)

	browserReader := bufio.NewReader(browserConn)
	gotResp, err := http.ReadResponse(browserReader, gotReq)
	c.Assert(err, qt.IsNil)
	c.Assert(gotResp.StatusCode, qt.Equals, 200)

	browserConn.Close()
	originConn.Close()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		c.Fatal("HTTP1Layer.Run did not return after connections closed")
	}
}

func TestHTTP1LayerRequiresDestStream(t *testing.T) {
	c := qt.New(t)

	lc := &layer.Context{Config: &layer.Config{}}
	_, err := (&layer.HTTP1Layer{}).Run(context.Background(), lc)
	c.Assert(layer.KindOf(err), qt.Equals, layer.KindDestNotConnected)
}
