package plugin_test

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/andybalholm/brotli"
	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/plugin"
)

func TestDecoderResponseWithoutEncoding(t *testing.T) {
	c := qt.New(t)

	body := []byte("hello world")
	resp := httpmsg.NewResponse("HTTP/1.1", 200, "OK",
		httpmsg.NewHeaders("Content-Encoding", "identity", "Transfer-Encoding", "chunked"), body)

	d := &plugin.Decoder{}
	out, err := d.Response(nil, nil, resp)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.IsNil) // unchanged: identity is a no-op
}

func TestDecoderResponseWithGzipEncoding(t *testing.T) {
	c := qt.New(t)

	plainBody := []byte("compressed body")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write(plainBody)
	_ = gz.Close()

	resp := httpmsg.NewResponse("HTTP/1.1", 200, "OK",
		httpmsg.NewHeaders("Content-Encoding", "gzip"), buf.Bytes())

	d := &plugin.Decoder{}
	out, err := d.Response(nil, nil, resp)
	c.Assert(err, qt.IsNil)
	c.Assert(out.Body, qt.DeepEquals, plainBody)
	c.Assert(out.Headers.Get("Content-Encoding"), qt.Equals, "")
	c.Assert(out.Headers.Get("Content-Length"), qt.Equals, "15")
}

func TestDecoderResponseWithBrotliEncoding(t *testing.T) {
	c := qt.New(t)

	plainBody := []byte("brotli body")
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, _ = bw.Write(plainBody)
	_ = bw.Close()

	resp := httpmsg.NewResponse("HTTP/1.1", 200, "OK",
		httpmsg.NewHeaders("Content-Encoding", "br"), buf.Bytes())

	d := &plugin.Decoder{}
	out, err := d.Response(nil, nil, resp)
	c.Assert(err, qt.IsNil)
	c.Assert(out.Body, qt.DeepEquals, plainBody)
}
