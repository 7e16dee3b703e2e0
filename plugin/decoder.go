// Package plugin holds built-in interceptor.Plugin implementations:
// Decoder, which transparently decompresses response bodies before they
// reach the viewer bus, and Log, which logs transaction timing. Neither
// is required by the layer pipeline itself — both register through
// interceptor.Registry like any other plugin.
package plugin

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strconv"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/layer"
)

// Decoder strips Content-Encoding/Transfer-Encoding from a response and
// replaces its body with the decompressed bytes, so downstream plugins
// and the viewer bus always see plaintext. gzip and deflate use the
// standard library; br and zstd are handled via andybalholm/brotli and
// klauspost/compress.
type Decoder struct{}

func (*Decoder) Name() string { return "decoder" }

func (*Decoder) Request(_ *layer.Context, _ *httpmsg.Request) (*httpmsg.Request, error) {
	return nil, nil
}

func (*Decoder) Response(_ *layer.Context, _ *httpmsg.Request, resp *httpmsg.Response) (*httpmsg.Response, error) {
	encoding := resp.Headers.Get("Content-Encoding")
	if encoding == "" || encoding == "identity" {
		return nil, nil
	}

	body, err := decodeBody(encoding, resp.Body)
	if err != nil {
		return nil, err
	}

	out := resp.Clone()
	out.Body = body
	out.Headers = out.Headers.Del("Content-Encoding").Del("Transfer-Encoding").Set("Content-Length", strconv.Itoa(len(body)))
	return out, nil
}

func decodeBody(encoding string, body []byte) ([]byte, error) {
	switch encoding {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return body, nil
	}
}
