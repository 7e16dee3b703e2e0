package bus_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/bus"
	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/layer"
)

func TestReplayFileBusAppendThenReplay(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "replay.jsonl")
	recorder := bus.NewReplayFileBus(path)

	for _, p := range []string{"/a", "/b"} {
		recorder.Publish(&bus.ViewerContext{
			Scheme:   "https",
			Host:     "example.com",
			Port:     443,
			Path:     p,
			Request:  httpmsg.NewRequest("HTTP/1.1", "GET", p, httpmsg.NewHeaders(), nil),
			Response: httpmsg.NewResponse("HTTP/1.1", 200, "OK", httpmsg.NewHeaders(), nil),
		})
	}

	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(len(data) > 0, qt.IsTrue)

	reader := bus.NewReplayFileBus(path)
	first, err := reader.Next(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(first.Host, qt.Equals, "example.com")
	c.Assert(first.Scheme, qt.Equals, layer.SchemeHTTPS)
	c.Assert(first.Request.Path, qt.Equals, "/a")

	second, err := reader.Next(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(second.Request.Path, qt.Equals, "/b")

	_, err = reader.Next(context.Background())
	c.Assert(errors.Is(err, io.EOF), qt.IsTrue)
}

func TestReplayFileBusMissingFile(t *testing.T) {
	c := qt.New(t)

	reader := bus.NewReplayFileBus(filepath.Join(t.TempDir(), "missing.jsonl"))
	_, err := reader.Next(context.Background())
	c.Assert(err, qt.IsNotNil)
}
