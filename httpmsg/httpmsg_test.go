package httpmsg_test

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/httpmsg"
)

func TestRequestJSONRoundTrip(t *testing.T) {
	c := qt.New(t)

	req := httpmsg.NewRequest("HTTP/1.1", "GET", "/a",
		httpmsg.NewHeaders("Host", "example.com", "Host", "example.com"), []byte("body"))

	data, err := json.Marshal(req)
	c.Assert(err, qt.IsNil)

	var got httpmsg.Request
	c.Assert(json.Unmarshal(data, &got), qt.IsNil)

	c.Assert(got.Method, qt.Equals, req.Method)
	c.Assert(got.Path, qt.Equals, req.Path)
	c.Assert(got.Version, qt.Equals, req.Version)
	c.Assert(got.Body, qt.DeepEquals, req.Body)
	c.Assert(got.Headers, qt.DeepEquals, req.Headers)
	c.Assert(got.Timestamp, qt.Equals, req.Timestamp)
}

func TestResponseJSONRoundTrip(t *testing.T) {
	c := qt.New(t)

	resp := httpmsg.NewResponse("HTTP/1.1", 200, "OK",
		httpmsg.NewHeaders("Content-Length", "4"), []byte("body"))

	data, err := json.Marshal(resp)
	c.Assert(err, qt.IsNil)

	var got httpmsg.Response
	c.Assert(json.Unmarshal(data, &got), qt.IsNil)

	c.Assert(got.Code, qt.Equals, resp.Code)
	c.Assert(got.Reason, qt.Equals, resp.Reason)
	c.Assert(got.Body, qt.DeepEquals, resp.Body)
	c.Assert(got.Headers, qt.DeepEquals, resp.Headers)
}

func TestHeadersPreserveDuplicatesAndOrder(t *testing.T) {
	c := qt.New(t)
	h := httpmsg.NewHeaders("X-A", "1", "X-B", "2", "X-A", "3")
	c.Assert(h.Values("X-A"), qt.DeepEquals, []string{"1", "3"})
	c.Assert(h.Get("X-A"), qt.Equals, "1")
	c.Assert(h.List(), qt.DeepEquals, [][2]string{{"X-A", "1"}, {"X-B", "2"}, {"X-A", "3"}})
}

func TestHeadersSetReplacesAllMatches(t *testing.T) {
	c := qt.New(t)
	h := httpmsg.NewHeaders("X-A", "1", "X-B", "2", "X-A", "3")
	h = h.Set("X-A", "final")
	c.Assert(h.Values("X-A"), qt.DeepEquals, []string{"final"})
	c.Assert(len(h), qt.Equals, 2)
}
