package httpmsg

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Request is an immutable snapshot of an HTTP request, as seen on the wire.
type Request struct {
	Timestamp int64
	Version   string
	Method    string
	Path      string
	Headers   Headers
	Body      []byte
}

// NewRequest builds a Request stamped with the current time, mirroring
// HttpRequest.__init__'s int(time.time()) in the original.
func NewRequest(version, method, path string, headers Headers, body []byte) *Request {
	return &Request{
		Timestamp: time.Now().Unix(),
		Version:   version,
		Method:    method,
		Path:      path,
		Headers:   headers,
		Body:      body,
	}
}

// Clone returns a deep copy, used by the interceptor before handing a
// request to the plugin chain.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Request{
		Timestamp: r.Timestamp,
		Version:   r.Version,
		Method:    r.Method,
		Path:      r.Path,
		Headers:   r.Headers.Clone(),
		Body:      body,
	}
}

type requestWire struct {
	Timestamp int64      `json:"timestamp"`
	Version   string     `json:"version"`
	Method    string     `json:"method"`
	Path      string     `json:"path"`
	Body      string     `json:"body"`
	Headers   [][2]string `json:"headers"`
}

// MarshalJSON implements the ViewerContext.request wire schema from spec.md §6.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestWire{
		Timestamp: r.Timestamp,
		Version:   r.Version,
		Method:    r.Method,
		Path:      r.Path,
		Body:      base64.StdEncoding.EncodeToString(r.Body),
		Headers:   r.Headers.List(),
	})
}

// UnmarshalJSON implements the ViewerContext.request wire schema from spec.md §6.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := base64.StdEncoding.DecodeString(w.Body)
	if err != nil {
		return err
	}
	r.Timestamp = w.Timestamp
	r.Version = w.Version
	r.Method = w.Method
	r.Path = w.Path
	r.Body = body
	r.Headers = FromList(w.Headers)
	return nil
}
