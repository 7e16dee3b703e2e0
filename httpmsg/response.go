package httpmsg

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Response is an immutable snapshot of an HTTP response, as seen on the wire.
type Response struct {
	Timestamp int64
	Version   string
	Code      int
	Reason    string
	Headers   Headers
	Body      []byte
}

// NewResponse builds a Response stamped with the current time.
func NewResponse(version string, code int, reason string, headers Headers, body []byte) *Response {
	return &Response{
		Timestamp: time.Now().Unix(),
		Version:   version,
		Code:      code,
		Reason:    reason,
		Headers:   headers,
		Body:      body,
	}
}

// Clone returns a deep copy, used by the interceptor before handing a
// response to the plugin chain.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{
		Timestamp: r.Timestamp,
		Version:   r.Version,
		Code:      r.Code,
		Reason:    r.Reason,
		Headers:   r.Headers.Clone(),
		Body:      body,
	}
}

// IsInformational reports whether this is a 1xx response (including 101).
func (r *Response) IsInformational() bool {
	return r.Code >= 100 && r.Code < 200
}

type responseWire struct {
	Timestamp int64       `json:"timestamp"`
	Version   string      `json:"version"`
	Code      int         `json:"code"`
	Reason    string      `json:"reason"`
	Body      string      `json:"body"`
	Headers   [][2]string `json:"headers"`
}

// MarshalJSON implements the ViewerContext.response wire schema from spec.md §6.
func (r *Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(responseWire{
		Timestamp: r.Timestamp,
		Version:   r.Version,
		Code:      r.Code,
		Reason:    r.Reason,
		Body:      base64.StdEncoding.EncodeToString(r.Body),
		Headers:   r.Headers.List(),
	})
}

// UnmarshalJSON implements the ViewerContext.response wire schema from spec.md §6.
func (r *Response) UnmarshalJSON(data []byte) error {
	var w responseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := base64.StdEncoding.DecodeString(w.Body)
	if err != nil {
		return err
	}
	r.Timestamp = w.Timestamp
	r.Version = w.Version
	r.Code = w.Code
	r.Reason = w.Reason
	r.Body = body
	r.Headers = FromList(w.Headers)
	return nil
}
