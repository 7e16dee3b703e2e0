// Package http1 is the incremental HTTP/1.1 protocol engine that drives
// framing for Http1Layer. It is a from-scratch reader/writer over a
// stream.ByteStream (not net/http), because the layer abstraction needs
// explicit suspension points at exactly the ByteStream operations, which
// net/http.Server/Transport cannot be driven through: an h11-style engine
// exposing explicit ReadRequest/WriteRequest/ReadResponse/WriteResponse
// steps instead of a single blocking RoundTrip.
package http1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/internal/stream"
)

// Role distinguishes which side of the connection this Conn speaks for,
// mirroring h11.SERVER / h11.CLIENT in the original.
type Role int

const (
	// RoleServer reads requests and writes responses (source-facing side).
	RoleServer Role = iota
	// RoleClient writes requests and reads responses (destination-facing side).
	RoleClient
)

// ErrMalformed indicates the peer sent bytes that don't parse as HTTP/1.1.
var ErrMalformed = errors.New("http1: malformed message")

const maxHeaderBytes = 64 * 1024

// Conn is one side of an HTTP/1.1 connection, reading/writing messages
// one cycle at a time.
type Conn struct {
	s         *stream.ByteStream
	role      Role
	closeSeen bool // Connection: close / HTTP/1.0-without-keepalive observed
}

// NewConn wraps s as either the server or client role.
func NewConn(s *stream.ByteStream, role Role) *Conn {
	return &Conn{s: s, role: role}
}

// Closed reports whether the last message processed on this Conn means
// the underlying connection should not be reused for another cycle.
func (c *Conn) Closed() bool {
	return c.closeSeen
}

// StartNextCycle resets per-cycle state (there is none beyond closeSeen,
// which is sticky for the remaining lifetime of the Conn).
func (c *Conn) StartNextCycle() {}

// ReadRequest blocks until a full request (headers + body) has been read.
func (c *Conn) ReadRequest(ctx context.Context) (*httpmsg.Request, error) {
	line, err := c.s.ReadUntil(ctx, []byte("\r\n"), maxHeaderBytes)
	if err != nil {
		return nil, err
	}
	method, path, version, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}
	headers, err := c.readHeaders(ctx)
	if err != nil {
		return nil, err
	}
	c.noteConnectionHeader(version, headers)
	body, err := c.readBody(ctx, headers, true)
	if err != nil {
		return nil, err
	}
	return httpmsg.NewRequest(version, method, path, headers, body), nil
}

// ReadResponse blocks until a full response has been read. isInfo
// reports whether this was a 1xx informational response (including
// 101), in which case body is always empty and no further response is
// read; whether another one follows is for the caller to decide.
func (c *Conn) ReadResponse(ctx context.Context) (resp *httpmsg.Response, isInfo bool, err error) {
	line, err := c.s.ReadUntil(ctx, []byte("\r\n"), maxHeaderBytes)
	if err != nil {
		return nil, false, err
	}
	version, code, reason, err := parseStatusLine(line)
	if err != nil {
		return nil, false, err
	}
	headers, err := c.readHeaders(ctx)
	if err != nil {
		return nil, false, err
	}
	if code >= 100 && code < 200 {
		return httpmsg.NewResponse(version, code, reason, headers, nil), true, nil
	}
	c.noteConnectionHeader(version, headers)
	body, err := c.readBody(ctx, headers, false)
	if err != nil {
		return nil, false, err
	}
	return httpmsg.NewResponse(version, code, reason, headers, body), false, nil
}

// WriteRequest serializes and writes req, with its framing headers
// replaced as writeHeaders describes.
func (c *Conn) WriteRequest(ctx context.Context, req *httpmsg.Request) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", req.Method, req.Path, req.Version)
	writeHeaders(&buf, req.Headers, len(req.Body))
	buf.Write(req.Body)
	return c.s.Write(ctx, buf.Bytes())
}

// WriteResponse serializes and writes resp, with its framing headers
// replaced as writeHeaders describes.
func (c *Conn) WriteResponse(ctx context.Context, resp *httpmsg.Response) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s\r\n", resp.Version, resp.Code, resp.Reason)
	writeHeaders(&buf, resp.Headers, len(resp.Body))
	buf.Write(resp.Body)
	return c.s.Write(ctx, buf.Bytes())
}

// WriteInfoResponse writes a 1xx response with no body and no framing
// headers beyond whatever the caller already set (e.g. Upgrade).
func (c *Conn) WriteInfoResponse(ctx context.Context, resp *httpmsg.Response) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s\r\n", resp.Version, resp.Code, resp.Reason)
	for _, h := range resp.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf.WriteString("\r\n")
	return c.s.Write(ctx, buf.Bytes())
}

func (c *Conn) readHeaders(ctx context.Context) (httpmsg.Headers, error) {
	var headers httpmsg.Headers
	for {
		line, err := c.s.ReadUntil(ctx, []byte("\r\n"), maxHeaderBytes)
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSuffix(line, []byte("\r\n"))
		if len(line) == 0 {
			return headers, nil
		}
		name, value, ok := strings.Cut(string(line), ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformed, line)
		}
		headers = headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
}

func (c *Conn) readBody(ctx context.Context, headers httpmsg.Headers, isRequest bool) ([]byte, error) {
	if strings.EqualFold(headers.Get("Transfer-Encoding"), "chunked") {
		return c.readChunkedBody(ctx, headers)
	}
	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad Content-Length %q", ErrMalformed, cl)
		}
		if n == 0 {
			return nil, nil
		}
		return c.s.ReadExact(ctx, n)
	}
	if isRequest {
		// No framing header on a request body means no body (GET/HEAD/etc).
		return nil, nil
	}
	// Response with no length framing: body runs to connection close.
	c.closeSeen = true
	return c.s.ReadUntilClose(ctx, nil)
}

func (c *Conn) readChunkedBody(ctx context.Context, trailerHeaders httpmsg.Headers) ([]byte, error) {
	var body []byte
	for {
		sizeLine, err := c.s.ReadUntil(ctx, []byte("\r\n"), 64)
		if err != nil {
			return nil, err
		}
		sizeStr, _, _ := strings.Cut(strings.TrimSpace(string(sizeLine)), ";")
		size, err := strconv.ParseInt(sizeStr, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad chunk size %q", ErrMalformed, sizeStr)
		}
		if size == 0 {
			// trailer section, terminated by an empty line.
			for {
				line, err := c.s.ReadUntil(ctx, []byte("\r\n"), maxHeaderBytes)
				if err != nil {
					return nil, err
				}
				if len(bytes.TrimSuffix(line, []byte("\r\n"))) == 0 {
					return body, nil
				}
			}
		}
		chunk, err := c.s.ReadExact(ctx, int(size))
		if err != nil {
			return nil, err
		}
		body = append(body, chunk...)
		if _, err := c.s.ReadExact(ctx, 2); err != nil { // trailing CRLF
			return nil, err
		}
	}
}

func (c *Conn) noteConnectionHeader(version string, headers httpmsg.Headers) {
	conn := strings.ToLower(headers.Get("Connection"))
	switch {
	case conn == "close":
		c.closeSeen = true
	case conn == "keep-alive":
		// explicit keep-alive always wins.
	case version == "HTTP/1.0":
		c.closeSeen = true
	}
}

// writeHeaders re-emits headers verbatim except Content-Length and
// Transfer-Encoding, which it always drops: the body the caller is about
// to write is already a fully decoded flat []byte (readChunkedBody
// de-chunks on read), so a carried-over "Transfer-Encoding: chunked"
// header would claim chunked framing over raw bytes. A fresh
// Content-Length reflecting the actual decoded body length is written
// instead, regardless of how the original message was framed on the
// wire.
func writeHeaders(buf *bytes.Buffer, headers httpmsg.Headers, bodyLen int) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Content-Length") || strings.EqualFold(h.Name, "Transfer-Encoding") {
			continue
		}
		fmt.Fprintf(buf, "%s: %s\r\n", h.Name, h.Value)
	}
	if bodyLen >= 0 {
		fmt.Fprintf(buf, "Content-Length: %d\r\n", bodyLen)
	}
	buf.WriteString("\r\n")
}

func parseRequestLine(line []byte) (method, path, version string, err error) {
	parts := strings.Fields(strings.TrimSuffix(string(line), "\r\n"))
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: bad request line %q", ErrMalformed, line)
	}
	return parts[0], parts[1], parts[2], nil
}

func parseStatusLine(line []byte) (version string, code int, reason string, err error) {
	s := strings.TrimSuffix(string(line), "\r\n")
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("%w: bad status line %q", ErrMalformed, line)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("%w: bad status code in %q", ErrMalformed, line)
	}
	reason = ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return parts[0], code, reason, nil
}
