package http1_test

import (
	"context"
	"net"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/httpmsg"
	"github.com/denisvmedia/relaymitm/internal/stream"
	"github.com/denisvmedia/relaymitm/proto/http1"
)

func TestReadRequestWithContentLength(t *testing.T) {
	c := qt.New(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := stream.New(serverConn)
	conn := http1.NewConn(s, http1.RoleServer)

	go func() {
		_, _ = clientConn.Write([]byte("GET /a HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	req, err := conn.ReadRequest(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(req.Method, qt.Equals, "GET")
	c.Assert(req.Path, qt.Equals, "/a")
	c.Assert(string(req.Body), qt.Equals, "hello")
	c.Assert(req.Headers.Get("Host"), qt.Equals, "example.com")
	c.Assert(conn.Closed(), qt.IsFalse)
}

func TestReadRequestConnectionClose(t *testing.T) {
	c := qt.New(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := stream.New(serverConn)
	conn := http1.NewConn(s, http1.RoleServer)

	go func() {
		_, _ = clientConn.Write([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n"))
	}()

	_, err := conn.ReadRequest(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(conn.Closed(), qt.IsTrue)
}

func TestReadResponseSwitchingProtocolsIsInfo(t *testing.T) {
	c := qt.New(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := stream.New(serverConn)
	conn := http1.NewConn(s, http1.RoleClient)

	go func() {
		_, _ = clientConn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n"))
	}()

	resp, isInfo, err := conn.ReadResponse(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(isInfo, qt.IsTrue)
	c.Assert(resp.Code, qt.Equals, 101)
}

func TestWriteRequestRoundTrip(t *testing.T) {
	c := qt.New(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientSide := stream.New(clientConn)
	serverSide := stream.New(serverConn)

	writer := http1.NewConn(clientSide, http1.RoleClient)
	reader := http1.NewConn(serverSide, http1.RoleServer)

	req := httpmsg.NewRequest("HTTP/1.1", "GET", "/b", httpmsg.NewHeaders("Host", "x"), nil)
	go func() { _ = writer.WriteRequest(context.Background(), req) }()

	got, err := reader.ReadRequest(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(got.Method, qt.Equals, "GET")
	c.Assert(got.Path, qt.Equals, "/b")
}

func TestChunkedBody(t *testing.T) {
	c := qt.New(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := stream.New(serverConn)
	conn := http1.NewConn(s, http1.RoleServer)

	go func() {
		_, _ = clientConn.Write([]byte(
			"POST /c HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
				"5\r\nhello\r\n0\r\n\r\n"))
	}()

	req, err := conn.ReadRequest(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(string(req.Body), qt.Equals, "hello")
}
