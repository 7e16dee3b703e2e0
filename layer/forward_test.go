package layer_test

import (
	"context"
	"net"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/internal/stream"
	"github.com/denisvmedia/relaymitm/layer"
)

func TestForwardLayerRelaysBothDirections(t *testing.T) {
	c := qt.New(t)

	srcClient, srcProxy := net.Pipe()
	destProxy, destServer := net.Pipe()
	defer srcClient.Close()
	defer destServer.Close()

	lc := &layer.Context{
		Src:    stream.New(srcProxy),
		Dest:   stream.New(destProxy),
		Config: &layer.Config{},
	}

	fl := &layer.ForwardLayer{}
	done := make(chan struct{})
	go func() {
		_, _ = fl.Run(context.Background(), lc)
		close(done)
	}()

	go func() {
		_, _ = srcClient.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	_, err := readFull(destServer, buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf), qt.Equals, "ping")

	go func() {
		_, _ = destServer.Write([]byte("pong"))
	}()
	buf2 := make([]byte, 4)
	_, err = readFull(srcClient, buf2)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf2), qt.Equals, "pong")

	srcClient.Close()
	destServer.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		c.Fatal("ForwardLayer.Run did not return after both ends closed")
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
