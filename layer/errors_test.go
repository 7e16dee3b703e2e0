package layer_test

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/relaymitm/layer"
)

func TestErrorWrapsAndUnwraps(t *testing.T) {
	c := qt.New(t)

	base := errors.New("boom")
	err := layer.ProtocolError(base)

	c.Assert(errors.Is(err, base), qt.IsTrue)
	c.Assert(err.Error() != "", qt.IsTrue)
}

func TestKindOfClassifiesEachConstructor(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		name string
		err  error
		want layer.Kind
	}{
		{"protocol", layer.ProtocolError(errors.New("x")), layer.KindProtocol},
		{"src_closed", layer.SrcStreamClosedError(errors.New("x")), layer.KindSrcStreamClosed},
		{"dest_closed", layer.DestStreamClosedError(errors.New("x")), layer.KindDestStreamClosed},
		{"dest_not_connected", layer.DestNotConnectedError(errors.New("x")), layer.KindDestNotConnected},
		{"tls", layer.TLSError(errors.New("x")), layer.KindTLS},
		{"timeout", layer.TimeoutError(errors.New("x")), layer.KindTimeout},
		{"unhandled", layer.UnhandledError(errors.New("x")), layer.KindUnhandled},
	}

	for _, tc := range cases {
		c.Assert(layer.KindOf(tc.err), qt.Equals, tc.want, qt.Commentf("case %s", tc.name))
	}
}

func TestKindOfOnPlainErrorIsUnhandled(t *testing.T) {
	c := qt.New(t)
	c.Assert(layer.KindOf(errors.New("plain")), qt.Equals, layer.KindUnhandled)
}
