package layer

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/denisvmedia/relaymitm/internal/stream"
)

// TLSLayer performs the MITM TLS handshake: it sniffs the source
// ClientHello's SNI/ALPN via GetConfigForClient without ever touching the
// raw socket ourselves, dials upstream with a matching ALPN preference,
// completes that handshake to learn the negotiated protocol, mints an
// SNI-keyed leaf certificate, and only then completes the source
// handshake, channel-synchronizing the two handshakes via
// GetConfigForClient rather than dialing upstream eagerly.
type TLSLayer struct{}

func (l *TLSLayer) Kind() LayerKind { return LayerTLS }

func (l *TLSLayer) Run(ctx context.Context, lc *Context) (*Context, error) {
	if lc.Dest == nil {
		return lc, TLSError(errors.New("tls: no destination stream"))
	}

	chiCh := make(chan *tls.ClientHelloInfo, 1)
	negotiatedCh := make(chan string, 1)
	srcErrCh := make(chan error, 1)
	srcDone := make(chan struct{})

	var newSrc *stream.ByteStream
	go func() {
		defer close(srcDone)
		cfg := &tls.Config{
			SessionTicketsDisabled: true,
			GetConfigForClient: func(chi *tls.ClientHelloInfo) (*tls.Config, error) {
				chiCh <- chi
				proto, ok := <-negotiatedCh
				if !ok {
					return nil, errors.New("tls: upstream handshake failed")
				}
				leaf, err := lc.Config.CA.GetCert(chi.ServerName)
				if err != nil {
					return nil, err
				}
				var nextProtos []string
				if proto != "" {
					nextProtos = []string{proto}
				}
				return &tls.Config{
					Certificates: []tls.Certificate{*leaf},
					NextProtos:   nextProtos,
				}, nil
			},
		}
		s, err := lc.Src.StartTLS(ctx, true, cfg, "")
		if err != nil {
			srcErrCh <- err
			return
		}
		newSrc = s
	}()

	var chi *tls.ClientHelloInfo
	select {
	case chi = <-chiCh:
	case err := <-srcErrCh:
		return lc, TLSError(err)
	case <-ctx.Done():
		return lc, TLSError(ctx.Err())
	}

	destCfg := &tls.Config{ServerName: chi.ServerName}
	if len(chi.SupportedProtos) > 0 {
		destCfg.NextProtos = chi.SupportedProtos
	}

	newDest, err := lc.Dest.StartTLS(ctx, false, destCfg, chi.ServerName)
	if err != nil {
		close(negotiatedCh)
		<-srcDone
		return lc, TLSError(err)
	}

	negotiated := ""
	if tc, ok := newDest.Conn().(*tls.Conn); ok {
		negotiated = tc.ConnectionState().NegotiatedProtocol
	}
	negotiatedCh <- negotiated
	<-srcDone

	select {
	case err := <-srcErrCh:
		return lc, TLSError(err)
	default:
	}
	if newSrc == nil {
		return lc, TLSError(errors.New("tls: client handshake did not complete"))
	}

	lc.Src = newSrc
	lc.Dest = newDest
	if negotiated == "h2" {
		lc.Scheme = SchemeH2
	} else {
		lc.Scheme = SchemeHTTPS
	}
	return lc, nil
}
