// Package cert provides the certificate authority abstraction used to mint
// leaf certificates for TLS interception.
package cert

import (
	"crypto/tls"
	"crypto/x509"
)

// CA mints and caches leaf certificates for a given SNI/common name.
// TLSLayer calls GetCert on every intercepted handshake; implementations
// are expected to cache the result since minting is comparatively expensive.
type CA interface {
	// GetRootCA returns the certificate that signs leaves, so it can be
	// exported for the operator to trust.
	GetRootCA() *x509.Certificate
	// GetCert returns a leaf certificate valid for commonName, minting
	// and caching it on first use.
	GetCert(commonName string) (*tls.Certificate, error)
}
