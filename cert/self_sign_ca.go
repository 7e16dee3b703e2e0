package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
)

const (
	caCertFile = "relaymitm-ca-cert.pem"
	caKeyFile  = "relaymitm-ca-key.pem"

	leafCacheSize = 1024
	leafValidFor  = 365 * 24 * time.Hour
	rootValidFor  = 10 * 365 * 24 * time.Hour
)

// SelfSignCA is a self-signed root CA that mints per-SNI leaf certificates
// on demand: generate once, cache and reuse the SNI-keyed leaf, backed by
// a generated root instead of a fixed cert/key pair.
type SelfSignCA struct {
	storePath string

	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey

	cache   *lru.Cache
	group   *singleflight.Group
	cacheMu sync.Mutex
}

// NewSelfSignCA loads the root CA from path (a directory), generating and
// persisting one if none exists yet. An empty path uses a per-user default
// directory.
func NewSelfSignCA(path string) (CA, error) {
	storePath, err := getStorePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve cert store path: %w", err)
	}

	ca := &SelfSignCA{
		storePath: storePath,
		cache:     lru.New(leafCacheSize),
		group:     new(singleflight.Group),
	}

	if err := ca.loadOrGenerate(); err != nil {
		return nil, err
	}

	return ca, nil
}

func getStorePath(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".relaymitm")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create cert store dir %q: %w", path, err)
	}

	return path, nil
}

func (ca *SelfSignCA) caFile() string {
	return filepath.Join(ca.storePath, caCertFile)
}

func (ca *SelfSignCA) keyFile() string {
	return filepath.Join(ca.storePath, caKeyFile)
}

func (ca *SelfSignCA) loadOrGenerate() error {
	certPEM, certErr := os.ReadFile(ca.caFile())
	keyPEM, keyErr := os.ReadFile(ca.keyFile())
	if certErr == nil && keyErr == nil {
		return ca.loadFrom(certPEM, keyPEM)
	}

	if err := ca.generate(); err != nil {
		return err
	}

	f, err := os.OpenFile(ca.caFile(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open ca cert file: %w", err)
	}
	defer f.Close()
	if err := ca.saveTo(f); err != nil {
		return err
	}

	keyBytes := x509.MarshalPKCS1PrivateKey(ca.rootKey)
	keyBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyBytes}
	return os.WriteFile(ca.keyFile(), pem.EncodeToMemory(keyBlock), 0o600)
}

func (ca *SelfSignCA) loadFrom(certPEM, keyPEM []byte) error {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return errors.New("cert: invalid CA cert PEM")
	}
	rootCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("parse CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return errors.New("cert: invalid CA key PEM")
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("parse CA key: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

func (ca *SelfSignCA) generate() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate CA serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "relaymitm",
			Organization: []string{"relaymitm"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(rootValidFor),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA cert: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("parse generated CA cert: %w", err)
	}

	ca.rootCert = cert
	ca.rootKey = key
	return nil
}

// saveTo PEM-encodes the root CA certificate (not the key) to w.
func (ca *SelfSignCA) saveTo(w io.Writer) error {
	block := &pem.Block{Type: "CERTIFICATE", Bytes: ca.rootCert.Raw}
	return pem.Encode(w, block)
}

// GetRootCA returns the CA's own certificate, e.g. for export so clients
// can be made to trust it.
func (ca *SelfSignCA) GetRootCA() *x509.Certificate {
	return ca.rootCert
}

// GetCert mints (or returns a cached) leaf certificate valid for
// commonName, signed by the root CA.
func (ca *SelfSignCA) GetCert(commonName string) (*tls.Certificate, error) {
	ca.cacheMu.Lock()
	if val, ok := ca.cache.Get(commonName); ok {
		ca.cacheMu.Unlock()
		tlsCert, ok := val.(*tls.Certificate)
		if !ok {
			return nil, errors.New("cert: cached value is not a tls.Certificate")
		}
		return tlsCert, nil
	}
	ca.cacheMu.Unlock()

	val, err := ca.group.Do(commonName, func() (any, error) {
		leaf, err := ca.mint(commonName)
		if err != nil {
			return nil, err
		}
		ca.cacheMu.Lock()
		ca.cache.Add(commonName, leaf)
		ca.cacheMu.Unlock()
		return leaf, nil
	})
	if err != nil {
		return nil, err
	}

	tlsCert, ok := val.(*tls.Certificate)
	if !ok {
		return nil, errors.New("cert: minted value is not a tls.Certificate")
	}
	return tlsCert, nil
}

func (ca *SelfSignCA) mint(commonName string) (*tls.Certificate, error) {
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate leaf serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafValidFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &leafKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("create leaf cert: %w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse leaf cert: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, ca.rootCert.Raw},
		PrivateKey:  leafKey,
		Leaf:        leaf,
	}, nil
}
