// Package intercept implements the TLS intercept (MITM) proxy that
// captures upstream LLM API traffic for attribution. It terminates CONNECT
// tunnels, mints a leaf certificate on the fly for the requested host
// signed by a proxy-owned root CA, and hands the decrypted stream to the
// capture pipeline before relaying it onward.
//
// Certificate minting is deliberately built on crypto/x509 and
// crypto/ecdsa directly rather than a third-party helper — see DESIGN.md
// for why no library in the reference corpus fits this concern.
package intercept

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CA holds the proxy's self-signed root certificate authority, used to
// sign per-host leaf certificates on demand.
type CA struct {
	cert    *x509.Certificate
	certRaw []byte
	key     *ecdsa.PrivateKey

	mu    sync.Mutex
	cache map[string]*tls.Certificate
}

// NewCA generates a fresh root CA valid for validFor. A real deployment
// would persist and reuse the root across restarts so clients only need
// to trust it once; this proxy exposes the root's PEM via ExportRootPEM
// for that purpose.
func NewCA(organization string, validFor time.Duration) (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("intercept: generating CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   organization + " Intercept Root",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validFor),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	raw, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("intercept: self-signing CA: %w", err)
	}

	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("intercept: parsing generated CA: %w", err)
	}

	return &CA{
		cert:    cert,
		certRaw: raw,
		key:     key,
		cache:   make(map[string]*tls.Certificate),
	}, nil
}

// ExportRootPEM returns the root CA certificate encoded as PEM, for
// operators to install into a client trust store.
func (ca *CA) ExportRootPEM() []byte {
	return pemEncodeCert(ca.certRaw)
}

// LeafFor mints (or returns a cached) leaf certificate for host, signed by
// this CA, valid for the SNI name presented during a CONNECT tunnel.
func (ca *CA) LeafFor(host string) (*tls.Certificate, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if cached, ok := ca.cache[host]; ok && leafStillValid(cached) {
		return cached, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("intercept: generating leaf key for %s: %w", host, err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	raw, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("intercept: signing leaf for %s: %w", host, err)
	}

	leaf := &tls.Certificate{
		Certificate: [][]byte{raw, ca.certRaw},
		PrivateKey:  key,
	}
	leaf.Leaf, _ = x509.ParseCertificate(raw)

	ca.cache[host] = leaf
	return leaf, nil
}

func leafStillValid(cert *tls.Certificate) bool {
	if cert.Leaf == nil {
		return false
	}
	return time.Now().Before(cert.Leaf.NotAfter.Add(-time.Hour))
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("intercept: generating serial: %w", err)
	}
	return serial, nil
}
