// Package netutil provides the HTTP transport helpers shared by the
// download fetchers: TLS defaults, a retrying round-tripper, and a
// bounded reader for capping artifact downloads.
package netutil

import (
	"crypto/tls"
	"crypto/x509"
)

// TLSConfig returns the TLS configuration used for artifact downloads.
// TLS 1.2 is the minimum accepted version.
func TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
}

// TLSConfigWithRoots returns a TLSConfig that trusts the given CA pool
// in place of the system roots. A nil pool falls back to system roots.
func TLSConfigWithRoots(pool *x509.CertPool) *tls.Config {
	cfg := TLSConfig()
	cfg.RootCAs = pool
	return cfg
}

// InsecureTLSConfig returns a TLS configuration that skips certificate
// verification. Only used for hosts the caller explicitly listed as
// insecure sources.
func InsecureTLSConfig() *tls.Config {
	cfg := TLSConfig()
	cfg.InsecureSkipVerify = true
	return cfg
}
