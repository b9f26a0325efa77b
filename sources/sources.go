// Package sources handles trust-source configuration for policy
// downloads: hosts that may be contacted without TLS verification and
// per-host custom certificate authorities.
//
// The configuration document is YAML:
//
//	insecure_sources:
//	  - "registry-dev.example.com:5500"
//	source_authorities:
//	  "registry-pre.example.com":
//	    - type: Data
//	      data: <base64-encoded PEM certificate>
//	    - type: Path
//	      path: /etc/ssl/corp-ca.pem
//
// Like the Docker credential configuration, the document is parsed in
// two stages: a tolerant raw shape, then strict per-entry validation
// that drops broken entries instead of failing the whole document.
package sources

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/wasmguard/policy-fetcher/netutil"
)

// RawSourceAuthority is one unvalidated certificate entry.
type RawSourceAuthority struct {
	Type string `yaml:"type"`
	Data string `yaml:"data,omitempty"`
	Path string `yaml:"path,omitempty"`
}

// RawSources is the unvalidated shape of the sources document.
type RawSources struct {
	InsecureSources   []string                        `yaml:"insecure_sources"`
	SourceAuthorities map[string][]RawSourceAuthority `yaml:"source_authorities"`
}

// DroppedAuthority records a certificate entry discarded during
// validation, with the reason it was rejected.
type DroppedAuthority struct {
	Host   string
	Reason error
}

// Sources is the validated trust-source configuration.
type Sources struct {
	insecure    map[string]struct{}
	authorities map[string]*x509.CertPool
}

// Validate converts a raw document into validated Sources. Entries that
// fail validation are dropped and reported, never fatal.
func Validate(raw RawSources) (*Sources, []DroppedAuthority) {
	s := &Sources{
		insecure:    make(map[string]struct{}, len(raw.InsecureSources)),
		authorities: make(map[string]*x509.CertPool),
	}
	for _, host := range raw.InsecureSources {
		s.insecure[host] = struct{}{}
	}

	var dropped []DroppedAuthority
	for host, entries := range raw.SourceAuthorities {
		pool := x509.NewCertPool()
		valid := 0
		for _, entry := range entries {
			pem, err := entry.certificatePEM()
			if err != nil {
				dropped = append(dropped, DroppedAuthority{Host: host, Reason: err})
				continue
			}
			if !pool.AppendCertsFromPEM(pem) {
				dropped = append(dropped, DroppedAuthority{
					Host:   host,
					Reason: fmt.Errorf("no PEM certificate found in %s entry", entry.Type),
				})
				continue
			}
			valid++
		}
		if valid > 0 {
			s.authorities[host] = pool
		}
	}

	return s, dropped
}

func (a RawSourceAuthority) certificatePEM() ([]byte, error) {
	switch a.Type {
	case "Data":
		pem, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 certificate data: %w", err)
		}
		return pem, nil
	case "Path":
		pem, err := os.ReadFile(a.Path)
		if err != nil {
			return nil, fmt.Errorf("read certificate file: %w", err)
		}
		return pem, nil
	default:
		return nil, fmt.Errorf("unknown source authority type %q", a.Type)
	}
}

// Load reads and validates a sources document from disk. Dropped
// entries are logged through the given logger (slog.Default when nil).
func Load(path string, logger *slog.Logger) (*Sources, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var raw RawSources
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}

	s, dropped := Validate(raw)
	for _, d := range dropped {
		logger.Warn("ignoring invalid source authority entry",
			"host", d.Host, "error", d.Reason)
	}
	return s, nil
}

// IsInsecureSource reports whether the host (host or host:port, as it
// appears in the URI authority) was listed as an insecure source.
func (s *Sources) IsInsecureSource(host string) bool {
	if s == nil {
		return false
	}
	_, ok := s.insecure[host]
	return ok
}

// TLSConfigFor returns the TLS configuration for connecting to host:
// skip-verify for insecure sources, a custom root pool for hosts with
// configured authorities, and the hardened default otherwise.
func (s *Sources) TLSConfigFor(host string) *tls.Config {
	if s == nil {
		return netutil.TLSConfig()
	}
	if s.IsInsecureSource(host) {
		return netutil.InsecureTLSConfig()
	}
	if pool, ok := s.authorities[host]; ok {
		return netutil.TLSConfigWithRoots(pool)
	}
	return netutil.TLSConfig()
}
