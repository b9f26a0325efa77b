package sources

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func certPEM(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestValidateKeepsGoodDropsBad(t *testing.T) {
	pemData := certPEM(t)

	raw := RawSources{
		InsecureSources: []string{"registry-dev.example.com:5500"},
		SourceAuthorities: map[string][]RawSourceAuthority{
			"good.example.com": {
				{Type: "Data", Data: base64.StdEncoding.EncodeToString(pemData)},
			},
			"bad.example.com": {
				{Type: "Data", Data: "not-base64!!"},
				{Type: "Bogus"},
			},
		},
	}

	s, dropped := Validate(raw)

	assert.True(t, s.IsInsecureSource("registry-dev.example.com:5500"))
	assert.False(t, s.IsInsecureSource("good.example.com"))

	cfg := s.TLSConfigFor("good.example.com")
	assert.NotNil(t, cfg.RootCAs)

	// Both bad entries are reported, and the host gets no pool.
	assert.Len(t, dropped, 2)
	for _, d := range dropped {
		assert.Equal(t, "bad.example.com", d.Host)
	}
	assert.Nil(t, s.TLSConfigFor("bad.example.com").RootCAs)
}

func TestValidatePathAuthority(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM(t), 0o600))

	raw := RawSources{
		SourceAuthorities: map[string][]RawSourceAuthority{
			"host.example.com": {{Type: "Path", Path: certFile}},
		},
	}
	s, dropped := Validate(raw)
	assert.Empty(t, dropped)
	assert.NotNil(t, s.TLSConfigFor("host.example.com").RootCAs)
}

func TestTLSConfigFor(t *testing.T) {
	s, _ := Validate(RawSources{InsecureSources: []string{"sketchy.example.com"}})

	assert.True(t, s.TLSConfigFor("sketchy.example.com").InsecureSkipVerify)
	assert.False(t, s.TLSConfigFor("other.example.com").InsecureSkipVerify)

	// nil Sources still yields a usable hardened config
	var none *Sources
	cfg := none.TLSConfigFor("any.example.com")
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")

	doc := `insecure_sources:
  - "registry-dev.example.com:5500"
source_authorities:
  "host.example.com":
    - type: Data
      data: ` + base64.StdEncoding.EncodeToString(certPEM(t)) + "\n"

	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.True(t, s.IsInsecureSource("registry-dev.example.com:5500"))
	assert.NotNil(t, s.TLSConfigFor("host.example.com").RootCAs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
