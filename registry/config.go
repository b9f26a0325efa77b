// Package registry implements the OCI registry fetcher and the Docker
// credential configuration it authenticates with.
package registry

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/docker/docker-credential-helpers/client"
	"github.com/docker/docker-credential-helpers/credentials"
	orasregistry "oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// Sentinel errors for credential resolution.
var (
	// ErrInvalidReference is returned when an image reference cannot be
	// parsed during auth lookup.
	ErrInvalidReference = errors.New("invalid image reference")

	// ErrCredentialEncoding is returned when a credential cannot be
	// handed to the registry transport because it is not valid UTF-8.
	ErrCredentialEncoding = errors.New("credential is not valid UTF-8")

	// ErrHelperSpawn is returned when the credential helper cannot be
	// started.
	ErrHelperSpawn = errors.New("cannot run credential helper")

	// ErrHelperExit is returned when the credential helper exits with a
	// non-zero status. The wrapped message carries the helper's output.
	ErrHelperExit = errors.New("credential helper failed")

	// ErrHelperResponse is returned when the credential helper's output
	// cannot be parsed.
	ErrHelperResponse = errors.New("malformed credential helper response")
)

// RegistryAuth is a credential usable against a registry. BasicAuth is
// currently the only kind.
type RegistryAuth interface {
	// Credential converts the credential for the registry transport.
	Credential() (auth.Credential, error)
}

// BasicAuth is a username/password credential. Both fields are raw
// bytes: values decoded from the configuration file are not assumed to
// be valid text until they are handed to the transport.
type BasicAuth struct {
	Username []byte
	Password []byte
}

// Credential converts the credential for the registry transport. It
// fails if either field is not valid UTF-8.
func (a BasicAuth) Credential() (auth.Credential, error) {
	if !utf8.Valid(a.Username) {
		return auth.EmptyCredential, fmt.Errorf("%w: username", ErrCredentialEncoding)
	}
	if !utf8.Valid(a.Password) {
		return auth.EmptyCredential, fmt.Errorf("%w: password", ErrCredentialEncoding)
	}
	return auth.Credential{
		Username: string(a.Username),
		Password: string(a.Password),
	}, nil
}

// RawRegistryAuth is one unvalidated entry of the "auths" map.
//
// Auth is a pointer because the configuration must be read liberally: a
// tool or a user editing the file can leave a syntactically valid but
// semantically incomplete entry behind, and that must not poison the
// rest of the document.
type RawRegistryAuth struct {
	Auth *string `json:"auth"`
}

// RawDockerConfig is the unvalidated shape of a Docker config document.
// Unknown keys are ignored.
type RawDockerConfig struct {
	Auths      map[string]RawRegistryAuth `json:"auths"`
	CredsStore string                     `json:"credsStore"`
}

// DroppedAuth records an auths entry discarded during validation.
type DroppedAuth struct {
	Host   string
	Reason error
}

// DockerConfig is the validated credential configuration.
type DockerConfig struct {
	// Auths maps a registry host to its credential.
	Auths map[string]RegistryAuth

	// CredsStore names the credential helper suffix; the helper program
	// is docker-credential-<CredsStore>.
	CredsStore string

	// helperProgram overrides the helper subprocess in tests.
	helperProgram client.ProgramFunc
}

// ValidateConfig converts a raw document into a validated DockerConfig.
// Entries with an undecodable or malformed auth value are dropped and
// reported, never fatal. Entries with no auth value offer no credential
// and are skipped silently.
func ValidateConfig(raw RawDockerConfig) (*DockerConfig, []DroppedAuth) {
	cfg := &DockerConfig{
		Auths:      make(map[string]RegistryAuth, len(raw.Auths)),
		CredsStore: raw.CredsStore,
	}

	var dropped []DroppedAuth
	for host, entry := range raw.Auths {
		if entry.Auth == nil {
			continue
		}
		basicAuth, err := decodeBasicAuth(*entry.Auth)
		if err != nil {
			dropped = append(dropped, DroppedAuth{Host: host, Reason: err})
			continue
		}
		cfg.Auths[host] = basicAuth
	}

	return cfg, dropped
}

func decodeBasicAuth(encoded string) (BasicAuth, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return BasicAuth{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	parts := bytes.SplitN(decoded, []byte{':'}, 2)
	if len(parts) != 2 {
		return BasicAuth{}, errors.New("basic auth not in the form username:password")
	}
	return BasicAuth{Username: parts[0], Password: parts[1]}, nil
}

// LoadDockerConfig reads and validates a Docker config document from
// disk. Dropped entries are logged through the given logger
// (slog.Default when nil).
func LoadDockerConfig(path string, logger *slog.Logger) (*DockerConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read docker config: %w", err)
	}

	var raw RawDockerConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse docker config %s: %w", path, err)
	}

	cfg, dropped := ValidateConfig(raw)
	for _, d := range dropped {
		logger.Warn("error parsing host configuration, host ignored",
			"host", d.Host, "error", d.Reason)
	}
	return cfg, nil
}

// Auth looks up the credential for an image. The image may carry a
// leading "registry://" prefix. A missing entry is not an error: it
// returns a nil credential.
func (c *DockerConfig) Auth(image string) (RegistryAuth, error) {
	ref, err := orasregistry.ParseReference(strings.TrimPrefix(image, "registry://"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidReference, image, err)
	}
	return c.Auths[ref.Registry], nil
}

// CredentialHelperAuth asks the configured credential helper for the
// given registry host. It returns (nil, nil) when no helper is
// configured.
//
// Protocol: run docker-credential-<CredsStore> with the "get"
// subcommand, write the registry host to its standard input, and parse
// its standard output as a JSON document with Username and Secret
// fields. A non-zero exit surfaces the helper's raw output.
func (c *DockerConfig) CredentialHelperAuth(registryHost string) (RegistryAuth, error) {
	if c.CredsStore == "" {
		return nil, nil
	}

	helperName := "docker-credential-" + c.CredsStore
	programFunc := c.helperProgram
	if programFunc == nil {
		programFunc = client.NewShellProgramFunc(helperName)
	}

	program := programFunc("get")
	program.Input(strings.NewReader(registryHost))
	out, err := program.Output()
	if err != nil {
		if isSpawnError(err) {
			return nil, fmt.Errorf("%w %s: %v", ErrHelperSpawn, helperName, err)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrHelperExit, helperName, strings.TrimSpace(string(out)))
	}

	var response credentials.Credentials
	if err := json.Unmarshal(out, &response); err != nil {
		return nil, fmt.Errorf("%w from %s: %v", ErrHelperResponse, helperName, err)
	}

	return BasicAuth{
		Username: []byte(response.Username),
		Password: []byte(response.Secret),
	}, nil
}

// isSpawnError distinguishes "the helper could not be started" from
// "the helper ran and failed".
func isSpawnError(err error) bool {
	var exitErr interface{ ExitCode() int }
	return !errors.As(err, &exitErr)
}
