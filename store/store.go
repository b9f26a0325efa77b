// Package store implements the local policy store: a deterministic
// mapping from policy URIs to filesystem paths under a root directory,
// plus directory materialization for those paths.
//
// The on-disk layout is part of the tool's compatibility surface:
//
//	<root>/<scheme>/<host>[:<port>]/<uri-path>
//
// For registry URIs the trailing ":tag" stays in the filename.
package store

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// PolicyPath selects how much of the computed path is returned.
type PolicyPath int

const (
	// PrefixOnly returns the path with the final segment removed. Used
	// to pre-create parent directories before a fetch.
	PrefixOnly PolicyPath = iota

	// PrefixAndFilename returns the full artifact path.
	PrefixAndFilename
)

// Store computes local paths for policies and materializes their parent
// directories. It holds no other state: two stores with the same root
// are interchangeable, and it keeps no record of what has been fetched.
type Store struct {
	// Root is the base directory of the store.
	Root string
}

// New creates a store rooted at the given directory.
func New(root string) *Store {
	return &Store{Root: root}
}

// Default returns the store rooted at the OS-standard cache directory.
func Default() *Store {
	return New(DefaultRoot())
}

// DefaultRoot returns the process-default store root.
func DefaultRoot() string {
	return filepath.Join(xdg.CacheHome, "policy-fetcher", "store")
}

// PolicyFullPath maps a policy URI to its path inside the store.
func (s *Store) PolicyFullPath(rawURL string, mode PolicyPath) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("cannot parse policy URI %q: %w", rawURL, err)
	}
	return s.policyPath(u, mode)
}

// PolicyPath maps an already-parsed policy URI to its path inside the store.
func (s *Store) PolicyPath(u *url.URL, mode PolicyPath) (string, error) {
	return s.policyPath(u, mode)
}

func (s *Store) policyPath(u *url.URL, mode PolicyPath) (string, error) {
	if u.Scheme == "" {
		return "", fmt.Errorf("policy URI %q has no scheme", u.String())
	}
	if u.Host == "" {
		return "", fmt.Errorf("policy URI %q has no host", u.String())
	}

	// u.Host carries the port only when the URI did, matching the
	// layout's <host>[:<port>] segment.
	elements := []string{s.Root, u.Scheme, u.Host}
	elements = append(elements, strings.Split(strings.TrimPrefix(u.Path, "/"), "/")...)

	if mode == PrefixOnly {
		elements = elements[:len(elements)-1]
	}

	return filepath.Join(elements...), nil
}

// Ensure creates the given directory and any missing parents.
func (s *Store) Ensure(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
