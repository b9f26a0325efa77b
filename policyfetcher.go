// Package policyfetcher retrieves policy artifacts from local files,
// HTTP(S) servers and OCI registries, caching them on disk under a
// deterministic per-URI path.
//
// The single entry point is Fetch:
//
//	path, err := policyfetcher.Fetch(ctx,
//		"registry://ghcr.io/example/policies/safe-labels:v1.0.0",
//		policyfetcher.MainStore(),
//		policyfetcher.WithDockerConfig(cfg))
//
// Fetched artifacts land in the store unless the caller asks for an
// explicit local file. Cached artifacts are reused except for registry
// URIs tagged "latest", which are always re-pulled.
package policyfetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/wasmguard/policy-fetcher/registry"
	"github.com/wasmguard/policy-fetcher/sources"
	"github.com/wasmguard/policy-fetcher/store"
)

type destinationKind int

const (
	destinationMainStore destinationKind = iota
	destinationStore
	destinationLocalFile
)

// PullDestination selects where a fetched policy lands. Values are
// built with MainStore, CustomStore or LocalFile and are immutable.
type PullDestination struct {
	kind destinationKind
	path string
}

// MainStore stores the policy under the process-default store root.
func MainStore() PullDestination {
	return PullDestination{kind: destinationMainStore}
}

// CustomStore stores the policy under an explicit store root, using the
// same path-mapping rules as the main store.
func CustomStore(root string) PullDestination {
	return PullDestination{kind: destinationStore, path: root}
}

// LocalFile bypasses the store. If path is an existing directory the
// policy is written inside it, named after the URI's final path
// segment; otherwise path is used verbatim.
func LocalFile(path string) PullDestination {
	return PullDestination{kind: destinationLocalFile, path: path}
}

// Option configures a Fetch call.
type Option func(*options)

type options struct {
	dockerConfig *registry.DockerConfig
	sources      *sources.Sources
	logger       *slog.Logger
	fetcherFor   func(scheme string, logger *slog.Logger) (Fetcher, error)
}

// WithDockerConfig supplies registry credentials.
func WithDockerConfig(cfg *registry.DockerConfig) Option {
	return func(o *options) {
		o.dockerConfig = cfg
	}
}

// WithSources supplies trust-source configuration: insecure hosts and
// per-host certificate authorities.
func WithSources(srcs *sources.Sources) Option {
	return func(o *options) {
		o.sources = srcs
	}
}

// WithLogger sets the logger used for progress and diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:     slog.Default(),
		fetcherFor: urlFetcher,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Fetch retrieves the policy identified by rawURL and returns the
// absolute local path it can be read from.
//
// file URIs short-circuit: the encoded path is returned directly with
// no store interaction. http and https URIs reuse an existing file at
// the destination. registry URIs do too, unless the tag is "latest",
// which always re-pulls.
func Fetch(ctx context.Context, rawURL string, destination PullDestination, opts ...Option) (string, error) {
	return fetch(ctx, rawURL, destination, newOptions(opts))
}

func fetch(ctx context.Context, rawURL string, destination PullDestination, o *options) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURI, rawURL, err)
	}

	switch u.Scheme {
	case SchemeFile:
		return fileURLPath(u)
	case SchemeHTTP, SchemeHTTPS, SchemeRegistry:
	default:
		return "", &UnsupportedSchemeError{Scheme: u.Scheme}
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURI, rawURL)
	}

	policyStore, dest, err := pullDestination(u, destination)
	if err != nil {
		return "", err
	}

	if policyStore != nil {
		prefix, err := policyStore.PolicyPath(u, store.PrefixOnly)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
		}
		if err := policyStore.Ensure(prefix); err != nil {
			return "", &StoreIOError{Path: prefix, Err: err}
		}
	}

	// Serialize concurrent pulls of the same destination. The lock file
	// lives next to the artifact and is left behind after the pull.
	unlock, err := lockDestination(ctx, dest)
	if err != nil {
		return "", &StoreIOError{Path: dest, Err: err}
	}
	defer unlock()

	if reuseExisting(u, dest) {
		return dest, nil
	}

	o.logger.Info("pulling policy", "uri", rawURL, "destination", dest)

	fetcher, err := o.fetcherFor(u.Scheme, o.logger)
	if err != nil {
		return "", err
	}
	if err := fetcher.Fetch(ctx, u, dest, o.sources, o.dockerConfig); err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}

	return dest, nil
}

// pullDestination resolves the final on-disk path for a policy, plus
// the store handle when one is involved.
func pullDestination(u *url.URL, destination PullDestination) (*store.Store, string, error) {
	switch destination.kind {
	case destinationMainStore:
		return storeDestination(store.Default(), u)
	case destinationStore:
		return storeDestination(store.New(destination.path), u)
	case destinationLocalFile:
		if info, err := os.Stat(destination.path); err == nil && info.IsDir() {
			segments := strings.Split(u.Path, "/")
			filename := segments[len(segments)-1]
			if filename == "" {
				return nil, "", fmt.Errorf("%w: %q has no filename to store under %s",
					ErrInvalidURI, u.String(), destination.path)
			}
			return nil, filepath.Join(destination.path, filename), nil
		}
		return nil, destination.path, nil
	default:
		return nil, "", fmt.Errorf("unknown pull destination kind %d", destination.kind)
	}
}

func storeDestination(s *store.Store, u *url.URL) (*store.Store, string, error) {
	policyPath, err := s.PolicyPath(u, store.PrefixAndFilename)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	return s, policyPath, nil
}

// reuseExisting decides whether an existing file at dest satisfies the
// request. Registry URIs tagged "latest" always re-pull.
func reuseExisting(u *url.URL, dest string) bool {
	if _, err := os.Stat(dest); err != nil {
		return false
	}
	if u.Scheme == SchemeRegistry {
		return registryTag(u) != "latest"
	}
	return true
}

// registryTag extracts the trailing ":tag" segment of a registry URI.
// Untagged URIs yield the text after the last colon of the authority,
// never "latest".
func registryTag(u *url.URL) string {
	parts := strings.Split(u.String(), ":")
	return parts[len(parts)-1]
}

// fileURLPath converts a file URI to a filesystem path.
func fileURLPath(u *url.URL) (string, error) {
	if u.Opaque != "" {
		return "", fmt.Errorf("%w: %q is not an absolute file URI", ErrInvalidURI, u.String())
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("%w: cannot retrieve path from URI %q: unsupported host %q",
			ErrInvalidURI, u.String(), u.Host)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%w: %q has an empty path", ErrInvalidURI, u.String())
	}
	return filepath.FromSlash(u.Path), nil
}

func lockDestination(ctx context.Context, dest string) (func(), error) {
	fileLock := flock.New(dest + ".lock")
	locked, err := fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fileLock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", fileLock.Path())
	}
	return func() {
		_ = fileLock.Unlock()
	}, nil
}
