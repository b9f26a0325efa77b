package policyfetcher

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/wasmguard/policy-fetcher/registry"
	"github.com/wasmguard/policy-fetcher/sources"
)

// Supported URI schemes.
const (
	SchemeFile     = "file"
	SchemeHTTP     = "http"
	SchemeHTTPS    = "https"
	SchemeRegistry = "registry"
)

// Fetcher downloads one policy to a local destination. Implementations
// own the transport for a single URI scheme and must never leave a
// partial file at the destination on failure.
type Fetcher interface {
	// Fetch retrieves the policy identified by u and writes it to
	// destination. srcs and dockerConfig may be nil.
	Fetch(ctx context.Context, u *url.URL, destination string, srcs *sources.Sources, dockerConfig *registry.DockerConfig) error
}

// urlFetcher selects the fetcher for a scheme. The set is closed: a new
// scheme requires a code change here, never a silent fallthrough.
func urlFetcher(scheme string, logger *slog.Logger) (Fetcher, error) {
	switch scheme {
	case SchemeFile:
		return &Local{}, nil
	case SchemeHTTP, SchemeHTTPS:
		return &Https{logger: logger}, nil
	case SchemeRegistry:
		return registry.NewRegistry(logger), nil
	default:
		return nil, &UnsupportedSchemeError{Scheme: scheme}
	}
}
