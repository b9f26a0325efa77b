package policyfetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/wasmguard/policy-fetcher/netutil"
	"github.com/wasmguard/policy-fetcher/registry"
	"github.com/wasmguard/policy-fetcher/sources"
	"github.com/wasmguard/policy-fetcher/store"
)

// defaultMaxPolicySize caps a single policy download. Policies are
// WASM modules of a few megabytes; anything near this limit is broken
// or hostile.
const defaultMaxPolicySize int64 = 256 << 20 // 256 MiB

// Https downloads policies over HTTP and HTTPS.
type Https struct {
	logger *slog.Logger

	// MaxSize overrides the download size cap when positive.
	MaxSize int64
}

// Fetch downloads the policy at u and writes it atomically to
// destination. TLS behavior for the host comes from srcs.
func (h *Https) Fetch(ctx context.Context, u *url.URL, destination string, srcs *sources.Sources, _ *registry.DockerConfig) error {
	client := &http.Client{
		Transport: &netutil.RetryTransport{
			Base: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: srcs.TLSConfigFor(u.Host),
			},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", u.String(), err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", u.String(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", u.String(), resp.Status)
	}

	maxSize := h.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxPolicySize
	}

	body := netutil.NewLimitedReader(resp.Body, maxSize)
	if err := store.WriteFile(destination, body); err != nil {
		return fmt.Errorf("download %s: %w", u.String(), err)
	}

	if h.logger != nil {
		h.logger.Debug("policy downloaded",
			"uri", u.String(), "destination", destination, "bytes", body.BytesRead())
	}
	return nil
}
