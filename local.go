package policyfetcher

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/wasmguard/policy-fetcher/registry"
	"github.com/wasmguard/policy-fetcher/sources"
	"github.com/wasmguard/policy-fetcher/store"
)

// Local handles file URIs. Fetch normally short-circuits these before
// dispatch, so Local only runs when a caller drives a Fetcher directly;
// it copies the source file to the destination.
type Local struct{}

// Fetch copies the file named by u to destination.
func (l *Local) Fetch(_ context.Context, u *url.URL, destination string, _ *sources.Sources, _ *registry.DockerConfig) error {
	src, err := fileURLPath(u)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open policy file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := store.WriteFile(destination, f); err != nil {
		return fmt.Errorf("copy policy file to %s: %w", destination, err)
	}
	return nil
}
