package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/memory"
	orasregistry "oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/wasmguard/policy-fetcher/netutil"
	"github.com/wasmguard/policy-fetcher/sources"
	"github.com/wasmguard/policy-fetcher/store"
)

// Media types of policy artifacts pushed to OCI registries.
const (
	// PolicyLayerMediaType is the layer holding the policy module.
	PolicyLayerMediaType = "application/vnd.wasm.content.layer.v1+wasm"

	// PolicyConfigMediaType is the artifact config media type.
	PolicyConfigMediaType = "application/vnd.wasm.config.v1+json"
)

// Registry fetches policies from OCI registries.
type Registry struct {
	logger *slog.Logger
}

// NewRegistry creates a registry fetcher. A nil logger means
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Fetch pulls the policy artifact referenced by u and writes its policy
// layer to dest. The write is atomic: a failed pull leaves no file at
// dest.
func (r *Registry) Fetch(ctx context.Context, u *url.URL, dest string, srcs *sources.Sources, cfg *DockerConfig) error {
	image := strings.TrimPrefix(u.String(), "registry://")

	ref, err := orasregistry.ParseReference(image)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidReference, image, err)
	}
	tag := ref.Reference
	if tag == "" {
		tag = "latest"
	}

	repo, err := remote.NewRepository(image)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidReference, image, err)
	}
	repo.PlainHTTP = srcs.IsInsecureSource(ref.Registry)
	repo.Client = r.authClient(u.String(), ref.Registry, srcs, cfg)

	memoryStore := memory.New()
	manifestDesc, err := oras.Copy(ctx, repo, tag, memoryStore, tag, oras.CopyOptions{})
	if err != nil {
		return fmt.Errorf("pull policy %s: %w", image, err)
	}

	manifest, err := r.fetchManifest(ctx, memoryStore, manifestDesc)
	if err != nil {
		return fmt.Errorf("pull policy %s: %w", image, err)
	}

	layerDesc, err := policyLayer(manifest)
	if err != nil {
		return fmt.Errorf("pull policy %s: %w", image, err)
	}

	layer, err := memoryStore.Fetch(ctx, layerDesc)
	if err != nil {
		return fmt.Errorf("fetch policy layer: %w", err)
	}
	defer func() {
		_ = layer.Close()
	}()

	if err := store.WriteFile(dest, layer); err != nil {
		return fmt.Errorf("write policy %s: %w", image, err)
	}

	r.logger.Debug("policy pulled from registry",
		"image", image, "destination", dest, "digest", string(layerDesc.Digest))
	return nil
}

// authClient builds the registry HTTP client: per-host TLS settings
// from the trust sources and a credential callback over the Docker
// configuration.
func (r *Registry) authClient(image, registryHost string, srcs *sources.Sources, cfg *DockerConfig) *auth.Client {
	transport := &netutil.RetryTransport{
		Base: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: srcs.TLSConfigFor(registryHost),
		},
	}

	return &auth.Client{
		Client: &http.Client{Transport: transport},
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, host string) (auth.Credential, error) {
			return r.resolveCredential(image, host, cfg)
		},
	}
}

// resolveCredential picks the credential for a registry host: the
// validated auths map first, then the credential helper when one is
// configured, anonymous otherwise.
func (r *Registry) resolveCredential(image, host string, cfg *DockerConfig) (auth.Credential, error) {
	if cfg == nil {
		return auth.EmptyCredential, nil
	}

	registryAuth, err := cfg.Auth(image)
	if err != nil {
		return auth.EmptyCredential, err
	}

	if registryAuth == nil {
		registryAuth, err = cfg.CredentialHelperAuth(host)
		if err != nil {
			return auth.EmptyCredential, err
		}
	}

	if registryAuth == nil {
		return auth.EmptyCredential, nil
	}
	return registryAuth.Credential()
}

func (r *Registry) fetchManifest(ctx context.Context, fetcher content.Fetcher, desc ocispec.Descriptor) (*ocispec.Manifest, error) {
	rc, err := fetcher.Fetch(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	manifestBytes, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest JSON: %w", err)
	}
	return &manifest, nil
}

// policyLayer selects the layer carrying the policy module: the WASM
// content layer when tagged, the sole layer otherwise.
func policyLayer(manifest *ocispec.Manifest) (ocispec.Descriptor, error) {
	for _, layer := range manifest.Layers {
		if layer.MediaType == PolicyLayerMediaType {
			return layer, nil
		}
	}
	if len(manifest.Layers) == 1 {
		return manifest.Layers[0], nil
	}
	return ocispec.Descriptor{}, fmt.Errorf("no policy layer found in manifest (%d layers)", len(manifest.Layers))
}
