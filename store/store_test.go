package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPolicyFullPath(t *testing.T) {
	s := New("/tmp/store-root")

	tests := []struct {
		name string
		url  string
		mode PolicyPath
		want string
	}{
		{
			name: "HTTPSWithPort",
			url:  "https://host.example.com:1234/path/to/policy.wasm",
			mode: PrefixAndFilename,
			want: "https/host.example.com:1234/path/to/policy.wasm",
		},
		{
			name: "HTTPSWithoutPort",
			url:  "https://host.example.com/path/to/policy.wasm",
			mode: PrefixAndFilename,
			want: "https/host.example.com/path/to/policy.wasm",
		},
		{
			name: "HTTPWithPort",
			url:  "http://host.example.com:1234/path/to/policy.wasm",
			mode: PrefixAndFilename,
			want: "http/host.example.com:1234/path/to/policy.wasm",
		},
		{
			name: "RegistryKeepsTag",
			url:  "registry://host.example.com/path/to/policy:tag",
			mode: PrefixAndFilename,
			want: "registry/host.example.com/path/to/policy:tag",
		},
		{
			name: "RegistryWithPortKeepsTag",
			url:  "registry://host.example.com:1234/policy:tag",
			mode: PrefixAndFilename,
			want: "registry/host.example.com:1234/policy:tag",
		},
		{
			name: "PrefixOnlyDropsFilename",
			url:  "https://host.example.com:1234/path/to/policy.wasm",
			mode: PrefixOnly,
			want: "https/host.example.com:1234/path/to",
		},
		{
			name: "PrefixOnlyShallowPath",
			url:  "registry://host.example.com/policy:tag",
			mode: PrefixOnly,
			want: "registry/host.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.PolicyFullPath(tt.url, tt.mode)
			if err != nil {
				t.Fatalf("PolicyFullPath() error = %v", err)
			}
			want := filepath.Join(s.Root, filepath.FromSlash(tt.want))
			if got != want {
				t.Errorf("PolicyFullPath() = %v, want %v", got, want)
			}
		})
	}
}

func TestPolicyFullPathErrors(t *testing.T) {
	s := New("/tmp/store-root")

	if _, err := s.PolicyFullPath("://nope", PrefixAndFilename); err == nil {
		t.Error("expected error for unparseable URI")
	}
	if _, err := s.PolicyFullPath("https:///no-host/policy.wasm", PrefixAndFilename); err == nil {
		t.Error("expected error for URI without host")
	}
}

func TestEnsure(t *testing.T) {
	s := New(t.TempDir())

	prefix, err := s.PolicyFullPath("https://host.example.com/a/b/policy.wasm", PrefixOnly)
	if err != nil {
		t.Fatalf("PolicyFullPath() error = %v", err)
	}
	if err := s.Ensure(prefix); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	info, err := os.Stat(prefix)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Errorf("%s is not a directory", prefix)
	}

	// Idempotent
	if err := s.Ensure(prefix); err != nil {
		t.Errorf("second Ensure() error = %v", err)
	}
}

func TestStoreEquality(t *testing.T) {
	a := New("/same/root")
	b := New("/same/root")
	if *a != *b {
		t.Error("stores with the same root should be equal")
	}
}
