package netutil

import (
	"crypto/x509"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRetryTransportRetriesTransientStatus(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	client := &http.Client{Transport: &RetryTransport{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryTransportDoesNotRetryClientError(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := &http.Client{Transport: &RetryTransport{InitialBackoff: time.Millisecond}}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

// errTransport always fails with the configured error.
type errTransport struct {
	err   error
	calls int
}

func (e *errTransport) RoundTrip(*http.Request) (*http.Response, error) {
	e.calls++
	return nil, e.err
}

func TestRetryTransportPermanentError(t *testing.T) {
	base := &errTransport{err: x509.UnknownAuthorityError{}}
	transport := &RetryTransport{Base: base, InitialBackoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "https://host.example.com/", nil)
	_, err := transport.RoundTrip(req)
	if err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, want 1 (certificate errors are not retryable)", base.calls)
	}
}

func TestRetryTransportTransientNetworkError(t *testing.T) {
	base := &errTransport{err: errors.New("connection reset")}
	transport := &RetryTransport{Base: base, MaxRetries: 2, InitialBackoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://host.example.com/", nil)
	_, err := transport.RoundTrip(req)
	if err == nil {
		t.Fatal("expected error")
	}
	if base.calls != 3 {
		t.Errorf("calls = %d, want 3", base.calls)
	}
}

func TestRetryTransportRespectsRetryAfter(t *testing.T) {
	transport := &RetryTransport{}
	resp := &http.Response{
		Header: http.Header{"Retry-After": []string{"2"}},
	}
	got := transport.calculateBackoff(0, time.Second, 30*time.Second, resp)
	if got != 2*time.Second {
		t.Errorf("backoff = %v, want 2s", got)
	}
}

func TestLimitedReader(t *testing.T) {
	t.Run("UnderLimit", func(t *testing.T) {
		r := NewLimitedReader(strings.NewReader("hello"), 10)
		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("data = %q, want hello", data)
		}
	})

	t.Run("ExactLimit", func(t *testing.T) {
		r := NewLimitedReader(strings.NewReader("hello"), 5)
		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("data = %q, want hello", data)
		}
	})

	t.Run("OverLimit", func(t *testing.T) {
		r := NewLimitedReader(strings.NewReader("hello world"), 5)
		_, err := io.ReadAll(r)
		if !IsSizeLimitExceededError(err) {
			t.Errorf("error = %v, want SizeLimitExceededError", err)
		}
	})
}
