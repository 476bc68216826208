package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/umbrellaops/umbrella/internal/domain"
)

func TestProberClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/redirected":
			w.WriteHeader(http.StatusNoContent)
		case "/client-error":
			w.WriteHeader(http.StatusNotFound)
		case "/server-error":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	prober := NewHTTPProber(2 * time.Second)

	cases := []struct {
		name string
		path string
		want domain.UptimeStatus
	}{
		{"2xx is up", "/ok", domain.UptimeUp},
		{"204 is up", "/redirected", domain.UptimeUp},
		{"404 is down", "/client-error", domain.UptimeDown},
		{"500 is down", "/server-error", domain.UptimeDown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := prober.Probe(context.Background(), server.URL+tc.path)
			if result.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, result.Status)
			}
		})
	}
}

func TestProberDownStatusCarriesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result := NewHTTPProber(time.Second).Probe(context.Background(), server.URL)
	if result.Status != domain.UptimeDown {
		t.Fatalf("expected down, got %s", result.Status)
	}
	if result.Err == "" {
		t.Fatalf("down result must carry the status text")
	}
}

func TestProberUnreachableHostIsDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	result := NewHTTPProber(time.Second).Probe(context.Background(), url)
	if result.Status != domain.UptimeDown {
		t.Fatalf("expected down for refused connection, got %s", result.Status)
	}
}

func TestProberInvalidURLIsUnknown(t *testing.T) {
	result := NewHTTPProber(time.Second).Probe(context.Background(), "not a url")
	if result.Status != domain.UptimeUnknown {
		t.Fatalf("expected unknown for invalid target, got %s", result.Status)
	}
}

func TestProberTimeoutIsDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	result := NewHTTPProber(100*time.Millisecond).Probe(context.Background(), server.URL)
	if result.Status != domain.UptimeDown {
		t.Fatalf("expected down on timeout, got %s", result.Status)
	}
}
