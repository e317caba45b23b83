package kumo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hvackit/kumo/tokens"
)

// memStore is an in-memory token store for tests.
type memStore struct {
	pair  tokens.Pair
	saves int
}

func (m *memStore) Load() (tokens.Pair, error) {
	if m.pair.Empty() {
		return tokens.Pair{}, tokens.ErrNotFound
	}
	return m.pair, nil
}

func (m *memStore) Save(p tokens.Pair) error {
	m.pair = p
	m.saves++
	return nil
}

func validPair(access string) tokens.Pair {
	return tokens.Pair{
		Access:           access,
		Refresh:          "refresh-token",
		AccessExpiresAt:  time.Now().Add(time.Hour),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func newTestClient(t *testing.T, baseURL string, store tokens.Store) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:    baseURL,
		Username:   "user@example.com",
		Password:   "hunter2",
		TokenStore: store,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestLoginStoresTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/login" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua == "" || ua == "Go-http-client/1.1" {
			t.Fatalf("vendor user agent not set, got %q", ua)
		}
		body, _ := io.ReadAll(r.Body)
		for _, want := range []string{`"username":"user@example.com"`, `"password":"hunter2"`, `"appVersion"`} {
			if !strings.Contains(string(body), want) {
				t.Fatalf("login body missing %s: %s", want, body)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"token":{"access":"access-1","refresh":"refresh-1"}}`)
	}))
	defer server.Close()

	store := &memStore{}
	client := newTestClient(t, server.URL, store)

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if store.pair.Access != "access-1" || store.pair.Refresh != "refresh-1" {
		t.Fatalf("tokens not cached: %+v", store.pair)
	}
	if store.saves != 1 {
		t.Fatalf("expected 1 save, got %d", store.saves)
	}
}

func TestLoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"bad credentials"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &memStore{})
	err := client.Login(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestRequestRetriesOnceAfter401(t *testing.T) {
	var refreshes, siteCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/refresh":
			refreshes++
			if auth := r.Header.Get("Authorization"); auth != "Bearer refresh-token" {
				t.Fatalf("refresh call used %q", auth)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access":"access-2","refresh":"refresh-2"}`)
		case "/v3/sites/":
			siteCalls++
			if r.Header.Get("Authorization") == "Bearer stale-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[{"id":"site-1","name":"Home"}]`)
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	store := &memStore{pair: validPair("stale-token")}
	client := newTestClient(t, server.URL, store)

	sites, err := client.Sites(context.Background())
	if err != nil {
		t.Fatalf("sites: %v", err)
	}
	if len(sites) != 1 || sites[0].ID != "site-1" {
		t.Fatalf("unexpected sites: %+v", sites)
	}
	if refreshes != 1 {
		t.Fatalf("expected exactly one token refresh, got %d", refreshes)
	}
	if siteCalls != 2 {
		t.Fatalf("expected the request to be retried once, got %d calls", siteCalls)
	}
	if store.pair.Access != "access-2" {
		t.Fatalf("refreshed pair not persisted: %+v", store.pair)
	}
}

func TestRateLimitSurfacesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &memStore{pair: validPair("ok")})

	_, err := client.Sites(context.Background())
	var rateLimited RateLimitError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateLimited.RetryAfter != 30*time.Second {
		t.Fatalf("expected 30s retry-after, got %s", rateLimited.RetryAfter)
	}
}

func TestNotFoundMapsToErrDeviceNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &memStore{pair: validPair("ok")})

	_, err := client.Device(context.Background(), "NOPE")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestNotModifiedReturnsNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, &memStore{pair: validPair("ok")})

	data, err := client.Raw(context.Background(), http.MethodGet, "/v3/sites/")
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil body on 304, got %q", data)
	}
}
