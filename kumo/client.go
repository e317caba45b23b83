// Package kumo is a client for the Kumo Cloud HVAC API (v3).
//
// REST reads return server-cached device state that can lag the
// physical unit by minutes to hours. Status calls can optionally force
// a live read over the vendor's push-event channel; see refresh.go.
package kumo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hvackit/kumo/tokens"
)

const (
	defaultBaseURL   = "https://app-prod.kumocloud.com"
	defaultSocketURL = "https://socket-prod.kumocloud.com"

	appVersion = "3.2.3"
	// User-Agent of the vendor's iOS app; the API rejects unknown agents.
	userAgent = "kumocloud/1122 CFNetwork/3860.200.71 Darwin/25.1.0"
)

// Config configures a Client. Zero values fall back to production
// endpoints, the default token file, and a 30 s HTTP timeout.
type Config struct {
	BaseURL   string
	SocketURL string

	Username string
	Password string
	SiteID   string

	// DeviceSerials maps friendly names to serials, normally loaded
	// from KUMO_SERIAL_* environment variables.
	DeviceSerials map[string]string

	TokenStore tokens.Store
	HTTPClient *http.Client

	// Dialer opens the realtime push channel. Nil disables forced
	// refresh: status calls then report ErrRefreshUnsupported and
	// serve baseline data.
	Dialer ChannelDialer

	// RefreshTimeout bounds one refresh batch. Default 4 s.
	RefreshTimeout time.Duration
}

// Client talks to the Kumo Cloud REST API and owns the shared
// realtime session.
type Client struct {
	baseURL   string
	socketURL string
	username  string
	password  string
	siteID    string
	serials   map[string]string

	store      tokens.Store
	httpClient *http.Client

	mu   sync.Mutex // guards pair and token refresh
	pair tokens.Pair

	session *refreshSession
}

func New(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	socketURL := cfg.SocketURL
	if socketURL == "" {
		socketURL = defaultSocketURL
	}
	store := cfg.TokenStore
	if store == nil {
		store = tokens.NewFileStore("")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}

	c := &Client{
		baseURL:    baseURL,
		socketURL:  socketURL,
		username:   cfg.Username,
		password:   cfg.Password,
		siteID:     cfg.SiteID,
		serials:    cfg.DeviceSerials,
		store:      store,
		httpClient: httpClient,
		session:    newRefreshSession(cfg.Dialer, refreshTimeout),
	}

	if pair, err := store.Load(); err == nil {
		c.pair = pair
	} else if !errors.Is(err, tokens.ErrNotFound) {
		return nil, fmt.Errorf("load token cache: %w", err)
	}

	return c, nil
}

// Close tears down the realtime session, if one was opened.
func (c *Client) Close() {
	c.session.close()
}

// SiteID returns the configured default site, if any.
func (c *Client) SiteID() string { return c.siteID }

// Login authenticates with username/password and caches the resulting
// token pair. It is called automatically when no usable tokens exist.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	if c.username == "" || c.password == "" {
		return fmt.Errorf("%w: no credentials configured", ErrAuthFailed)
	}

	body, err := json.Marshal(map[string]string{
		"username":   c.username,
		"password":   c.password,
		"appVersion": appVersion,
	})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v3/login", body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: login rejected: %s", ErrAuthFailed, bytes.TrimSpace(data))
	}

	var parsed struct {
		Token struct {
			Access  string `json:"access"`
			Refresh string `json:"refresh"`
		} `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("login: decode response: %w", err)
	}
	if parsed.Token.Access == "" {
		return MalformedPayloadError{Field: "token.access"}
	}

	c.pair = tokens.NewPair(parsed.Token.Access, parsed.Token.Refresh)
	if err := c.store.Save(c.pair); err != nil {
		return fmt.Errorf("save token cache: %w", err)
	}
	return nil
}

// refreshLocked trades the refresh token for a new pair. Callers hold c.mu.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.pair.Refresh == "" || c.pair.RefreshExpired() {
		// Refresh path is gone; fall back to a full login.
		return c.loginLocked(ctx)
	}

	body, err := json.Marshal(map[string]string{"refresh": c.pair.Refresh})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v3/refresh", body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.pair.Refresh)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Refresh token rejected. One login attempt before giving up.
		if c.username != "" && c.password != "" {
			return c.loginLocked(ctx)
		}
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: refresh rejected: %s", ErrAuthFailed, bytes.TrimSpace(data))
	}

	var parsed struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("token refresh: decode response: %w", err)
	}

	c.pair = tokens.NewPair(parsed.Access, parsed.Refresh)
	if err := c.store.Save(c.pair); err != nil {
		return fmt.Errorf("save token cache: %w", err)
	}
	return nil
}

// accessToken returns a token expected to be valid, refreshing or
// logging in first when needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.pair.Empty():
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	case c.pair.AccessExpired():
		if err := c.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.pair.Access, nil
}

// forceRefreshToken refreshes unconditionally, for the one-shot retry
// after a 401 on a token we thought was valid.
func (c *Client) forceRefreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshLocked(ctx); err != nil {
		return "", err
	}
	return c.pair.Access, nil
}

// doRequest performs one authenticated API call, retrying exactly once
// through a token refresh on 401. 429 surfaces as RateLimitError and
// is never retried here.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	data, status, header, err := c.roundTrip(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		token, err = c.forceRefreshToken(ctx)
		if err != nil {
			return nil, err
		}
		data, status, header, err = c.roundTrip(ctx, method, path, body, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: request still unauthorized after refresh", ErrAuthFailed)
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, RateLimitError{RetryAfter: retryAfter(header.Get("Retry-After"))}
	case status == http.StatusNotModified:
		// Cached representation still valid; nothing new to decode.
		return nil, nil
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	case status >= 400:
		return nil, HTTPStatusError{Status: status, Body: string(data)}
	}

	return data, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, token string) ([]byte, int, http.Header, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, err
	}
	return data, resp.StatusCode, resp.Header, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-app-version", appVersion)
	req.Header.Set("app-env", "prd")
	// Ask for fresh data; the server caches aggressively otherwise.
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("x-allow-cache", "false")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Raw performs an authenticated request and returns the undecoded
// response, for the CLI's raw passthrough.
func (c *Client) Raw(ctx context.Context, method, path string) (json.RawMessage, error) {
	return c.doRequest(ctx, method, path, nil)
}

// Account returns the raw account record.
func (c *Client) Account(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/accounts/me", nil)
}

// Sites lists the locations on the account.
func (c *Client) Sites(ctx context.Context) ([]Site, error) {
	var sites []Site
	if err := c.getJSON(ctx, "/v3/sites/", &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// Site returns one raw site record.
func (c *Client) Site(ctx context.Context, siteID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/sites/"+siteID, nil)
}

// ZoneDetail returns one raw zone record.
func (c *Client) ZoneDetail(ctx context.Context, zoneID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/zones/"+zoneID, nil)
}

// Zones lists the zones of a site, each carrying the adapter status
// block the server has cached.
func (c *Client) Zones(ctx context.Context, siteID string) ([]Zone, error) {
	var zones []Zone
	if err := c.getJSON(ctx, "/v3/sites/"+siteID+"/zones", &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// Groups returns the raw device groups of a site.
func (c *Client) Groups(ctx context.Context, siteID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/sites/"+siteID+"/groups", nil)
}

// Weather returns the raw weather record for a site's location.
func (c *Client) Weather(ctx context.Context, siteID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/sites/"+siteID+"/weather", nil)
}

// Device returns the device-detail payload, which carries fan speed,
// vane position and RSSI that the zone listing omits.
func (c *Client) Device(ctx context.Context, serial string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/devices/"+serial, nil)
}

// DeviceProfile returns the raw capability profile.
func (c *Client) DeviceProfile(ctx context.Context, serial string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/devices/"+serial+"/profile", nil)
}

// DeviceStatusRaw returns the raw operational status record.
func (c *Client) DeviceStatusRaw(ctx context.Context, serial string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/devices/"+serial+"/status", nil)
}

// DeviceProperties returns the raw vendor-specific properties.
func (c *Client) DeviceProperties(ctx context.Context, serial string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v3/devices/"+serial+"/kumo-properties", nil)
}
