package kumo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hvackit/kumo/tokens"
)

const testZones = `[
	{"id":"z1","name":"Bedroom","adapter":{"deviceSerial":"1111111111","roomTemp":20.5,"spHeat":21.0,"operationMode":"heat","power":1,"humidity":40}},
	{"id":"z2","name":"Living Room","adapter":{"deviceSerial":"2222222222","roomTemp":23.0,"spCool":24.0,"operationMode":"cool","power":1}},
	{"id":"z3","name":"Empty Zone","adapter":null}
]`

func startStatusServer(t *testing.T) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v3/sites/":
			_, _ = io.WriteString(w, `[{"id":"site-1","name":"Home"}]`)
		case r.URL.Path == "/v3/sites/site-1/zones":
			_, _ = io.WriteString(w, testZones)
		case strings.HasPrefix(r.URL.Path, "/v3/devices/1111111111"):
			_, _ = io.WriteString(w, `{"serial":"1111111111","fanSpeed":"quiet","airDirection":"swing","rssi":-55}`)
		case strings.HasPrefix(r.URL.Path, "/v3/devices/2222222222"):
			_, _ = io.WriteString(w, `{"serial":"2222222222","fanSpeed":"auto"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return newTestClient(t, server.URL, &memStore{pair: validPair("ok")})
}

func TestAllDevicesBaseline(t *testing.T) {
	client := startStatusServer(t)

	devices, err := client.AllDevices(context.Background(), StatusOptions{})
	if err != nil {
		t.Fatalf("all devices: %v", err)
	}
	// The adapterless zone is skipped, not an error.
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}

	bedroom := devices[0]
	if bedroom.Serial != "1111111111" || bedroom.Name != "Bedroom" {
		t.Fatalf("unexpected first device: %+v", bedroom)
	}
	if bedroom.OperationMode != ModeHeat || *bedroom.RoomTemperatureC != 20.5 {
		t.Fatalf("zone adapter data not normalized: %+v", bedroom)
	}
	if bedroom.Provenance != ProvenanceCache {
		t.Fatalf("baseline reads are cache provenance: %s", bedroom.Provenance)
	}
	// Without Full the detail endpoint is never hit, so no fan data.
	if bedroom.FanSpeed != "" {
		t.Fatalf("fan speed should be absent on a light read: %+v", bedroom)
	}
}

func TestAllDevicesFullMergesDetail(t *testing.T) {
	client := startStatusServer(t)

	devices, err := client.AllDevices(context.Background(), StatusOptions{Full: true})
	if err != nil {
		t.Fatalf("all devices: %v", err)
	}

	bedroom := devices[0]
	if bedroom.FanSpeed != "quiet" || bedroom.AirDirection != "swing" {
		t.Fatalf("device detail not merged: %+v", bedroom)
	}
	if bedroom.RSSI == nil || *bedroom.RSSI != -55 {
		t.Fatalf("rssi not merged: %+v", bedroom)
	}
	// Zone fields the detail lacks survive the merge.
	if *bedroom.RoomTemperatureC != 20.5 || bedroom.OperationMode != ModeHeat {
		t.Fatalf("zone baseline lost in merge: %+v", bedroom)
	}
}

func TestSerialByNameZoneLookup(t *testing.T) {
	client := startStatusServer(t)
	ctx := context.Background()

	// Matching is case-insensitive with separators normalized.
	for _, name := range []string{"Living Room", "living_room", "LIVING-ROOM"} {
		serial, err := client.SerialByName(ctx, name)
		if err != nil {
			t.Fatalf("lookup %q: %v", name, err)
		}
		if serial != "2222222222" {
			t.Fatalf("lookup %q: got %s", name, serial)
		}
	}

	_, err := client.SerialByName(ctx, "garage")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	// The error names the devices that do exist.
	if !strings.Contains(err.Error(), "Bedroom") {
		t.Fatalf("error should list available devices: %v", err)
	}
}

func TestSerialByNameConfiguredWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{
		BaseURL:       server.URL,
		DeviceSerials: map[string]string{"bedroom": "9999999999"},
		TokenStore:    &memStore{pair: validPair("ok")},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	// A configured name resolves without any API traffic.
	serial, err := client.SerialByName(context.Background(), "Bedroom")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if serial != "9999999999" {
		t.Fatalf("configured mapping must win, got %s", serial)
	}
}

func TestResolveDevicePassesThroughSerials(t *testing.T) {
	client := startStatusServer(t)

	// An unknown string is assumed to be a bare serial.
	if got := client.ResolveDevice(context.Background(), "3333333333"); got != "3333333333" {
		t.Fatalf("expected passthrough, got %s", got)
	}
	if got := client.ResolveDevice(context.Background(), "bedroom"); got != "1111111111" {
		t.Fatalf("expected name resolution, got %s", got)
	}
}

func TestStatusBySerialFallsBackToDeviceEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v3/sites/":
			_, _ = io.WriteString(w, `[]`)
		case "/v3/devices/5555555555":
			_, _ = io.WriteString(w, `{"serial":"5555555555","roomTemp":19.0,"operationMode":"heat","power":1}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL, &memStore{pair: validPair("ok")})

	d, err := client.StatusBySerial(context.Background(), "5555555555", StatusOptions{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if d.Serial != "5555555555" || *d.RoomTemperatureC != 19.0 {
		t.Fatalf("device endpoint fallback failed: %+v", d)
	}

	_, err = client.StatusBySerial(context.Background(), "0000000000", StatusOptions{})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestNormalizeNameCollapsesSeparators(t *testing.T) {
	cases := map[string]string{
		"Living Room":    "living_room",
		"living-room":    "living_room",
		"  Guest  Room ": "guest_room",
		"office":         "office",
	}
	for in, want := range cases {
		if got := normalizeName(in); got != want {
			t.Errorf("normalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

var _ tokens.Store = (*memStore)(nil)
