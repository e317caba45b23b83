package kumo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// commandServer records every send-command body and can serve a zone
// listing for the implicit-mode lookup.
type commandServer struct {
	t      *testing.T
	bodies []map[string]any
	zones  string
}

func (s *commandServer) handler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v3/devices/send-command":
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			s.t.Fatalf("send-command body is not JSON: %s", data)
		}
		s.bodies = append(s.bodies, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"devices":["`+body["deviceSerial"].(string)+`"]}`)
	case "/v3/sites/":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"site-1","name":"Home"}]`)
	case "/v3/sites/site-1/zones":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, s.zones)
	default:
		s.t.Fatalf("unexpected path: %s", r.URL.Path)
	}
}

func (s *commandServer) lastCommands() map[string]any {
	if len(s.bodies) == 0 {
		s.t.Fatal("no command was sent")
	}
	last := s.bodies[len(s.bodies)-1]
	commands, ok := last["commands"].(map[string]any)
	if !ok {
		s.t.Fatalf("body has no commands object: %v", last)
	}
	return commands
}

func startCommandServer(t *testing.T) (*commandServer, *Client) {
	t.Helper()
	cs := &commandServer{t: t}
	server := httptest.NewServer(http.HandlerFunc(cs.handler))
	t.Cleanup(server.Close)
	client := newTestClient(t, server.URL, &memStore{pair: validPair("ok")})
	return cs, client
}

func TestSetTemperatureExplicitMode(t *testing.T) {
	cs, client := startCommandServer(t)

	if _, err := client.SetTemperature(context.Background(), "SER1", 72, ModeCool); err != nil {
		t.Fatalf("set temperature: %v", err)
	}

	commands := cs.lastCommands()
	// Mode and setpoint travel together, and only the mode's own
	// setpoint field is present.
	if commands["operationMode"] != "cool" {
		t.Fatalf("expected operationMode cool, got %v", commands)
	}
	if commands["spCool"] != 22.2 {
		t.Fatalf("expected spCool 22.2 (72F), got %v", commands)
	}
	if _, present := commands["spHeat"]; present {
		t.Fatalf("spHeat must not ride along on a cool command: %v", commands)
	}
	if _, present := commands["spAuto"]; present {
		t.Fatalf("spAuto must not ride along on a cool command: %v", commands)
	}
}

func TestSetTemperatureImplicitModeLookup(t *testing.T) {
	cs, client := startCommandServer(t)
	cs.zones = `[{"id":"z1","name":"Bedroom","adapter":{"deviceSerial":"SER1","operationMode":"heat","power":1}}]`

	if _, err := client.SetTemperature(context.Background(), "SER1", 68, ""); err != nil {
		t.Fatalf("set temperature: %v", err)
	}

	commands := cs.lastCommands()
	if commands["spHeat"] != 20.0 {
		t.Fatalf("expected spHeat 20.0 (68F) from current heat mode, got %v", commands)
	}
	// Without an explicit mode request the mode field stays out of the
	// command entirely.
	if _, present := commands["operationMode"]; present {
		t.Fatalf("implicit lookup must not resend the mode: %v", commands)
	}
}

func TestSetTemperatureRejectsSetpointlessModes(t *testing.T) {
	_, client := startCommandServer(t)

	for _, mode := range []Mode{ModeOff, ModeDry, ModeVent} {
		if _, err := client.SetTemperature(context.Background(), "SER1", 70, mode); err == nil {
			t.Fatalf("mode %q has no setpoint, expected an error", mode)
		}
	}
}

func TestSetTemperatureIdempotent(t *testing.T) {
	cs, client := startCommandServer(t)

	for i := 0; i < 2; i++ {
		if _, err := client.SetTemperature(context.Background(), "SER1", 72, ModeCool); err != nil {
			t.Fatalf("set temperature: %v", err)
		}
	}
	if len(cs.bodies) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cs.bodies))
	}
	first, _ := json.Marshal(cs.bodies[0])
	second, _ := json.Marshal(cs.bodies[1])
	if string(first) != string(second) {
		t.Fatalf("repeated intent produced different commands: %s vs %s", first, second)
	}
}

func TestSetModeIdempotent(t *testing.T) {
	cs, client := startCommandServer(t)

	for i := 0; i < 2; i++ {
		if _, err := client.SetMode(context.Background(), "SER1", ModeHeat); err != nil {
			t.Fatalf("set mode: %v", err)
		}
	}
	first, _ := json.Marshal(cs.bodies[0])
	second, _ := json.Marshal(cs.bodies[1])
	if string(first) != string(second) {
		t.Fatalf("repeated set-mode produced different commands: %s vs %s", first, second)
	}
}

func TestParseModeFanAlias(t *testing.T) {
	mode, err := ParseMode("fan")
	if err != nil {
		t.Fatalf("parse fan: %v", err)
	}
	if mode != ModeVent {
		t.Fatalf("expected fan to map to vent, got %q", mode)
	}
	if _, err := ParseMode("turbo"); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestSetFanSpeed(t *testing.T) {
	cs, client := startCommandServer(t)

	if _, err := client.SetFanSpeed(context.Background(), "SER1", "quiet"); err != nil {
		t.Fatalf("set fan speed: %v", err)
	}
	commands := cs.lastCommands()
	if len(commands) != 1 || commands["fanSpeed"] != "quiet" {
		t.Fatalf("expected exactly {fanSpeed: quiet}, got %v", commands)
	}

	if _, err := client.SetFanSpeed(context.Background(), "SER1", "ludicrous"); err == nil {
		t.Fatal("expected invalid fan speed to be rejected before any request")
	}
	if len(cs.bodies) != 1 {
		t.Fatalf("invalid speed still reached the server: %d commands", len(cs.bodies))
	}
}

func TestSetAirDirection(t *testing.T) {
	cs, client := startCommandServer(t)

	if _, err := client.SetAirDirection(context.Background(), "SER1", "swing"); err != nil {
		t.Fatalf("set air direction: %v", err)
	}
	commands := cs.lastCommands()
	if len(commands) != 1 || commands["airDirection"] != "swing" {
		t.Fatalf("expected exactly {airDirection: swing}, got %v", commands)
	}

	if _, err := client.SetAirDirection(context.Background(), "SER1", "sideways"); err == nil {
		t.Fatal("expected invalid direction to be rejected")
	}
}

func TestPowerCommands(t *testing.T) {
	cs, client := startCommandServer(t)

	if _, err := client.PowerOn(context.Background(), "SER1"); err != nil {
		t.Fatalf("power on: %v", err)
	}
	if commands := cs.lastCommands(); commands["power"] != 1.0 {
		t.Fatalf("expected power 1, got %v", commands)
	}

	result, err := client.PowerOff(context.Background(), "SER1")
	if err != nil {
		t.Fatalf("power off: %v", err)
	}
	if commands := cs.lastCommands(); commands["power"] != 0.0 {
		t.Fatalf("expected power 0, got %v", commands)
	}
	if len(result.Devices) != 1 || result.Devices[0] != "SER1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
