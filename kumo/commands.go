package kumo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Every control intent maps to exactly one send-command call. The
// response only names the serials that accepted the command; callers
// re-fetch status (optionally refreshed) to observe the effect.

// modeAliases is the fixed, total mapping from user-facing mode names
// to wire values. The only rename is "fan" -> "vent"; it is a lookup,
// never inferred.
var modeAliases = map[string]Mode{
	"off":  ModeOff,
	"cool": ModeCool,
	"heat": ModeHeat,
	"dry":  ModeDry,
	"fan":  ModeVent,
	"vent": ModeVent,
	"auto": ModeAuto,
}

// ParseMode resolves a user-facing mode name ("fan" included) to the
// wire enumeration.
func ParseMode(s string) (Mode, error) {
	if mode, ok := modeAliases[s]; ok {
		return mode, nil
	}
	return "", fmt.Errorf("unknown mode %q (off, cool, heat, dry, fan, auto)", s)
}

// SendCommand is the raw passthrough: one outbound command carrying a
// serial and a field->value map.
func (c *Client) SendCommand(ctx context.Context, serial string, commands map[string]any) (CommandResult, error) {
	payload := map[string]any{
		"deviceSerial": serial,
		"commands":     commands,
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/v3/devices/send-command", payload)
	if err != nil {
		return CommandResult{}, err
	}
	var result CommandResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return CommandResult{}, fmt.Errorf("decode send-command response: %w", err)
		}
	}
	return result, nil
}

// SetTemperature sets the target for a device. tempF is Fahrenheit
// (the external unit); the wire value is Celsius.
//
// The setpoint field follows the operation mode: spHeat in heat,
// spCool in cool, spAuto in auto. When mode is non-empty the mode
// change and the setpoint travel in the same command, so the device
// never sees a mode switch with a stale setpoint on file. When mode is
// empty the device's current mode picks the field.
func (c *Client) SetTemperature(ctx context.Context, serial string, tempF float64, mode Mode) (CommandResult, error) {
	tempC := FahrenheitToCelsius(tempF)

	explicit := mode != ""
	if !explicit {
		status, err := c.StatusBySerial(ctx, serial, StatusOptions{})
		if err != nil {
			return CommandResult{}, err
		}
		mode = status.OperationMode
	}

	commands := map[string]any{}
	switch mode {
	case ModeHeat:
		commands["spHeat"] = tempC
	case ModeCool:
		commands["spCool"] = tempC
	case ModeAuto:
		commands["spAuto"] = tempC
	default:
		return CommandResult{}, fmt.Errorf("mode %q has no setpoint; pass cool, heat or auto", mode)
	}
	if explicit {
		commands["operationMode"] = string(mode)
	}

	return c.SendCommand(ctx, serial, commands)
}

// SetMode sets the operating mode.
func (c *Client) SetMode(ctx context.Context, serial string, mode Mode) (CommandResult, error) {
	return c.SendCommand(ctx, serial, map[string]any{"operationMode": string(mode)})
}

// SetFanSpeed sets the fan speed.
func (c *Client) SetFanSpeed(ctx context.Context, serial, speed string) (CommandResult, error) {
	if !contains(FanSpeeds, speed) {
		return CommandResult{}, fmt.Errorf("unknown fan speed %q", speed)
	}
	return c.SendCommand(ctx, serial, map[string]any{"fanSpeed": speed})
}

// SetAirDirection sets the vane position.
func (c *Client) SetAirDirection(ctx context.Context, serial, direction string) (CommandResult, error) {
	if !contains(AirDirections, direction) {
		return CommandResult{}, fmt.Errorf("unknown air direction %q", direction)
	}
	return c.SendCommand(ctx, serial, map[string]any{"airDirection": direction})
}

// PowerOn turns the unit on without touching mode or setpoints.
func (c *Client) PowerOn(ctx context.Context, serial string) (CommandResult, error) {
	return c.SendCommand(ctx, serial, map[string]any{"power": 1})
}

// PowerOff turns the unit off.
func (c *Client) PowerOff(ctx context.Context, serial string) (CommandResult, error) {
	return c.SendCommand(ctx, serial, map[string]any{"power": 0})
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
