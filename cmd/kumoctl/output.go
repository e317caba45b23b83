package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/hvackit/kumo/kumo"
)

func statusCmd(ctx context.Context, client *kumo.Client, args []string) {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	device := flags.String("d", "", "device name or serial (default: all)")
	verbose := flags.Bool("v", false, "full detail (fan, vane, rssi)")
	refresh := flags.Bool("r", false, "force a live read from the device")
	flags.BoolVar(refresh, "refresh", *refresh, "force a live read from the device")
	asJSON := flags.Bool("json", false, "machine-readable output")
	_ = flags.Parse(args)

	opts := kumo.StatusOptions{Full: *verbose, Refresh: *refresh}

	var (
		devices []kumo.DeviceStatus
		err     error
	)
	if *device != "" {
		serial := client.ResolveDevice(ctx, *device)
		var one kumo.DeviceStatus
		one, err = client.StatusBySerial(ctx, serial, opts)
		devices = []kumo.DeviceStatus{one}
	} else {
		devices, err = client.AllDevices(ctx, opts)
	}
	if err != nil {
		fatal("status", err)
	}

	if *asJSON {
		printJSON(devices)
	} else {
		printTable(devices, *verbose)
	}

	// A refresh that fell back to cached data is worth a warning, but
	// the baseline output above is still valid.
	for _, d := range devices {
		if d.RefreshErr == nil {
			continue
		}
		switch {
		case errors.Is(d.RefreshErr, kumo.ErrRefreshUnsupported):
			fmt.Fprintf(os.Stderr, "warning: %s: realtime channel unavailable, showing cached data\n", d.Name)
		case errors.Is(d.RefreshErr, kumo.ErrRefreshTimeout):
			fmt.Fprintf(os.Stderr, "warning: %s: device did not answer in time, showing cached data\n", d.Name)
		default:
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", d.Name, d.RefreshErr)
		}
	}
}

func printTable(devices []kumo.DeviceStatus, verbose bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if verbose {
		fmt.Fprintln(w, "NAME\tSERIAL\tPOWER\tMODE\tROOM\tTARGET\tHUMIDITY\tFAN\tVANE\tRSSI\tONLINE\tSOURCE")
	} else {
		fmt.Fprintln(w, "NAME\tPOWER\tMODE\tROOM\tTARGET\tHUMIDITY\tONLINE\tSOURCE")
	}

	for _, d := range devices {
		power := "off"
		if d.Power {
			power = "on"
		}
		online := "yes"
		if !d.Connected {
			online = "NO"
		}
		room := tempF(d.RoomTemperatureC)
		target := tempF(d.Setpoint())
		humidity := "-"
		if d.Humidity != nil {
			humidity = fmt.Sprintf("%d%%", *d.Humidity)
		}

		if verbose {
			rssi := "-"
			if d.RSSI != nil {
				rssi = fmt.Sprintf("%d dBm", *d.RSSI)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				d.Name, d.Serial, power, d.OperationMode, room, target,
				humidity, orDash(d.FanSpeed), orDash(d.AirDirection), rssi, online, d.Provenance)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				d.Name, power, d.OperationMode, room, target, humidity, online, d.Provenance)
		}
	}
}

// tempF renders a Celsius reading in Fahrenheit. Temperatures are
// Fahrenheit at the CLI boundary only.
func tempF(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f°F", kumo.CelsiusToFahrenheit(*c))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("encode", err)
	}
}
