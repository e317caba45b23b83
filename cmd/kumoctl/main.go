// kumoctl is a command-line client for Kumo Cloud HVAC systems.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hvackit/kumo/internal/config"
	"github.com/hvackit/kumo/kumo"
	"github.com/hvackit/kumo/tokens"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("KUMOCTL_CONFIG"))
	if err != nil {
		fatal("config", err)
	}

	client, err := newClient(cfg)
	if err != nil {
		fatal("init", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "login":
		loginCmd(ctx, client, os.Args[2:])
	case "status", "list":
		statusCmd(ctx, client, os.Args[2:])
	case "set-temp":
		setTempCmd(ctx, client, os.Args[2:])
	case "set-mode":
		setModeCmd(ctx, client, os.Args[2:])
	case "set-fan":
		setFanCmd(ctx, client, os.Args[2:])
	case "set-vane":
		setVaneCmd(ctx, client, os.Args[2:])
	case "on":
		powerCmd(ctx, client, os.Args[2:], true)
	case "off":
		powerCmd(ctx, client, os.Args[2:], false)
	case "raw":
		rawCmd(ctx, client, cfg, os.Args[2:])
	case "serve":
		cancel() // serve manages its own lifetimes
		serveCmd(cfg, client, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func newClient(cfg config.Config) (*kumo.Client, error) {
	store, err := tokenStore(cfg)
	if err != nil {
		return nil, err
	}
	return kumo.New(kumo.Config{
		BaseURL:       cfg.BaseURL,
		SocketURL:     cfg.SocketURL,
		Username:      cfg.Username,
		Password:      cfg.Password,
		SiteID:        cfg.SiteID,
		DeviceSerials: cfg.Serials,
		TokenStore:    store,
		Dialer:        kumo.SocketIODialer(),
	})
}

func tokenStore(cfg config.Config) (tokens.Store, error) {
	file := tokens.NewFileStore(cfg.TokenFile)
	if cfg.TokenMirror == nil {
		return file, nil
	}

	accessKey, err := config.ReadSecretFile(cfg.TokenMirror.AccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("token mirror access key: %w", err)
	}
	secretKey, err := config.ReadSecretFile(cfg.TokenMirror.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("token mirror secret key: %w", err)
	}

	mirror, err := tokens.NewS3Store(tokens.S3Config{
		Endpoint:  cfg.TokenMirror.Endpoint,
		Bucket:    cfg.TokenMirror.Bucket,
		Prefix:    cfg.TokenMirror.Prefix,
		Region:    cfg.TokenMirror.Region,
		AccessKey: accessKey,
		SecretKey: secretKey,
	})
	if err != nil {
		return nil, err
	}
	return &tokens.MirroredStore{Primary: file, Mirror: mirror}, nil
}

func loginCmd(ctx context.Context, client *kumo.Client, args []string) {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	_ = flags.Parse(args)

	if err := client.Login(ctx); err != nil {
		fatal("login", err)
	}
	fmt.Println("ok: logged in, tokens cached")
}

func setTempCmd(ctx context.Context, client *kumo.Client, args []string) {
	flags := flag.NewFlagSet("set-temp", flag.ExitOnError)
	modeArg := flags.String("m", "", "mode to set along with the temperature (cool, heat, auto)")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 2 {
		fatal("set-temp", fmt.Errorf("usage: kumoctl set-temp <device> <tempF> [-m cool|heat|auto]"))
	}

	tempF, err := strconv.ParseFloat(remaining[1], 64)
	if err != nil {
		fatal("set-temp", fmt.Errorf("invalid temperature %q", remaining[1]))
	}

	var mode kumo.Mode
	if *modeArg != "" {
		mode, err = kumo.ParseMode(*modeArg)
		if err != nil {
			fatal("set-temp", err)
		}
	}

	serial := client.ResolveDevice(ctx, remaining[0])
	if _, err := client.SetTemperature(ctx, serial, tempF, mode); err != nil {
		fatal("set-temp", err)
	}
	fmt.Printf("ok: %s -> %.1f°F\n", remaining[0], tempF)
}

func setModeCmd(ctx context.Context, client *kumo.Client, args []string) {
	if len(args) < 2 {
		fatal("set-mode", fmt.Errorf("usage: kumoctl set-mode <device> <off|cool|heat|dry|fan|auto>"))
	}
	mode, err := kumo.ParseMode(args[1])
	if err != nil {
		fatal("set-mode", err)
	}
	serial := client.ResolveDevice(ctx, args[0])
	if _, err := client.SetMode(ctx, serial, mode); err != nil {
		fatal("set-mode", err)
	}
	fmt.Printf("ok: %s -> %s\n", args[0], args[1])
}

func setFanCmd(ctx context.Context, client *kumo.Client, args []string) {
	if len(args) < 2 {
		fatal("set-fan", fmt.Errorf("usage: kumoctl set-fan <device> <speed>"))
	}
	serial := client.ResolveDevice(ctx, args[0])
	if _, err := client.SetFanSpeed(ctx, serial, args[1]); err != nil {
		fatal("set-fan", err)
	}
	fmt.Printf("ok: %s fan -> %s\n", args[0], args[1])
}

func setVaneCmd(ctx context.Context, client *kumo.Client, args []string) {
	if len(args) < 2 {
		fatal("set-vane", fmt.Errorf("usage: kumoctl set-vane <device> <direction>"))
	}
	serial := client.ResolveDevice(ctx, args[0])
	if _, err := client.SetAirDirection(ctx, serial, args[1]); err != nil {
		fatal("set-vane", err)
	}
	fmt.Printf("ok: %s vane -> %s\n", args[0], args[1])
}

func powerCmd(ctx context.Context, client *kumo.Client, args []string, on bool) {
	name := "off"
	if on {
		name = "on"
	}
	if len(args) < 1 {
		fatal(name, fmt.Errorf("usage: kumoctl %s <device>", name))
	}
	serial := client.ResolveDevice(ctx, args[0])
	var err error
	if on {
		_, err = client.PowerOn(ctx, serial)
	} else {
		_, err = client.PowerOff(ctx, serial)
	}
	if err != nil {
		fatal(name, err)
	}
	fmt.Printf("ok: %s %s\n", args[0], name)
}

func rawCmd(ctx context.Context, client *kumo.Client, cfg config.Config, args []string) {
	if len(args) < 1 {
		fatal("raw", fmt.Errorf("usage: kumoctl raw <endpoint> [id]"))
	}
	endpoint := args[0]
	id := ""
	if len(args) > 1 {
		id = args[1]
	}

	siteID := func() string {
		if id != "" {
			return id
		}
		if cfg.SiteID == "" {
			fatal("raw", fmt.Errorf("site id required for %s (set KUMO_SITE_ID or pass it)", endpoint))
		}
		return cfg.SiteID
	}
	serial := func() string {
		if id == "" {
			fatal("raw", fmt.Errorf("device serial required for %s", endpoint))
		}
		return client.ResolveDevice(ctx, id)
	}

	var (
		data any
		err  error
	)
	switch endpoint {
	case "account":
		data, err = client.Account(ctx)
	case "sites":
		data, err = client.Raw(ctx, "GET", "/v3/sites/")
	case "site":
		data, err = client.Site(ctx, siteID())
	case "zones":
		data, err = client.Raw(ctx, "GET", "/v3/sites/"+siteID()+"/zones")
	case "zone":
		if id == "" {
			fatal("raw", fmt.Errorf("zone id required"))
		}
		data, err = client.ZoneDetail(ctx, id)
	case "groups":
		data, err = client.Groups(ctx, siteID())
	case "weather":
		data, err = client.Weather(ctx, siteID())
	case "device":
		data, err = client.Device(ctx, serial())
	case "device-status":
		data, err = client.DeviceStatusRaw(ctx, serial())
	case "device-profile":
		data, err = client.DeviceProfile(ctx, serial())
	case "device-props":
		data, err = client.DeviceProperties(ctx, serial())
	default:
		fatal("raw", fmt.Errorf("unknown endpoint %q", endpoint))
	}
	if err != nil {
		fatal("raw "+endpoint, err)
	}
	printJSON(data)
}

func usage() {
	fmt.Println("kumoctl <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  login                                 login and cache tokens")
	fmt.Println("  status [-d device] [-v] [-r] [--json] show device status")
	fmt.Println("  set-temp <device> <tempF> [-m mode]   set target temperature (°F)")
	fmt.Println("  set-mode <device> <mode>              off, cool, heat, dry, fan, auto")
	fmt.Println("  set-fan <device> <speed>              superQuiet..superPowerful, auto")
	fmt.Println("  set-vane <device> <direction>         auto..vertical, swing")
	fmt.Println("  on <device> / off <device>            power control")
	fmt.Println("  raw <endpoint> [id]                   raw API passthrough")
	fmt.Println("  serve [--listen :9769]                prometheus/MQTT exporter")
	fmt.Println("")
	fmt.Println("Use -r/--refresh on status to force live reads from the devices;")
	fmt.Println("without it the cloud may serve stale cached values.")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
