package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hvackit/kumo/internal/config"
	"github.com/hvackit/kumo/kumo"
)

// serveCmd runs the long-lived exporter: a /metrics endpoint backed by
// on-scrape reads, plus an optional MQTT publish loop.
func serveCmd(cfg config.Config, client *kumo.Client, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := flags.String("listen", "", "listen address (default :9769)")
	interval := flags.Int("interval", 0, "MQTT publish interval in seconds (default 300)")
	broker := flags.String("mqtt-broker", "", "MQTT broker URL, overrides the config file")
	_ = flags.Parse(args)

	addr := *listen
	if addr == "" {
		addr = cfg.Serve.Listen
	}
	if addr == "" {
		addr = ":9769"
	}
	if *interval > 0 {
		cfg.Serve.IntervalSeconds = *interval
	}
	if *broker != "" {
		cfg.Serve.MQTTBroker = *broker
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(kumo.NewMetricsCollector(client))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if cfg.Serve.MQTTBroker != "" {
		go publishLoop(cfg, client)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("serving metrics on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("http serve: %v", err)
	}
}

// publishLoop polls device status and republishes each device's state
// to MQTT. Poll failures are logged and the next tick tries again.
func publishLoop(cfg config.Config, client *kumo.Client) {
	mc, err := newMQTTClient(cfg.Serve)
	if err != nil {
		log.Printf("mqtt connect: %v (state publishing disabled)", err)
		return
	}

	interval := time.Duration(cfg.Serve.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		publishOnce(client, mc)
		<-ticker.C
	}
}

func publishOnce(client *kumo.Client, mc *mqttClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	devices, err := client.AllDevices(ctx, kumo.StatusOptions{Full: true})
	if err != nil {
		log.Printf("mqtt poll: %v", err)
		return
	}
	for _, d := range devices {
		if err := mc.publishState(d); err != nil {
			log.Printf("mqtt publish %s: %v", d.Name, err)
		}
	}
}
