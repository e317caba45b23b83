package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hvackit/kumo/internal/config"
	"github.com/hvackit/kumo/kumo"
)

// mqttClient publishes retained device-state messages, one topic per
// device under the configured prefix.
type mqttClient struct {
	client mqtt.Client
	prefix string
}

func newMQTTClient(cfg config.Serve) (*mqttClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetClientID("kumoctl-" + randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	prefix := cfg.MQTTTopicPrefix
	if prefix == "" {
		prefix = "kumo"
	}
	return &mqttClient{client: client, prefix: prefix}, nil
}

func (c *mqttClient) publishState(d kumo.DeviceStatus) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	topic := c.prefix + "/" + d.Name + "/state"
	if token := c.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func randomClientID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
