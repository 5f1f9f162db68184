package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT publishes every sample as JSON under a topic prefix:
// <prefix>/electricity, <prefix>/slave/<id> and <prefix>/solar.
type MQTT struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

func NewMQTT(client mqtt.Client, prefix string) *MQTT {
	return &MQTT{client: client, prefix: prefix, timeout: 5 * time.Second}
}

// DialMQTT connects a new client to broker.
func DialMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

func (m *MQTT) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.prefix+"/"+topic, 0, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

func (m *MQTT) WriteElectricity(_ context.Context, d *domain.ElectricityDataPoint) error {
	return m.publish("electricity", d)
}

func (m *MQTT) WriteSlave(_ context.Context, d *domain.SlaveDataPoint) error {
	return m.publish(fmt.Sprintf("slave/%d", d.ID), d)
}

func (m *MQTT) WriteSolar(_ context.Context, d *domain.SolarDataPoint) error {
	return m.publish("solar", d)
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
