package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"soilguard/internal/config"
)

// Publisher is the part of mqtt.Client the dispatcher needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTDispatcher publishes payloads to "<prefix>/<sensor id>".
type MQTTDispatcher struct {
	client  Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	closer  func()
}

func NewMQTTDispatcher(cfg config.MQTTConfig, logger *slog.Logger) (*MQTTDispatcher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	if logger != nil {
		logger.Info("mqtt dispatcher connected", "broker", cfg.Broker, "topic_prefix", cfg.TopicPrefix)
	}
	d := NewMQTTDispatcherWithClient(client, cfg.TopicPrefix, cfg.QoS)
	d.closer = func() { client.Disconnect(250) }
	return d, nil
}

func NewMQTTDispatcherWithClient(client Publisher, prefix string, qos byte) *MQTTDispatcher {
	return &MQTTDispatcher{
		client:  client,
		prefix:  strings.TrimRight(prefix, "/"),
		qos:     qos,
		timeout: 5 * time.Second,
	}
}

func (d *MQTTDispatcher) Name() string { return "mqtt" }

func (d *MQTTDispatcher) Topic(sensorID int64) string {
	return d.prefix + "/" + strconv.FormatInt(sensorID, 10)
}

func (d *MQTTDispatcher) Dispatch(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	token := d.client.Publish(d.Topic(p.SensorID), d.qos, false, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.timeout):
		return fmt.Errorf("publish alert %d: timeout", p.AlertID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish alert %d: %w", p.AlertID, err)
	}
	return nil
}

func (d *MQTTDispatcher) Close() {
	if d.closer != nil {
		d.closer()
	}
}
