package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/plug"
	"github.com/smukkama/heating-monitor/pkg/config"
)

const (
	qos            = 1
	publishTimeout = 2 * time.Second
	reportTimeout  = 5 * time.Second
)

// Reporter receives the state confirmed by the device. *plug.Engine implements it.
type Reporter interface {
	ReportState(ctx context.Context, state plug.State) (*plug.Record, error)
}

// Bridge pushes the desired plug state to the device over MQTT and feeds
// reported states back into the engine. Polling over HTTP keeps working alongside.
type Bridge struct {
	client mqtt.Client
	prefix string
	log    *zap.Logger

	mu       sync.Mutex
	reporter Reporter
}

// Connect opens the broker connection. Subscriptions start with Start.
func Connect(cfg *config.MQTTConfig, log *zap.Logger) (*Bridge, error) {
	b := newBridge(nil, cfg.TopicPrefix, log)

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.log.Info("mqtt connected", zap.String("broker", broker))
		if err := b.subscribe(); err != nil {
			b.log.Error("failed to subscribe after connect", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Warn("mqtt connection lost", zap.Error(err))
	})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, token.Error())
	}
	return b, nil
}

func newBridge(client mqtt.Client, prefix string, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{client: client, prefix: strings.TrimSuffix(prefix, "/"), log: log}
}

// DesiredTopic carries the retained desired state
func (b *Bridge) DesiredTopic() string { return b.prefix + "/desired" }

// ReportedTopic is where the device confirms its state
func (b *Bridge) ReportedTopic() string { return b.prefix + "/reported" }

// Start subscribes to the reported topic and forwards reports to r
func (b *Bridge) Start(r Reporter) error {
	b.mu.Lock()
	b.reporter = r
	b.mu.Unlock()
	return b.subscribe()
}

func (b *Bridge) subscribe() error {
	b.mu.Lock()
	ready := b.reporter != nil
	b.mu.Unlock()
	if !ready || b.client == nil {
		return nil
	}

	token := b.client.Subscribe(b.ReportedTopic(), qos, b.handleReported)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.ReportedTopic(), token.Error())
	}
	b.log.Info("subscribed to reported state", zap.String("topic", b.ReportedTopic()))
	return nil
}

// PublishDesired publishes the desired state as a retained message.
// Its signature matches plug.ChangeHook.
func (b *Bridge) PublishDesired(_ context.Context, rec *plug.Record) {
	payload, err := json.Marshal(plug.DeviceCommand{
		DesiredState: rec.DesiredState,
		LastChanged:  rec.LastChanged,
		Mode:         rec.Mode,
	})
	if err != nil {
		b.log.Error("failed to encode desired state", zap.Error(err))
		return
	}

	token := b.client.Publish(b.DesiredTopic(), qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		b.log.Warn("publishing desired state timed out", zap.String("topic", b.DesiredTopic()))
		return
	}
	if err := token.Error(); err != nil {
		b.log.Error("failed to publish desired state", zap.String("topic", b.DesiredTopic()), zap.Error(err))
		return
	}
	b.log.Debug("desired state published", zap.String("state", string(rec.DesiredState)))
}

func (b *Bridge) handleReported(_ mqtt.Client, msg mqtt.Message) {
	state, err := parseReportedPayload(msg.Payload())
	if err != nil {
		b.log.Warn("ignoring reported state", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	b.mu.Lock()
	reporter := b.reporter
	b.mu.Unlock()
	if reporter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if _, err := reporter.ReportState(ctx, state); err != nil {
		b.log.Error("failed to record reported state", zap.String("state", string(state)), zap.Error(err))
	}
}

// Close disconnects from the broker
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Disconnect(250)
	}
}

// parseReportedPayload accepts {"state":"on"}, a Shelly switch status
// {"output":true} or a bare on/off string
func parseReportedPayload(payload []byte) (plug.State, error) {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return "", errors.New("empty payload")
	}

	if strings.HasPrefix(raw, "{") {
		var body struct {
			State  *string `json:"state"`
			Output *bool   `json:"output"`
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return "", fmt.Errorf("invalid JSON payload: %w", err)
		}
		switch {
		case body.State != nil:
			return plug.State(strings.ToLower(*body.State)), nil
		case body.Output != nil && *body.Output:
			return plug.StateOn, nil
		case body.Output != nil:
			return plug.StateOff, nil
		}
		return "", errors.New(`payload has neither "state" nor "output"`)
	}

	return plug.State(strings.ToLower(strings.Trim(raw, `"`))), nil
}
