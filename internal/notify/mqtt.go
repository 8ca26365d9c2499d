package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bradnewfield/zmonvif/internal/config"
	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
	"github.com/bradnewfield/zmonvif/internal/logger"
)

const (
	connectTimeout   = 5 * time.Second
	keepAlive        = 5 * time.Second
	pingTimeout      = time.Second
	disconnectMillis = 250

	motionQoS = 1
)

// MQTTNotifier mirrors motion transitions to an MQTT broker. Each monitor
// gets two topics under the configured prefix:
//
//	<prefix>/<id>/motion     - "true" or "false", not retained
//	<prefix>/<id>/lastMotion - unix timestamp of the last start, retained
//
// Publish failures are logged and swallowed; the mirror never blocks alarm
// handling.
type MQTTNotifier struct {
	client      mqtt.Client
	topicPrefix string
}

// NewMQTTNotifier connects to the broker described by cfg.
func NewMQTTNotifier(cfg *config.MQTTConfig) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}

	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(pingTimeout)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %q: %w", cfg.Broker, token.Error())
	}

	return &MQTTNotifier{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
	}, nil
}

// PublishMotion mirrors one transition. A start additionally refreshes the
// retained last-motion timestamp.
func (n *MQTTNotifier) PublishMotion(ctx context.Context, m *monitor.Monitor, on bool) {
	topic := n.monitorTopic(m)

	n.publish(ctx, topic+"/motion", false, strconv.FormatBool(on))

	if on {
		n.publish(ctx, topic+"/lastMotion", true, strconv.FormatInt(time.Now().Unix(), 10))
	}
}

// Close disconnects from the broker, allowing in-flight messages a short
// grace period.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(disconnectMillis)
}

func (n *MQTTNotifier) monitorTopic(m *monitor.Monitor) string {
	return n.topicPrefix + "/" + strconv.Itoa(m.ID)
}

func (n *MQTTNotifier) publish(ctx context.Context, topic string, retained bool, payload string) {
	token := n.client.Publish(topic, motionQoS, retained, payload)
	token.Wait()

	if err := token.Error(); err != nil {
		logger.WarnKV(ctx, "MQTT publish failed", "topic", topic, "error", err)
	}
}
