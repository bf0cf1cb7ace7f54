package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"mecanum/drivetrain"
)

const (
	// DefaultTopic is used when MQTTConfig.Topic is empty.
	DefaultTopic = "mecanum/drivetrain/progress"
	// DefaultClientID is used when MQTTConfig.ClientID is empty.
	DefaultClientID = "mecanum_drivetrain"

	connectTimeout       = 5 * time.Second
	connectRetryInterval = 5 * time.Second
	publishTimeout       = 250 * time.Millisecond
	disconnectQuiesceMs  = 250
)

// MQTTConfig points the sink at a broker.
type MQTTConfig struct {
	// Broker is host:port or a full URL such as tcp://host:1883.
	Broker   string `json:"broker"`
	Topic    string `json:"topic,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes every progress record as JSON.
type MQTTSink struct {
	client publisher
	topic  string
	logger logging.Logger
}

// NewMQTTSink connects to the broker. If the broker does not answer within
// the connect timeout the client keeps retrying in the background and
// publishes fail until it is up.
func NewMQTTSink(cfg MQTTConfig, logger logging.Logger) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.OnConnect = func(mqtt.Client) {
		logger.Infow("connected to MQTT broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnw("MQTT connection lost", "broker", cfg.Broker, "error", err)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetWriteTimeout(publishTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(connectTimeout) {
		logger.Warnw("MQTT broker not reachable yet, retrying in background", "broker", cfg.Broker)
	} else if token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connecting to MQTT broker %s", cfg.Broker)
	}
	return newMQTTSink(client, cfg.Topic, logger), nil
}

func newMQTTSink(client publisher, topic string, logger logging.Logger) *MQTTSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTSink{client: client, topic: topic, logger: logger}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return fmt.Sprintf("tcp://%s", broker)
}

// Report publishes p and waits up to publishTimeout for it to be sent. Wrap
// the sink in Async before giving it to a drivetrain.
func (s *MQTTSink) Report(p drivetrain.Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish to %s timed out", s.topic)
	}
	return errors.Wrapf(token.Error(), "publish to %s", s.topic)
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(disconnectQuiesceMs)
	return nil
}
