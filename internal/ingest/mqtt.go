package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/halcyon-data/inventory.report/internal/monitoring"
	"github.com/halcyon-data/inventory.report/internal/pipeline"
)

// Topics published by the reader firmware and the traffic generator.
const (
	TopicProduction = "store/production"
	TopicSimulation = "store/simulation"
)

// MQTTConfig configures the broker bridge.
type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topics   []string
}

// MQTTSource subscribes to reader topics on an MQTT broker and feeds the
// payloads into the pipeline. Remote readers publish the same JSON packet
// format the serial transport carries.
type MQTTSource struct {
	config    MQTTConfig
	processor Processor
}

// NewMQTTSource creates an MQTT ingest source. An empty topic list
// defaults to the production topic.
func NewMQTTSource(config MQTTConfig, processor Processor) *MQTTSource {
	if config.ClientID == "" {
		config.ClientID = "inventory-report"
	}
	if len(config.Topics) == 0 {
		config.Topics = []string{TopicProduction}
	}
	return &MQTTSource{config: config, processor: processor}
}

// Run connects to the broker and processes messages until the context is
// cancelled. Subscriptions are re-established on every (re)connect so a
// broker restart does not silence ingest.
func (s *MQTTSource) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.config.Broker).
		SetClientID(s.config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)

	opts.OnConnect = func(client mqtt.Client) {
		monitoring.Logf("[Ingest] connected to MQTT broker %s", s.config.Broker)
		for _, topic := range s.config.Topics {
			token := client.Subscribe(topic, 1, s.handleMessage(ctx))
			go func(topic string, token mqtt.Token) {
				token.Wait()
				if err := token.Error(); err != nil {
					monitoring.Logf("[Ingest] failed to subscribe to %s: %v", topic, err)
					return
				}
				monitoring.Logf("[Ingest] subscribed to %s", topic)
			}(topic, token)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("[Ingest] MQTT connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.config.Broker, token.Error())
	}

	<-ctx.Done()
	client.Disconnect(250)
	return ctx.Err()
}

func (s *MQTTSource) handleMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		pkt, err := pipeline.DecodeScanPacket(msg.Payload())
		if err != nil {
			monitoring.Logf("[Ingest] skipping bad packet on %s: %v", msg.Topic(), err)
			return
		}
		s.processor.Process(ctx, pkt)
	}
}
