package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/energycommunity/pkg/log"
	"github.com/raterudder/energycommunity/pkg/metrics"
	"github.com/raterudder/energycommunity/pkg/sensor"
)

const (
	mqttSinkName   = "mqtt"
	publishTimeout = 10 * time.Second
)

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes each entity as a retained JSON message on
// {prefix}/{unique_id}/state.
type MQTTSink struct {
	client publisher
	prefix string
}

// NewMQTTSink returns a sink publishing through an already connected client.
func NewMQTTSink(client mqtt.Client, prefix string) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix}
}

// ConfiguredMQTT registers the MQTT flags and connects once flags are parsed.
// The sink stays disabled when no broker is configured.
func ConfiguredMQTT() *MQTTSink {
	s := &MQTTSink{}

	broker := lflag.String("mqtt-broker", "", "MQTT broker to publish entity states to (e.g. tcp://localhost:1883), disabled when empty")
	prefix := lflag.String("mqtt-topic-prefix", sensor.Domain, "Prefix of the MQTT topics entity states are published on")
	clientID := lflag.String("mqtt-client-id", "", "MQTT client id, random when empty")

	lflag.Do(func() {
		s.prefix = *prefix
		if *broker == "" {
			return
		}
		id := *clientID
		if id == "" {
			id = "energycommunity-" + uuid.NewString()
		}
		opts := mqtt.NewClientOptions().
			AddBroker(*broker).
			SetClientID(id).
			SetAutoReconnect(true).
			SetConnectTimeout(publishTimeout)
		c := mqtt.NewClient(opts)
		if token := c.Connect(); token.Wait() && token.Error() != nil {
			panic(fmt.Sprintf("failed to connect to mqtt broker: %v", token.Error()))
		}
		s.client = c
	})

	return s
}

// Enabled reports whether a broker is configured.
func (s *MQTTSink) Enabled() bool {
	return s != nil && s.client != nil
}

// Name implements Sink.
func (s *MQTTSink) Name() string {
	return mqttSinkName
}

// Topic returns the state topic of an entity.
func (s *MQTTSink) Topic(uniqueID string) string {
	if s.prefix == "" {
		return uniqueID + "/state"
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + uniqueID + "/state"
}

// Publish implements Sink.
func (s *MQTTSink) Publish(ctx context.Context, entities []sensor.Entity) error {
	if !s.Enabled() {
		return nil
	}
	var errs []error
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		payload, err := json.Marshal(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode %s: %w", e.UniqueID, err))
			continue
		}
		token := s.client.Publish(s.Topic(e.UniqueID), 1, true, payload)
		if !token.WaitTimeout(publishTimeout) {
			errs = append(errs, fmt.Errorf("timed out publishing %s", e.UniqueID))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish %s: %w", e.UniqueID, err))
		}
	}
	err := errors.Join(errs...)
	metrics.ObservePublish(mqttSinkName, err)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish entities to mqtt", slog.Any("error", err))
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "published entities to mqtt", slog.Int("count", len(entities)))
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if !s.Enabled() {
		return nil
	}
	s.client.Disconnect(250)
	return nil
}
