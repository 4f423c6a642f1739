// Package mqtt exposes sliders as Home Assistant MQTT number entities.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/config"
	"github.com/dokzlo13/lightslider/internal/eventbus"
	"github.com/dokzlo13/lightslider/internal/slider"
)

// Sliders is the slider surface the bridge drives. *slider.Manager satisfies it.
type Sliders interface {
	Views() []slider.View
	Apply(ctx context.Context, name string, input int) (slider.ApplyResult, error)
}

// Bridge publishes slider positions and forwards number commands.
type Bridge struct {
	client      pahomqtt.Client
	topics      Topics
	sliders     Sliders
	callTimeout time.Duration
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(cfg config.MQTTConfig, sliders Sliders, callTimeout time.Duration) (*Bridge, error) {
	b := &Bridge{
		topics: Topics{
			Prefix:          cfg.TopicPrefix,
			DiscoveryPrefix: cfg.DiscoveryPrefix,
		},
		sliders:     sliders,
		callTimeout: callTimeout,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.topics.BridgeState(), PayloadOffline, 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
			b.publish(b.topics.BridgeState(), []byte(PayloadOnline))
			b.publishAll()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return b, nil
}

// Subscribe publishes slider changes from the bus.
func (b *Bridge) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeSliderUpdated, func(e eventbus.Event) {
		if view, ok := e.Payload.(slider.View); ok {
			b.publishState(view)
		}
	})
}

// Stop publishes offline state and disconnects.
func (b *Bridge) Stop() {
	b.publish(b.topics.BridgeState(), []byte(PayloadOffline))
	b.client.Disconnect(1000)
	log.Info().Msg("MQTT bridge stopped")
}

func (b *Bridge) publishAll() {
	for _, view := range b.sliders.Views() {
		payload, err := json.Marshal(b.topics.NumberDiscovery(view))
		if err != nil {
			log.Error().Err(err).Str("slider", view.Name).Msg("Failed to encode MQTT discovery")
			continue
		}
		b.publish(b.topics.Discovery(view.Name), payload)
		b.publishState(view)
	}
}

func (b *Bridge) publishState(view slider.View) {
	b.publish(b.topics.State(view.Name), []byte(strconv.Itoa(view.Value)))
}

func (b *Bridge) subscribeCommands() {
	topic := b.topics.CommandWildcard()
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		// Paho delivers on its own goroutine; keep it free.
		go b.handleCommand(msg.Topic(), msg.Payload())
	})
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
	}
}

// handleCommand applies a number command. Errors are logged only.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	name, value, err := b.topics.ParseCommand(topic, payload)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring MQTT command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.callTimeout)
	defer cancel()

	if _, err := b.sliders.Apply(ctx, name, value); err != nil {
		log.Warn().Err(err).Str("slider", name).Int("value", value).Msg("MQTT slider command failed")
	}
}

func (b *Bridge) publish(topic string, payload []byte) {
	if b.client == nil {
		return
	}
	token := b.client.Publish(topic, 1, true, payload)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}
