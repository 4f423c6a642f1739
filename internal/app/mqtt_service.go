package app

import (
	"github.com/dokzlo13/lightslider/internal/config"
	"github.com/dokzlo13/lightslider/internal/eventbus"
	"github.com/dokzlo13/lightslider/internal/mqtt"
)

// MQTTService exposes sliders as MQTT number entities.
type MQTTService struct {
	cfg     *config.Config
	sliders mqtt.Sliders
	Bridge  *mqtt.Bridge
}

// NewMQTTService creates a new MQTTService. Nothing connects until Start.
func NewMQTTService(cfg *config.Config, sliders mqtt.Sliders) *MQTTService {
	return &MQTTService{cfg: cfg, sliders: sliders}
}

// Start connects to the broker if enabled.
func (s *MQTTService) Start(bus *eventbus.Bus) error {
	if !s.cfg.MQTT.Enabled {
		return nil
	}

	bridge, err := mqtt.NewBridge(s.cfg.MQTT, s.sliders, s.cfg.Dispatch.CallTimeout.Duration()*2)
	if err != nil {
		return err
	}
	bridge.Subscribe(bus)
	s.Bridge = bridge
	return nil
}

// Close disconnects from the broker.
func (s *MQTTService) Close() {
	if s.Bridge != nil {
		s.Bridge.Stop()
	}
}
