package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/lightslider/internal/light"
	"github.com/dokzlo13/lightslider/internal/slider"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// ErrInvalidCommand is returned for messages that are not slider commands.
var ErrInvalidCommand = errors.New("invalid command")

// DiscoveryConfig is a Home Assistant MQTT discovery payload for a number entity.
type DiscoveryConfig struct {
	Device            DiscoveryDevice `json:"device"`
	StateTopic        string          `json:"state_topic"`
	CommandTopic      string          `json:"command_topic"`
	AvTopic           string          `json:"availability_topic"`
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	Platform          string          `json:"platform"`
	Icon              string          `json:"icon,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	Min               int             `json:"min"`
	Max               int             `json:"max"`
	Step              int             `json:"step"`
	Mode              string          `json:"mode"`
}

// DiscoveryDevice groups every slider under one device in Home Assistant.
type DiscoveryDevice struct {
	ID           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
}

// Topics builds every topic used by the bridge.
type Topics struct {
	Prefix          string
	DiscoveryPrefix string
}

// BridgeState is the retained availability topic.
func (t Topics) BridgeState() string {
	return t.Prefix + "/bridge/state"
}

// State is where a slider's position is published.
func (t Topics) State(name string) string {
	return fmt.Sprintf("%s/number/%s/state", t.Prefix, name)
}

// Command is where Home Assistant writes a new slider position.
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/number/%s/set", t.Prefix, name)
}

// CommandWildcard subscribes to every slider's command topic.
func (t Topics) CommandWildcard() string {
	return t.Prefix + "/number/+/set"
}

// Discovery is the retained discovery config topic for a slider.
func (t Topics) Discovery(name string) string {
	return fmt.Sprintf("%s/number/%s/%s/config", t.DiscoveryPrefix, t.Prefix, name)
}

// NumberDiscovery describes a slider as a number entity. Relative sliders
// accept a signed delta.
func (t Topics) NumberDiscovery(view slider.View) DiscoveryConfig {
	cfg := DiscoveryConfig{
		Device: DiscoveryDevice{
			ID:           []string{t.Prefix},
			Manufacturer: "lightslider",
			Model:        "Brightness sliders",
			Name:         t.Prefix,
		},
		StateTopic:        t.State(view.Name),
		CommandTopic:      t.Command(view.Name),
		AvTopic:           t.BridgeState(),
		Name:              view.Title,
		UniqueID:          t.Prefix + "_" + view.Name,
		Platform:          "mqtt",
		Icon:              "mdi:brightness-6",
		UnitOfMeasurement: "%",
		Min:               0,
		Max:               100,
		Step:              1,
		Mode:              "slider",
	}
	if view.Mode == light.ModeRelative {
		cfg.Min = -100
		cfg.Icon = "mdi:brightness-percent"
	}
	return cfg
}

// ParseCommand extracts the slider name and value from a command message.
// Fractional values are truncated toward zero.
func (t Topics) ParseCommand(topic string, payload []byte) (string, int, error) {
	head := t.Prefix + "/number/"
	if !strings.HasPrefix(topic, head) || !strings.HasSuffix(topic, "/set") {
		return "", 0, fmt.Errorf("%w: unexpected topic %q", ErrInvalidCommand, topic)
	}
	name := strings.TrimSuffix(strings.TrimPrefix(topic, head), "/set")
	if name == "" || strings.Contains(name, "/") {
		return "", 0, fmt.Errorf("%w: unexpected topic %q", ErrInvalidCommand, topic)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: payload %q is not a number", ErrInvalidCommand, payload)
	}
	return name, int(value), nil
}
