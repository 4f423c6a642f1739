package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/lightslider/internal/light"
)

const sampleConfig = `
homeassistant:
  url: ${LIGHTSLIDER_TEST_HA_URL:http://ha.local:8123}
  token: ${LIGHTSLIDER_TEST_TOKEN}
  timeout: 3s
sliders:
  - name: living
    entity: light.living_room
  - name: kitchen
    area: Kitchen
    mode: relative
  - name: desk
    light: light.desk
    turn_on_if_above_zero: false
    only_affect_on_lights: true
    fallback_color_temp: 2700
http:
  enabled: true
  port: 9000
`

func TestParse_DefaultsAndEnv(t *testing.T) {
	t.Setenv("LIGHTSLIDER_TEST_TOKEN", "secret")

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.HomeAssistant.URL != "http://ha.local:8123" {
		t.Errorf("URL = %q, default not applied", cfg.HomeAssistant.URL)
	}
	if cfg.HomeAssistant.Token != "secret" {
		t.Errorf("Token = %q, env not expanded", cfg.HomeAssistant.Token)
	}
	if cfg.HomeAssistant.Timeout.Duration() != 3*time.Second {
		t.Errorf("Timeout = %v", cfg.HomeAssistant.Timeout.Duration())
	}
	if cfg.HomeAssistant.RetryMultiplier != 2.0 {
		t.Errorf("RetryMultiplier = %v", cfg.HomeAssistant.RetryMultiplier)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.HTTP.Addr() != "0.0.0.0:9000" {
		t.Errorf("HTTP.Addr() = %q", cfg.HTTP.Addr())
	}
	if cfg.Dispatch.RateLimitRPS != 20 {
		t.Errorf("Dispatch.RateLimitRPS = %v", cfg.Dispatch.RateLimitRPS)
	}
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("MQTT.DiscoveryPrefix = %q", cfg.MQTT.DiscoveryPrefix)
	}
}

func TestSliderConfig_TargetAndPolicy(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		name   string
		slider SliderConfig
		target light.Target
		policy light.Policy
		title  string
	}{
		{
			name:   "entity_is_group",
			slider: cfg.Sliders[0],
			target: light.GroupTarget{EntityID: "light.living_room"},
			policy: light.Policy{Mode: light.ModeAbsolute, TurnOnIfOff: true},
			title:  "Room Brightness",
		},
		{
			name:   "area",
			slider: cfg.Sliders[1],
			target: light.AreaTarget{Name: "Kitchen"},
			policy: light.Policy{Mode: light.ModeRelative, TurnOnIfOff: true},
			title:  "Relative Brightness",
		},
		{
			name:   "single_light",
			slider: cfg.Sliders[2],
			target: light.SingleTarget{EntityID: "light.desk"},
			policy: light.Policy{Mode: light.ModeAbsolute, TurnOnIfOff: false, OnlyAffectOnLights: true},
			title:  "Room Brightness",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.slider.Target(); got != tt.target {
				t.Errorf("Target() = %v, want %v", got, tt.target)
			}
			if got := tt.slider.Policy(); got != tt.policy {
				t.Errorf("Policy() = %+v, want %+v", got, tt.policy)
			}
			if got := tt.slider.GetTitle(); got != tt.title {
				t.Errorf("GetTitle() = %q, want %q", got, tt.title)
			}
		})
	}

	if cfg.Sliders[0].FallbackColorTemp != 4000 || cfg.Sliders[2].FallbackColorTemp != 2700 {
		t.Errorf("FallbackColorTemp = %d/%d", cfg.Sliders[0].FallbackColorTemp, cfg.Sliders[2].FallbackColorTemp)
	}
}

func TestSliderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		slider  SliderConfig
		wantErr error
	}{
		{
			name:    "no_target",
			slider:  SliderConfig{Name: "x", Mode: light.ModeAbsolute},
			wantErr: ErrNoTarget,
		},
		{
			name:    "entity_and_area",
			slider:  SliderConfig{Name: "x", Entity: "light.a", Area: "Kitchen", Mode: light.ModeAbsolute},
			wantErr: ErrAmbiguousTarget,
		},
		{
			name:    "missing_name",
			slider:  SliderConfig{Entity: "light.a", Mode: light.ModeAbsolute},
			wantErr: ErrMissingName,
		},
		{
			name:    "bad_mode",
			slider:  SliderConfig{Name: "x", Entity: "light.a", Mode: "sideways"},
			wantErr: ErrInvalidMode,
		},
		{
			name:   "ok",
			slider: SliderConfig{Name: "x", Area: "Kitchen", Mode: light.ModeRelative},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.slider.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(sampleConfig))
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Sliders = append(cfg.Sliders, SliderConfig{Name: "living", Entity: "light.x", Mode: light.ModeAbsolute})
	err := cfg.Validate()
	if !errors.Is(err, ErrDuplicateSlider) {
		t.Errorf("duplicate: Validate() error = %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "sliders[living]" {
		t.Errorf("duplicate: expected ValidationError on sliders[living], got %v", err)
	}

	cfg = base()
	cfg.Sliders = nil
	if err := cfg.Validate(); !errors.Is(err, ErrNoSliders) {
		t.Errorf("no sliders: Validate() error = %v", err)
	}

	cfg = base()
	cfg.HomeAssistant.URL = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingHAURL) {
		t.Errorf("no url: Validate() error = %v", err)
	}

	cfg = base()
	cfg.Sliders[1].Area = ""
	if err := cfg.Validate(); !errors.Is(err, ErrNoTarget) {
		t.Errorf("no target: Validate() error = %v", err)
	}

	cfg = base()
	cfg.MQTT.Enabled = true
	if err := cfg.Validate(); !errors.Is(err, ErrMissingBroker) {
		t.Errorf("mqtt without broker: Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Sliders) != 3 {
		t.Errorf("len(Sliders) = %d, want 3", len(cfg.Sliders))
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("homeassistant:\n  url: http://x\nsliders:\n  - name: a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); !errors.Is(err, ErrNoTarget) {
		t.Errorf("Load(bad) error = %v, want ErrNoTarget", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load(missing) expected error")
	}
}

func TestDuration_Invalid(t *testing.T) {
	if _, err := Parse([]byte("homeassistant:\n  timeout: soon\n")); err == nil {
		t.Error("expected error for invalid duration")
	}
}
