// Package slider binds slider configurations to the light core: it keeps each
// slider's displayed value current and turns user input into light commands.
package slider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dokzlo13/lightslider/internal/config"
	"github.com/dokzlo13/lightslider/internal/dispatch"
	"github.com/dokzlo13/lightslider/internal/light"
)

var (
	// ErrNotConfigured is returned when a card is used before SetConfiguration.
	ErrNotConfigured = errors.New("slider is not configured")
	// ErrNotReady is returned when input arrives before the first snapshot.
	ErrNotReady = errors.New("slider has no light state yet")
)

// Widget is the capability every slider surface implements.
type Widget interface {
	SetConfiguration(cfg config.SliderConfig) error
	OnStateUpdate(snap light.Snapshot)
	Render() View
}

// Dispatcher sends a command batch. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, slider string, input int, commands []light.Command) (string, []dispatch.Result)
}

// View is what a slider surface displays.
type View struct {
	Name  string     `json:"name"`
	Title string     `json:"title"`
	Mode  light.Mode `json:"mode"`
	// Value is the slider position: the aggregate percent in absolute mode,
	// always 0 in relative mode.
	Value int `json:"value"`
	// Brightness is the aggregate percent regardless of mode.
	Brightness int    `json:"brightness"`
	Color      string `json:"color"`
	// ColorTemp is the mean color temperature behind Color when no light
	// reports RGB.
	ColorTemp     int      `json:"color_temp_kelvin,omitempty"`
	ColorFallback bool     `json:"color_fallback"`
	HueHint       string   `json:"hue_hint"`
	Targets       []string `json:"targets"`
	Ready         bool     `json:"ready"`
}

// ApplyResult describes one handled slider input.
type ApplyResult struct {
	BatchID  string            `json:"batch_id"`
	Input    int               `json:"input"`
	Skipped  int               `json:"skipped"`
	Commands []dispatch.Result `json:"commands"`
}

// Card is a single slider. Safe for concurrent use.
type Card struct {
	dispatcher Dispatcher

	mu         sync.RWMutex
	cfg        config.SliderConfig
	configured bool
	snapshot   light.Snapshot
	hasState   bool
	targets    []string
	result     light.AggregateResult
	colorTemp  int // 0 when no on-light reports one
}

var _ Widget = (*Card)(nil)

// NewCard creates an unconfigured card.
func NewCard(d Dispatcher) *Card {
	return &Card{dispatcher: d}
}

// SetConfiguration validates and installs cfg. An invalid configuration is
// refused and the previous one kept.
func (c *Card) SetConfiguration(cfg config.SliderConfig) error {
	if cfg.Mode == "" {
		cfg.Mode = light.ModeAbsolute
	}
	if cfg.FallbackColorTemp == 0 {
		cfg.FallbackColorTemp = config.DefaultFallbackColorTemp
	}
	if err := cfg.Validate(); err != nil {
		return &config.ValidationError{Field: fmt.Sprintf("sliders[%s]", cfg.Name), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	c.configured = true
	if c.hasState {
		c.recompute()
	}
	return nil
}

// Name returns the configured slider name.
func (c *Card) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Name
}

// Config returns the installed configuration.
func (c *Card) Config() config.SliderConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// OnStateUpdate replaces the card's snapshot and recomputes its value.
func (c *Card) OnStateUpdate(snap light.Snapshot) {
	c.update(snap)
}

// update is OnStateUpdate reporting whether the displayed aggregate or
// target set changed.
func (c *Card) update(snap light.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevResult, prevTargets, prevTemp, hadState := c.result, c.targets, c.colorTemp, c.hasState

	c.snapshot = snap
	c.hasState = true
	if !c.configured {
		return false
	}
	c.recompute()

	return !hadState || prevResult != c.result || prevTemp != c.colorTemp ||
		!equalStrings(prevTargets, c.targets)
}

// restore seeds the displayed aggregate from a persisted value. Ignored once
// real state has arrived.
func (c *Card) restore(result light.AggregateResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasState {
		c.result = result
	}
}

// aggregate returns the current aggregate and whether it came from live state.
func (c *Card) aggregate() (light.AggregateResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result, c.hasState
}

func (c *Card) recompute() {
	c.targets = light.Resolve(c.cfg.Target(), c.snapshot.States, c.snapshot.Areas)
	c.result = light.Aggregate(c.targets, c.snapshot.States)
	c.colorTemp, _ = light.AggregateColorTemp(c.targets, c.snapshot.States)
}

// Render returns the current view.
func (c *Card) Render() View {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := View{
		Name:       c.cfg.Name,
		Title:      c.cfg.GetTitle(),
		Mode:       c.cfg.Mode,
		Brightness: c.result.BrightnessPercent,
		Targets:    append([]string{}, c.targets...),
		Ready:      c.configured && c.hasState,
	}

	if c.cfg.Mode != light.ModeRelative {
		v.Value = c.result.BrightnessPercent
	}

	switch {
	case c.result.HasColor:
		v.Color = c.result.Color.Hex()
	case c.colorTemp > 0:
		v.ColorTemp = c.colorTemp
		v.Color = light.KelvinToRGB(c.colorTemp).Hex()
	default:
		v.Color = light.KelvinToRGB(c.cfg.FallbackColorTemp).Hex()
		v.ColorFallback = true
	}
	v.HueHint = fmt.Sprintf("hsl(%d, 80%%, 50%%)", v.Value)

	return v
}

// Apply translates input against the latest snapshot and dispatches the
// resulting commands. Input is a percent in absolute mode and a signed
// percent delta in relative mode.
func (c *Card) Apply(ctx context.Context, input int) (ApplyResult, error) {
	c.mu.RLock()
	if !c.configured {
		c.mu.RUnlock()
		return ApplyResult{}, ErrNotConfigured
	}
	if !c.hasState {
		c.mu.RUnlock()
		return ApplyResult{}, ErrNotReady
	}
	name := c.cfg.Name
	policy := c.cfg.Policy()
	input = clampInput(input, policy.Mode)
	commands := light.ComputeCommands(c.targets, c.snapshot.States, input, policy)
	c.mu.RUnlock()

	batchID, results := c.dispatcher.Dispatch(ctx, name, input, commands)
	if results == nil {
		results = []dispatch.Result{}
	}

	return ApplyResult{
		BatchID:  batchID,
		Input:    input,
		Skipped:  len(commands) - len(results),
		Commands: results,
	}, nil
}

func clampInput(input int, mode light.Mode) int {
	lo := 0
	if mode == light.ModeRelative {
		lo = -100
	}
	if input < lo {
		return lo
	}
	if input > 100 {
		return 100
	}
	return input
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
