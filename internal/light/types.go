// Package light holds the pure brightness/color aggregation and command
// translation logic. Nothing in this package performs I/O or keeps state
// between calls; snapshots are always passed in explicitly.
package light

import (
	"fmt"
	"strings"
)

// Domain is the entity id namespace of controllable lights.
const Domain = "light"

// MaxBrightness is the top of the platform brightness scale.
const MaxBrightness = 255

// RGB is a display color with 0-255 channels.
type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Hex returns the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", clampChannel(c.R), clampChannel(c.G), clampChannel(c.B))
}

// State is a read-only snapshot of one light or group entity.
type State struct {
	ID         string
	On         bool
	Brightness int  // 0-255, meaningful only when On
	Color      *RGB // nil when the light reports no RGB color
	// ColorTempKelvin is set when the light reports a color temperature.
	ColorTempKelvin *int
	// Members lists member light ids for group entities, nil otherwise.
	Members []string
	AreaID  string
}

// IsGroup reports whether the entity exposes a member list.
func (s State) IsGroup() bool {
	return s.Members != nil
}

// StateIndex maps entity id to its current state.
type StateIndex map[string]State

// AreaIndex maps area id to area display name.
type AreaIndex map[string]string

// Snapshot is one consistent view of the platform. A newer snapshot fully
// replaces an older one.
type Snapshot struct {
	States StateIndex
	Areas  AreaIndex
}

// IsLightID reports whether id belongs to the light domain.
func IsLightID(id string) bool {
	return strings.HasPrefix(id, Domain+".")
}

// AggregateResult is the value displayed by a slider.
type AggregateResult struct {
	BrightnessPercent int  `json:"brightness_percent"`
	Color             RGB  `json:"color"`
	HasColor          bool `json:"has_color"`
}

func clampChannel(v int) int {
	return clampInt(v, 0, 255)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
