package light

import (
	"fmt"
	"math"
)

// Mode selects how slider input is interpreted.
type Mode string

const (
	// ModeAbsolute treats input as the desired brightness percent (0..100).
	ModeAbsolute Mode = "absolute"
	// ModeRelative treats input as a signed percent delta (-100..100).
	ModeRelative Mode = "relative"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAbsolute || m == ModeRelative
}

// Policy governs command translation. Fixed per slider configuration.
type Policy struct {
	Mode Mode
	// TurnOnIfOff lets absolute input above zero switch off lights on.
	TurnOnIfOff bool
	// OnlyAffectOnLights skips off lights in every mode, overriding TurnOnIfOff.
	OnlyAffectOnLights bool
}

// Action is what to do with a single light.
type Action int

const (
	ActionSkip Action = iota
	ActionTurnOn
	ActionTurnOff
)

// String returns a human-readable name for the action
func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionTurnOn:
		return "turn_on"
	case ActionTurnOff:
		return "turn_off"
	default:
		return fmt.Sprintf("unknown(%d)", a)
	}
}

// Command is the outcome of translation for one light.
// Brightness is set only for ActionTurnOn.
type Command struct {
	LightID    string
	Action     Action
	Brightness int
}

// ComputeCommands translates one slider input into per-light commands.
// Targets missing from states produce no command at all.
func ComputeCommands(targets []string, states StateIndex, input int, policy Policy) []Command {
	commands := make([]Command, 0, len(targets))

	for _, id := range targets {
		s, ok := states[id]
		if !ok {
			continue
		}

		if policy.OnlyAffectOnLights && !s.On {
			commands = append(commands, Command{LightID: id, Action: ActionSkip})
			continue
		}

		if policy.Mode == ModeRelative {
			commands = append(commands, relativeCommand(id, s, input))
		} else {
			commands = append(commands, absoluteCommand(id, s, input, policy.TurnOnIfOff))
		}
	}

	return commands
}

func absoluteCommand(id string, s State, percent int, turnOnIfOff bool) Command {
	percent = clampInt(percent, 0, 100)

	if percent == 0 {
		return Command{LightID: id, Action: ActionTurnOff}
	}
	if !s.On && !turnOnIfOff {
		return Command{LightID: id, Action: ActionSkip}
	}

	// Brightness 0 is indistinguishable from off.
	bri := clampInt(PercentToBrightness(percent), 1, MaxBrightness)
	return Command{LightID: id, Action: ActionTurnOn, Brightness: bri}
}

func relativeCommand(id string, s State, delta int) Command {
	if !s.On {
		return Command{LightID: id, Action: ActionSkip}
	}

	delta = clampInt(delta, -100, 100)
	bri := clampInt(s.Brightness+PercentToBrightness(delta), 1, MaxBrightness)
	return Command{LightID: id, Action: ActionTurnOn, Brightness: bri}
}

// PercentToBrightness converts a (possibly negative) percent to the 0-255
// scale, rounding half away from zero.
func PercentToBrightness(percent int) int {
	return int(math.Round(float64(percent) / 100 * MaxBrightness))
}
