package light

import "math"

// AggregateBrightness returns the mean brightness of the targets that are on,
// as a rounded percentage. Zero lights on yields 0.
func AggregateBrightness(targets []string, states StateIndex) int {
	total, count := 0, 0
	for _, id := range targets {
		s, ok := states[id]
		if !ok || !s.On {
			continue
		}
		total += clampInt(s.Brightness, 0, MaxBrightness)
		count++
	}
	if count == 0 {
		return 0
	}

	avg := float64(total) / float64(count)
	return int(math.Round(avg / MaxBrightness * 100))
}

// AggregateColor averages each channel over the on-lights reporting RGB.
// The bool is false when no such light exists.
func AggregateColor(targets []string, states StateIndex) (RGB, bool) {
	var r, g, b, count int
	for _, id := range targets {
		s, ok := states[id]
		if !ok || !s.On || s.Color == nil {
			continue
		}
		r += s.Color.R
		g += s.Color.G
		b += s.Color.B
		count++
	}
	if count == 0 {
		return RGB{}, false
	}

	n := float64(count)
	return RGB{
		R: clampChannel(int(math.Round(float64(r) / n))),
		G: clampChannel(int(math.Round(float64(g) / n))),
		B: clampChannel(int(math.Round(float64(b) / n))),
	}, true
}

// AggregateColorTemp averages the color temperature (Kelvin) of the on-lights
// reporting one. The bool is false when no such light exists.
func AggregateColorTemp(targets []string, states StateIndex) (int, bool) {
	total, count := 0, 0
	for _, id := range targets {
		s, ok := states[id]
		if !ok || !s.On || s.ColorTempKelvin == nil {
			continue
		}
		total += *s.ColorTempKelvin
		count++
	}
	if count == 0 {
		return 0, false
	}
	return int(math.Round(float64(total) / float64(count))), true
}

// Aggregate computes brightness and color in one pass over the snapshot.
func Aggregate(targets []string, states StateIndex) AggregateResult {
	color, ok := AggregateColor(targets, states)
	return AggregateResult{
		BrightnessPercent: AggregateBrightness(targets, states),
		Color:             color,
		HasColor:          ok,
	}
}
