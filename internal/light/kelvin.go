package light

import "math"

// Color temperature range accepted by KelvinToRGB.
const (
	MinKelvin = 2000
	MaxKelvin = 6500
)

// KelvinToRGB approximates the display color of a black body at the given
// temperature. Input is clamped to [MinKelvin, MaxKelvin].
func KelvinToRGB(kelvin int) RGB {
	k := clampInt(kelvin, MinKelvin, MaxKelvin)
	temp := float64(k) / 100

	var r, g, b float64

	if temp <= 66 {
		r = 255
	} else {
		r = clampFloat(329.698727446*math.Pow(temp-60, -0.1332047592), 0, 255)
	}

	if temp <= 66 {
		g = 99.4708025861*math.Log(temp) - 161.1195681661
	} else {
		g = 288.1221695283 * math.Pow(temp-60, -0.0755148492)
	}
	g = clampFloat(g, 0, 255)

	switch {
	case temp >= 66:
		b = 255
	case temp <= 19:
		b = 0
	default:
		b = clampFloat(138.5177312231*math.Log(temp-10)-305.0447927307, 0, 255)
	}

	return RGB{
		R: int(math.Round(r)),
		G: int(math.Round(g)),
		B: int(math.Round(b)),
	}
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
