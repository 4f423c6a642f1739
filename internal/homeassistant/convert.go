package homeassistant

import (
	"math"
	"strings"

	"github.com/dokzlo13/lightslider/internal/light"
)

// tracked reports whether an entity can take part in slider targeting.
// Old-style groups live in the group domain, light groups in the light domain.
func tracked(entityID string) bool {
	return strings.HasPrefix(entityID, "light.") || strings.HasPrefix(entityID, "group.")
}

// ToLightState converts a raw entity state into the core's read-only view.
// areaID is the resolved area assignment, empty when unassigned.
func ToLightState(s State, areaID string) light.State {
	ls := light.State{
		ID:     s.EntityID,
		On:     s.State == "on",
		AreaID: areaID,
	}

	if v, ok := number(s.Attributes["brightness"]); ok {
		ls.Brightness = int(math.Round(v))
	}

	if rgb, ok := rgbColor(s.Attributes["rgb_color"]); ok {
		ls.Color = &rgb
	}

	if v, ok := number(s.Attributes["color_temp_kelvin"]); ok {
		k := int(math.Round(v))
		ls.ColorTempKelvin = &k
	}

	if raw, ok := s.Attributes["entity_id"].([]interface{}); ok {
		members := make([]string, 0, len(raw))
		for _, m := range raw {
			if id, ok := m.(string); ok {
				members = append(members, id)
			}
		}
		ls.Members = members
	}

	if ls.AreaID == "" {
		if a, ok := s.Attributes["area_id"].(string); ok {
			ls.AreaID = a
		}
	}

	return ls
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func rgbColor(v interface{}) (light.RGB, bool) {
	raw, ok := v.([]interface{})
	if !ok || len(raw) != 3 {
		return light.RGB{}, false
	}
	var ch [3]int
	for i, c := range raw {
		n, ok := number(c)
		if !ok {
			return light.RGB{}, false
		}
		ch[i] = int(math.Round(n))
	}
	return light.RGB{R: ch[0], G: ch[1], B: ch[2]}, true
}
