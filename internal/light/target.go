package light

import "sort"

// Target selects which lights a slider addresses.
// Implemented by GroupTarget, AreaTarget and SingleTarget only.
type Target interface {
	isTarget()
	String() string
}

// GroupTarget addresses a group entity, expanded to its members.
// A group id without members is treated as a single light.
type GroupTarget struct {
	EntityID string
}

// AreaTarget addresses every light assigned to the named area.
type AreaTarget struct {
	Name string
}

// SingleTarget addresses exactly one light.
type SingleTarget struct {
	EntityID string
}

func (GroupTarget) isTarget()  {}
func (AreaTarget) isTarget()   {}
func (SingleTarget) isTarget() {}

func (t GroupTarget) String() string  { return "group:" + t.EntityID }
func (t AreaTarget) String() string   { return "area:" + t.Name }
func (t SingleTarget) String() string { return "light:" + t.EntityID }

// Resolve returns the ordered light ids currently addressed by target.
// Unknown groups resolve to the group id itself, unknown areas to nothing.
func Resolve(target Target, states StateIndex, areas AreaIndex) []string {
	switch t := target.(type) {
	case GroupTarget:
		if t.EntityID == "" {
			return nil
		}
		if s, ok := states[t.EntityID]; ok && s.IsGroup() {
			out := make([]string, len(s.Members))
			copy(out, s.Members)
			return out
		}
		return []string{t.EntityID}

	case AreaTarget:
		areaID, ok := findArea(areas, t.Name)
		if !ok {
			return nil
		}
		var out []string
		for id, s := range states {
			if IsLightID(id) && s.AreaID == areaID {
				out = append(out, id)
			}
		}
		sort.Strings(out)
		return out

	case SingleTarget:
		if t.EntityID == "" {
			return nil
		}
		return []string{t.EntityID}
	}

	return nil
}

// findArea returns the first area id, in ascending id order, whose display
// name equals name.
func findArea(areas AreaIndex, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	ids := make([]string, 0, len(areas))
	for id := range areas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if areas[id] == name {
			return id, true
		}
	}
	return "", false
}
