package light

import (
	"reflect"
	"testing"
)

func testSnapshot() (StateIndex, AreaIndex) {
	states := StateIndex{
		"light.group1": {ID: "light.group1", On: true, Members: []string{"light.c", "light.a", "light.b"}},
		"light.a":      {ID: "light.a", On: true, Brightness: 128, AreaID: "kitchen"},
		"light.b":      {ID: "light.b", AreaID: "kitchen"},
		"light.c":      {ID: "light.c", On: true, Brightness: 255, AreaID: "living_room"},
		"switch.fan":   {ID: "switch.fan", On: true, AreaID: "kitchen"},
		"light.empty":  {ID: "light.empty", Members: []string{}},
	}
	areas := AreaIndex{
		"kitchen":     "Kitchen",
		"living_room": "Living Room",
		"z_kitchen":   "Kitchen",
	}
	return states, areas
}

func TestResolve(t *testing.T) {
	states, areas := testSnapshot()

	tests := []struct {
		name     string
		target   Target
		expected []string
	}{
		{
			name:     "group/members_in_order",
			target:   GroupTarget{EntityID: "light.group1"},
			expected: []string{"light.c", "light.a", "light.b"},
		},
		{
			name:     "group/plain_light_falls_back_to_itself",
			target:   GroupTarget{EntityID: "light.a"},
			expected: []string{"light.a"},
		},
		{
			name:     "group/unknown_entity_falls_back_to_itself",
			target:   GroupTarget{EntityID: "light.unknown"},
			expected: []string{"light.unknown"},
		},
		{
			name:     "group/empty_member_list",
			target:   GroupTarget{EntityID: "light.empty"},
			expected: []string{},
		},
		{
			name:     "area/lights_only_sorted",
			target:   AreaTarget{Name: "Kitchen"},
			expected: []string{"light.a", "light.b"},
		},
		{
			name:     "area/other_area",
			target:   AreaTarget{Name: "Living Room"},
			expected: []string{"light.c"},
		},
		{
			name:     "area/no_match",
			target:   AreaTarget{Name: "Garage"},
			expected: nil,
		},
		{
			name:     "single",
			target:   SingleTarget{EntityID: "light.b"},
			expected: []string{"light.b"},
		},
		{
			name:     "single/empty_id",
			target:   SingleTarget{},
			expected: nil,
		},
		{
			name:     "nil_target",
			target:   nil,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.target, states, areas)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Resolve(%v) = %v, want %v", tt.target, got, tt.expected)
			}
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	states, areas := testSnapshot()
	targets := []Target{
		GroupTarget{EntityID: "light.group1"},
		AreaTarget{Name: "Kitchen"},
		SingleTarget{EntityID: "light.a"},
	}

	for _, target := range targets {
		first := Resolve(target, states, areas)
		for i := 0; i < 20; i++ {
			again := Resolve(target, states, areas)
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("Resolve(%v) not stable: %v then %v", target, first, again)
			}
		}
	}
}

func TestResolve_DoesNotAliasMembers(t *testing.T) {
	states, areas := testSnapshot()
	got := Resolve(GroupTarget{EntityID: "light.group1"}, states, areas)
	got[0] = "light.mutated"
	if states["light.group1"].Members[0] != "light.c" {
		t.Error("Resolve returned a slice aliasing the snapshot")
	}
}

func TestKitchenScenarioWithoutArea(t *testing.T) {
	states := StateIndex{"light.a": {ID: "light.a", On: true, Brightness: 200}}
	targets := Resolve(AreaTarget{Name: "Kitchen"}, states, AreaIndex{})
	if len(targets) != 0 {
		t.Fatalf("Resolve() = %v, want empty", targets)
	}
	if got := AggregateBrightness(targets, states); got != 0 {
		t.Errorf("AggregateBrightness() = %d, want 0", got)
	}
	if cmds := ComputeCommands(targets, states, 50, Policy{Mode: ModeAbsolute, TurnOnIfOff: true}); len(cmds) != 0 {
		t.Errorf("ComputeCommands() = %v, want empty", cmds)
	}
}
