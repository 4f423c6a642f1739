package homeassistant

import (
	"sync"

	"github.com/dokzlo13/lightslider/internal/light"
)

// Registry holds the latest known entity states and area assignments.
// It does NOT talk to Home Assistant; the client feeds it.
type Registry struct {
	mu            sync.RWMutex
	states        map[string]State
	areas         map[string]string // area id -> name
	entityAreas   map[string]string // entity id -> area id
	entityDevices map[string]string // entity id -> device id
	deviceAreas   map[string]string // device id -> area id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states:        make(map[string]State),
		areas:         make(map[string]string),
		entityAreas:   make(map[string]string),
		entityDevices: make(map[string]string),
		deviceAreas:   make(map[string]string),
	}
}

// ReplaceStates swaps in a full set of states.
func (r *Registry) ReplaceStates(states []State) {
	next := make(map[string]State, len(states))
	for _, s := range states {
		if tracked(s.EntityID) {
			next[s.EntityID] = s
		}
	}

	r.mu.Lock()
	r.states = next
	r.mu.Unlock()
}

// SetState records a single entity change. A nil state removes the entity.
// Returns false when the entity is not relevant to sliders.
func (r *Registry) SetState(entityID string, s *State) bool {
	if !tracked(entityID) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s == nil {
		delete(r.states, entityID)
	} else {
		r.states[entityID] = *s
	}
	return true
}

// ReplaceAreas swaps in the area, entity and device registries.
func (r *Registry) ReplaceAreas(areas []Area, entities []EntityEntry, devices []DeviceEntry) {
	areaNames := make(map[string]string, len(areas))
	for _, a := range areas {
		areaNames[a.AreaID] = a.Name
	}

	entityAreas := make(map[string]string)
	entityDevices := make(map[string]string)
	for _, e := range entities {
		if !tracked(e.EntityID) {
			continue
		}
		if e.AreaID != "" {
			entityAreas[e.EntityID] = e.AreaID
		}
		if e.DeviceID != "" {
			entityDevices[e.EntityID] = e.DeviceID
		}
	}

	deviceAreas := make(map[string]string, len(devices))
	for _, d := range devices {
		if d.AreaID != "" {
			deviceAreas[d.ID] = d.AreaID
		}
	}

	r.mu.Lock()
	r.areas = areaNames
	r.entityAreas = entityAreas
	r.entityDevices = entityDevices
	r.deviceAreas = deviceAreas
	r.mu.Unlock()
}

// Snapshot builds an immutable view for the core. Entity area overrides the
// device area, which overrides an area_id state attribute.
func (r *Registry) Snapshot() light.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(light.StateIndex, len(r.states))
	for id, s := range r.states {
		areaID := r.entityAreas[id]
		if areaID == "" {
			areaID = r.deviceAreas[r.entityDevices[id]]
		}
		states[id] = ToLightState(s, areaID)
	}

	areas := make(light.AreaIndex, len(r.areas))
	for id, name := range r.areas {
		areas[id] = name
	}

	return light.Snapshot{States: states, Areas: areas}
}
