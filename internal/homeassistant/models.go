package homeassistant

import (
	"encoding/json"
	"fmt"
)

// State represents the state of a Home Assistant entity
type State struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Area represents an area registry entry
type Area struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

// EntityEntry represents an entity registry entry
type EntityEntry struct {
	EntityID string `json:"entity_id"`
	AreaID   string `json:"area_id"`
	DeviceID string `json:"device_id"`
}

// DeviceEntry represents a device registry entry
type DeviceEntry struct {
	ID     string `json:"id"`
	AreaID string `json:"area_id"`
}

// StateChangedData is the payload of a state_changed event
type StateChangedData struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
}

// Event is a subscribed event delivered by Home Assistant
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// APIError is an error result returned by Home Assistant
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("home assistant error %s: %s", e.Code, e.Message)
}

// incoming is any message received over the websocket
type incoming struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *APIError       `json:"error"`
	Event   *Event          `json:"event"`
	Message string          `json:"message"` // auth_invalid reason
	Version string          `json:"ha_version"`
}

// result is a command response routed to its caller
type result struct {
	payload json.RawMessage
	err     error
}
