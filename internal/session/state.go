// internal/session/state.go
package session

import (
	"encoding/json"
	"sort"
)

// State maps output keys to values for one session. There is no delete:
// once written, a key stays present for the session's lifetime.
//
// State is not safe for concurrent use; callers serialise access through
// the per-session lock.
type State struct {
	values map[string]Value
}

// NewState returns an empty state.
func NewState() *State {
	return &State{values: make(map[string]Value)}
}

// Get returns a copy of the value stored under key.
func (s *State) Get(key string) (Value, bool) {
	v, ok := s.values[key]
	if !ok {
		return Value{}, false
	}
	return v.Clone(), true
}

// Set stores value under key, replacing any previous value.
func (s *State) Set(key string, value Value) {
	if s.values == nil {
		s.values = make(map[string]Value)
	}
	s.values[key] = value.Clone()
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns the present keys in sorted order.
func (s *State) Keys() []string {
	return sortedKeys(s.values)
}

// Len returns the number of keys.
func (s *State) Len() int {
	return len(s.values)
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := NewState()
	for k, v := range s.values {
		out.values[k] = v.Clone()
	}
	return out
}

// Snapshot returns a read-only copy of the current state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{values: s.Clone().values}
}

// MarshalJSON encodes the state as a key to value object.
func (s *State) MarshalJSON() ([]byte, error) {
	if s == nil || s.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.values)
}

// UnmarshalJSON decodes a key to value object.
func (s *State) UnmarshalJSON(data []byte) error {
	values := make(map[string]Value)
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.values = values
	return nil
}

// Snapshot is an immutable view of State handed to generation steps.
type Snapshot struct {
	values map[string]Value
}

// Get returns a copy of the value stored under key.
func (s Snapshot) Get(key string) (Value, bool) {
	v, ok := s.values[key]
	if !ok {
		return Value{}, false
	}
	return v.Clone(), true
}

// Has reports whether key is present.
func (s Snapshot) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns the present keys in sorted order.
func (s Snapshot) Keys() []string {
	return sortedKeys(s.values)
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
