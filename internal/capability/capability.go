// Package capability resolves which capabilities of a feature area the
// current identity holds.
package capability

import "strings"

// Set maps capability names of one area to whether they are granted.
type Set map[string]bool

// All returns a set granting every capability of area.
func All(area Area) Set {
	set := make(Set)
	for _, name := range Scopes(area) {
		set[name] = true
	}
	return set
}

// FromNames builds the set of area from granted permission names. Names
// outside area are ignored.
func FromNames(area Area, names []string) Set {
	known := make(map[string]struct{})
	for _, name := range Scopes(area) {
		known[name] = struct{}{}
	}
	set := make(Set)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := known[name]; ok {
			set[name] = true
		}
	}
	return set
}

// State is a possibly unsettled capability set.
type State struct {
	Loading      bool `json:"loading"`
	Capabilities Set  `json:"capabilities"`
}

// Settled returns a settled state holding set.
func Settled(set Set) State {
	if set == nil {
		set = Set{}
	}
	return State{Capabilities: set}
}

// Pending is the state of a resolution that has not completed.
func Pending() State {
	return State{Loading: true}
}

// Has reports whether name is granted. While the state is loading the answer
// is not settled and granted is always false.
func (s State) Has(name string) (granted, settled bool) {
	if s.Loading {
		return false, false
	}
	return s.Capabilities[name], true
}
