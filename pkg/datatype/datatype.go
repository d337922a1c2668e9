// Package datatype defines the closed set of health data categories that can
// be observed.
//
// Each ID maps to exactly one capability-source identifier. Names coming from
// configuration or the bridge are resolved with Parse, which rejects unknown
// names instead of failing later at runtime.
package datatype

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownType is returned when a name does not match any known data type.
var ErrUnknownType = errors.New("unknown data type")

// ID identifies one observable data category.
type ID uint8

const (
	// BloodPressureSystolic is the systolic blood pressure quantity.
	BloodPressureSystolic ID = iota + 1

	// BloodPressureDiastolic is the diastolic blood pressure quantity.
	BloodPressureDiastolic

	// BloodGlucose is the blood glucose quantity.
	BloodGlucose

	// DietaryCholesterol is the dietary cholesterol quantity.
	DietaryCholesterol

	// OxygenSaturation is the blood oxygen saturation quantity.
	OxygenSaturation

	// RespiratoryRate is the respiratory rate quantity.
	RespiratoryRate

	// HeartRate is the heart rate quantity.
	HeartRate

	// ActiveEnergyBurned is the active energy quantity.
	ActiveEnergyBurned

	// ExerciseTime is the exercise minutes quantity.
	ExerciseTime

	// Steps is the step count quantity.
	Steps
)

type info struct {
	name       string
	identifier string
}

var registry = map[ID]info{
	BloodPressureSystolic:  {"bloodPressureSystolic", "HKQuantityTypeIdentifierBloodPressureSystolic"},
	BloodPressureDiastolic: {"bloodPressureDiastolic", "HKQuantityTypeIdentifierBloodPressureDiastolic"},
	BloodGlucose:           {"bloodGlucose", "HKQuantityTypeIdentifierBloodGlucose"},
	DietaryCholesterol:     {"dietaryCholesterol", "HKQuantityTypeIdentifierDietaryCholesterol"},
	OxygenSaturation:       {"oxygenSaturation", "HKQuantityTypeIdentifierOxygenSaturation"},
	RespiratoryRate:        {"respiratoryRate", "HKQuantityTypeIdentifierRespiratoryRate"},
	HeartRate:              {"heartRate", "HKQuantityTypeIdentifierHeartRate"},
	ActiveEnergyBurned:     {"activeEnergyBurned", "HKQuantityTypeIdentifierActiveEnergyBurned"},
	ExerciseTime:           {"exerciseTime", "HKQuantityTypeIdentifierAppleExerciseTime"},
	Steps:                  {"steps", "HKQuantityTypeIdentifierStepCount"},
}

// byName is the reverse index used by Parse. Keys are lower case.
var byName = func() map[string]ID {
	m := make(map[string]ID, len(registry)*2)
	for id, inf := range registry {
		m[strings.ToLower(inf.name)] = id
		m[strings.ToLower(inf.identifier)] = id
	}
	return m
}()

// All returns every known data type in ascending ID order.
func All() []ID {
	ids := make([]ID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsValid returns true if the ID is part of the enumeration.
func (id ID) IsValid() bool {
	_, ok := registry[id]
	return ok
}

// String returns the short camel-case name (e.g. "heartRate").
func (id ID) String() string {
	if inf, ok := registry[id]; ok {
		return inf.name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(id))
}

// Identifier returns the capability-source identifier for the type.
// Returns an empty string for invalid IDs.
func (id ID) Identifier() string {
	return registry[id].identifier
}

// Parse resolves a short name or a capability-source identifier to an ID.
// Matching is case-insensitive.
func Parse(name string) (ID, error) {
	if id, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// ParseList resolves a list of names, dropping duplicates while keeping the
// order of first appearance.
func ParseList(names []string) ([]ID, error) {
	ids := make([]ID, 0, len(names))
	seen := make(map[ID]bool, len(names))
	for _, n := range names {
		id, err := Parse(n)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// Names returns the short names of the given IDs.
func Names(ids []ID) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}
