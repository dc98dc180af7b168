package metric

import (
	"fmt"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/unit"
)

// Kind is one category of mobility measurement.
type Kind int

const (
	// WalkingSpeed is the average walking speed, in meters per second.
	WalkingSpeed Kind = iota

	// StepLength is the average step length, in meters.
	StepLength

	// DoubleSupportPercentage is the share of a gait cycle with both feet
	// on the ground, in percent.
	DoubleSupportPercentage

	// AsymmetryPercentage is the share of steps where one foot moves at a
	// different speed than the other, in percent.
	AsymmetryPercentage

	// WalkingSteadiness is the steadiness score, dimensionless.
	WalkingSteadiness

	numKinds
)

type kindInfo struct {
	key      string // result key and client-facing name
	typeName string // legacy upper-snake type name
	unit     unit.Unit
}

var kinds = [numKinds]kindInfo{
	WalkingSpeed:            {"walkingSpeed", "WALKING_SPEED", unit.MetersPerSecond},
	StepLength:              {"stepLength", "STEP_LENGTH", unit.Meter},
	DoubleSupportPercentage: {"doubleSupportPercentage", "DOUBLE_SUPPORT_PERCENTAGE", unit.Percent},
	AsymmetryPercentage:     {"asymmetryPercentage", "ASYMMETRY_PERCENTAGE", unit.Percent},
	WalkingSteadiness:       {"walkingSteadiness", "WALKING_STEADINESS", unit.Count},
}

// Valid returns true if k is a defined kind.
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

// Key returns the canonical key used in result sets and by clients.
func (k Kind) Key() string {
	if !k.Valid() {
		return fmt.Sprintf("unknown(%d)", int(k))
	}
	return kinds[k].key
}

// TypeName returns the legacy upper-snake type name, e.g. "WALKING_SPEED".
func (k Kind) TypeName() string {
	if !k.Valid() {
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
	return kinds[k].typeName
}

// String returns the canonical key.
func (k Kind) String() string {
	return k.Key()
}

// Unit returns the canonical unit values of this kind are reported in.
func (k Kind) Unit() unit.Unit {
	if !k.Valid() {
		return unit.Unknown
	}
	return kinds[k].unit
}

// ParseKind parses either the canonical key ("walkingSpeed") or the
// legacy type name ("WALKING_SPEED").
func ParseKind(s string) (Kind, error) {
	for k := Kind(0); k < numKinds; k++ {
		if kinds[k].key == s || kinds[k].typeName == s {
			return k, nil
		}
	}
	return 0, errors.NewUnknownMetric(s)
}

// AllKinds returns every kind in canonical order.
func AllKinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}
