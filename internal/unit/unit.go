// Package unit defines the measurement units sample stores report values in
// and converts between units of the same dimension.
//
// Every unit is a linear scale of its dimension's base unit, so conversion is
// a multiply by the ratio of the two scales and is exactly invertible up to
// floating-point rounding.
package unit

import (
	"fmt"

	"github.com/xtxerr/mobility/internal/errors"
)

// Dimension is the physical quantity a unit measures.
type Dimension int

const (
	DimensionNone Dimension = iota
	DimensionSpeed
	DimensionLength
	DimensionRatio
	DimensionCount
)

// String returns a human-readable representation of the Dimension.
func (d Dimension) String() string {
	switch d {
	case DimensionSpeed:
		return "speed"
	case DimensionLength:
		return "length"
	case DimensionRatio:
		return "ratio"
	case DimensionCount:
		return "count"
	default:
		return "none"
	}
}

// Unit is a measurement unit.
type Unit int

const (
	Unknown Unit = iota

	// Speed. Base: meters per second.
	MetersPerSecond
	KilometersPerHour
	MilesPerHour
	FeetPerSecond

	// Length. Base: meters.
	Meter
	Centimeter
	Foot
	Inch

	// Ratio. Base: percent on the 0-100 scale.
	Percent
	Fraction

	// Count. Base: count.
	Count
)

type definition struct {
	symbol    string
	dimension Dimension
	// scale converts a value in this unit to the dimension's base unit.
	scale float64
}

var definitions = map[Unit]definition{
	MetersPerSecond:   {"m/s", DimensionSpeed, 1},
	KilometersPerHour: {"km/hr", DimensionSpeed, 1000.0 / 3600.0},
	MilesPerHour:      {"mi/hr", DimensionSpeed, 1609.344 / 3600.0},
	FeetPerSecond:     {"ft/s", DimensionSpeed, 0.3048},

	Meter:      {"m", DimensionLength, 1},
	Centimeter: {"cm", DimensionLength, 0.01},
	Foot:       {"ft", DimensionLength, 0.3048},
	Inch:       {"in", DimensionLength, 0.0254},

	Percent:  {"%", DimensionRatio, 1},
	Fraction: {"fraction", DimensionRatio, 100},

	Count: {"count", DimensionCount, 1},
}

// String returns the unit symbol.
func (u Unit) String() string {
	if d, ok := definitions[u]; ok {
		return d.symbol
	}
	return fmt.Sprintf("unknown(%d)", int(u))
}

// Dimension returns the quantity the unit measures.
func (u Unit) Dimension() Dimension {
	return definitions[u].dimension
}

// Valid returns true if u is a defined unit.
func (u Unit) Valid() bool {
	_, ok := definitions[u]
	return ok
}

// Parse parses a unit symbol such as "m/s", "cm" or "%".
func Parse(s string) (Unit, error) {
	for u, d := range definitions {
		if d.symbol == s {
			return u, nil
		}
	}
	switch s {
	case "m.s^-1", "mps":
		return MetersPerSecond, nil
	case "km/h", "kph":
		return KilometersPerHour, nil
	case "mph", "mi/h":
		return MilesPerHour, nil
	case "percent":
		return Percent, nil
	case "":
		return Unknown, errors.NewInvalidArgument("unit", "empty symbol")
	}
	return Unknown, errors.NewInvalidArgument("unit", fmt.Sprintf("unknown symbol %q", s))
}

// Convert converts value from one unit to another of the same dimension.
func Convert(value float64, from, to Unit) (float64, error) {
	if from == to {
		if !from.Valid() {
			return 0, errors.NewInvalidArgument("unit", from.String())
		}
		return value, nil
	}

	f, ok := definitions[from]
	if !ok {
		return 0, errors.NewInvalidArgument("unit", from.String())
	}
	t, ok := definitions[to]
	if !ok {
		return 0, errors.NewInvalidArgument("unit", to.String())
	}
	if f.dimension != t.dimension {
		return 0, errors.NewInvalidArgument("unit",
			fmt.Sprintf("cannot convert %s (%s) to %s (%s)", f.symbol, f.dimension, t.symbol, t.dimension))
	}

	return value * f.scale / t.scale, nil
}

// MustConvert is Convert for unit pairs known to be compatible.
// It panics on a dimension mismatch.
func MustConvert(value float64, from, to Unit) float64 {
	v, err := Convert(value, from, to)
	if err != nil {
		panic(err)
	}
	return v
}
