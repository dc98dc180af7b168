package metric

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xtxerr/mobility/internal/errors"
)

// Version is a platform capability tier, e.g. 15.2.
type Version struct {
	Major int
	Minor int
}

// V is shorthand for Version{major, minor}.
func V(major, minor int) Version {
	return Version{Major: major, Minor: minor}
}

// String returns "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compare returns -1, 0 or +1 as v is less than, equal to or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor != o.Minor:
		if v.Minor < o.Minor {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// AtLeast returns true if v >= min.
func (v Version) AtLeast(min Version) bool {
	return v.Compare(min) >= 0
}

// IsZero returns true for the zero version.
func (v Version) IsZero() bool {
	return v == Version{}
}

// ParseVersion parses "major", "major.minor" or "major.minor.patch".
// The patch component is accepted and ignored.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version: %w", errors.ErrInvalidVersion)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return Version{}, fmt.Errorf("version %q: %w", s, errors.ErrInvalidVersion)
	}

	nums := make([]int, 2)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("version %q: %w", s, errors.ErrInvalidVersion)
		}
		if i < 2 {
			nums[i] = n
		}
	}

	return Version{Major: nums[0], Minor: nums[1]}, nil
}

// Capability pairs a kind with the minimum tier it is queryable on.
type Capability struct {
	Kind       Kind
	MinVersion Version
}

// capabilities is sorted by MinVersion, then Kind. WalkingSpeed is the
// lowest-tier metric, so its requirement is the baseline gate.
var capabilities = func() []Capability {
	table := []Capability{
		{WalkingSpeed, V(13, 0)},
		{StepLength, V(13, 0)},
		{DoubleSupportPercentage, V(13, 0)},
		{AsymmetryPercentage, V(13, 0)},
		{WalkingSteadiness, V(15, 0)},
	}
	sort.SliceStable(table, func(i, j int) bool {
		if c := table[i].MinVersion.Compare(table[j].MinVersion); c != 0 {
			return c < 0
		}
		return table[i].Kind < table[j].Kind
	})
	return table
}()

// Capabilities returns a copy of the capability table.
func Capabilities() []Capability {
	out := make([]Capability, len(capabilities))
	copy(out, capabilities)
	return out
}

// MinVersion returns the minimum tier on which k is queryable.
func (k Kind) MinVersion() Version {
	for _, c := range capabilities {
		if c.Kind == k {
			return c.MinVersion
		}
	}
	return Version{Major: int(^uint(0) >> 1)}
}

// AvailableOn returns true if k is queryable on tier v.
func (k Kind) AvailableOn(v Version) bool {
	return k.Valid() && v.AtLeast(k.MinVersion())
}

// Baseline returns the tier below which no metric is available.
func Baseline() Version {
	return WalkingSpeed.MinVersion()
}

// Available returns the kinds queryable on tier v, in canonical kind order.
func Available(v Version) []Kind {
	var out []Kind
	for k := Kind(0); k < numKinds; k++ {
		if k.AvailableOn(v) {
			out = append(out, k)
		}
	}
	return out
}
