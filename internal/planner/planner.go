// Package planner turns a metric request into one query descriptor per
// metric kind.
//
// The planner has no dependencies on the sample store: the caller passes in
// the capability tier, and every descriptor shares one time window and limit.
package planner

import (
	"fmt"
	"strings"

	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
)

// AllKeyword is the sentinel key selecting every available kind.
const AllKeyword = "all"

// Selection is the set of requested metric keys, or "all".
type Selection struct {
	All  bool
	Keys []string
}

// All selects every kind available on the capability tier.
func All() Selection {
	return Selection{All: true}
}

// Keys selects the named kinds. Keys may be canonical keys or legacy type names.
func Keys(keys ...string) Selection {
	return Selection{Keys: keys}
}

// KindsOf selects the given kinds.
func KindsOf(kinds ...metric.Kind) Selection {
	keys := make([]string, len(kinds))
	for i, k := range kinds {
		keys[i] = k.Key()
	}
	return Selection{Keys: keys}
}

// ParseSelection treats a single "all" (any case) as the sentinel and
// anything else as explicit keys.
func ParseSelection(keys []string) Selection {
	if len(keys) == 1 && strings.EqualFold(strings.TrimSpace(keys[0]), AllKeyword) {
		return All()
	}
	return Keys(keys...)
}

// String returns a compact representation for logs.
func (s Selection) String() string {
	if s.All {
		return AllKeyword
	}
	return strings.Join(s.Keys, ",")
}

// Descriptor is one metric query. Descriptors are values; nothing mutates
// them after Plan returns.
type Descriptor struct {
	Kind   metric.Kind
	Window metric.TimeWindow
	Limit  int
}

// Query returns the store query for the descriptor.
func (d Descriptor) Query() store.Query {
	return store.Query{Kind: d.Kind, Window: d.Window, Limit: d.Limit}
}

// String returns a compact representation for logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s %s limit=%d", d.Kind, d.Window, d.Limit)
}

// Plan builds one descriptor per requested kind.
//
// Under All, kinds above the capability tier are silently omitted. An
// explicitly named kind above the tier fails with ErrUnsupportedPlatform,
// as does a tier below the baseline. Unknown keys fail with
// ErrUnknownMetric. A limit <= 0 means no limit. Duplicate keys collapse into
// one descriptor. Descriptors come back in canonical kind order.
func Plan(sel Selection, window metric.TimeWindow, limit int, tier metric.Version) ([]Descriptor, error) {
	if !tier.AtLeast(metric.Baseline()) {
		return nil, fmt.Errorf("mobility data requires platform %s or newer, have %s: %w",
			metric.Baseline(), tier, errors.ErrUnsupportedPlatform)
	}

	if limit <= 0 {
		limit = store.NoLimit
	}

	var kinds []metric.Kind
	if sel.All {
		kinds = metric.Available(tier)
	} else {
		if len(sel.Keys) == 0 {
			return nil, errors.NewMissingField("keys")
		}

		seen := make(map[metric.Kind]bool, len(sel.Keys))
		for _, key := range sel.Keys {
			k, err := metric.ParseKind(key)
			if err != nil {
				return nil, err
			}
			if !k.AvailableOn(tier) {
				return nil, fmt.Errorf("%s requires platform %s, have %s: %w",
					k, k.MinVersion(), tier, errors.ErrUnsupportedPlatform)
			}
			seen[k] = true
		}

		for _, k := range metric.AllKinds() {
			if seen[k] {
				kinds = append(kinds, k)
			}
		}
	}

	descs := make([]Descriptor, len(kinds))
	for i, k := range kinds {
		descs[i] = Descriptor{Kind: k, Window: window, Limit: limit}
	}
	return descs, nil
}
