// Package metric defines the core data types shared by the query planner,
// the fan-out aggregator and the sample stores: metric kinds with their
// canonical units, the static capability table, time windows, samples and
// result sets.
package metric
