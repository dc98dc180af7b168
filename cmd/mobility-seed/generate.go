package main

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/xtxerr/mobility/internal/metric"
	"github.com/xtxerr/mobility/internal/store"
	"github.com/xtxerr/mobility/internal/unit"
)

// profile describes how one metric's synthetic values are drawn.
type profile struct {
	mean   float64
	stddev float64
	min    float64
	max    float64

	// units are cycled through so archives hold mixed raw units, the way
	// a device that changed locale would.
	units []unit.Unit

	// daily metrics get one sample per day instead of one per walk.
	daily bool
}

var profiles = map[metric.Kind]profile{
	metric.WalkingSpeed:            {mean: 1.30, stddev: 0.15, min: 0.3, max: 2.5, units: []unit.Unit{unit.MetersPerSecond, unit.KilometersPerHour}},
	metric.StepLength:              {mean: 0.70, stddev: 0.06, min: 0.3, max: 1.1, units: []unit.Unit{unit.Meter, unit.Centimeter}},
	metric.DoubleSupportPercentage: {mean: 28.0, stddev: 2.5, min: 15, max: 45, units: []unit.Unit{unit.Percent}},
	metric.AsymmetryPercentage:     {mean: 4.0, stddev: 3.0, min: 0, max: 60, units: []unit.Unit{unit.Percent, unit.Fraction}},
	metric.WalkingSteadiness:       {mean: 82.0, stddev: 6.0, min: 0, max: 100, units: []unit.Unit{unit.Count}, daily: true},
}

// Generator produces deterministic synthetic walking history.
type Generator struct {
	rng   *rand.Rand
	start time.Time
	days  int
	walks int
}

// NewGenerator creates a generator covering days days from start with walks
// walks per day. The same seed always yields the same samples.
func NewGenerator(seed uint64, start time.Time, days, walks int) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		start: start,
		days:  days,
		walks: walks,
	}
}

// Generate returns the samples of kind, oldest first, in mixed raw units.
func (g *Generator) Generate(kind metric.Kind) []store.RawSample {
	p := profiles[kind]
	perDay := g.walks
	if p.daily {
		perDay = 1
	}

	out := make([]store.RawSample, 0, g.days*perDay)
	for d := 0; d < g.days; d++ {
		day := g.start.AddDate(0, 0, d)

		// A slow drift makes trends visible across weeks.
		drift := math.Sin(float64(d)/14*math.Pi) * p.stddev / 2

		for w := 0; w < perDay; w++ {
			var startAt time.Time
			var dur time.Duration
			if p.daily {
				startAt = day
				dur = 24*time.Hour - time.Millisecond
			} else {
				// Walks between 07:00 and 22:00, one to ten minutes long.
				offset := 7*time.Hour + time.Duration(g.rng.Int64N(int64(15*time.Hour)))
				startAt = day.Add(offset)
				dur = time.Minute + time.Duration(g.rng.Int64N(int64(9*time.Minute)))
			}

			v := p.mean + drift + g.rng.NormFloat64()*p.stddev
			v = math.Max(p.min, math.Min(p.max, v))

			u := p.units[len(out)%len(p.units)]
			out = append(out, store.RawSample{
				Value:   round(unit.MustConvert(v, kind.Unit(), u), 4),
				Unit:    u,
				StartMs: startAt.UnixMilli(),
				EndMs:   startAt.Add(dur).UnixMilli(),
			})
		}
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
