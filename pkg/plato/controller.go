// Package plato implements RACER's Peer-assisted Latency-Aware Traffic
// Optimisation controller (component C5): a closed feedback loop from
// observed end-to-end latency to the local publish rate, grounded on
// facebook-time/servo/pi.go's ring-buffer-and-gain-scaling servo shape,
// generalized from clock-frequency correction to publish-interval
// correction.
package plato

import (
	"math"
	"sync"
	"time"

	"github.com/racer-mesh/racer/racerlog"
)

// Params configures the control law (§4.5), sourced from pkg/config's
// [plato] section.
type Params struct {
	WindowSize  int     // W: odd, >= 5
	RSIPeriod   int     // P
	TargetSecs  float64 // target_publishing_frequency_secs
	IntervalMax float64 // seconds
	KUp         float64 // > 1
	KDown       float64 // in (0,1)
	Alpha       float64 // decay gain toward target, in (0,1]
	Overbought  float64 // e.g. 70
	Oversold    float64 // e.g. 30
}

// Controller owns the sliding window, RSI tracker, and current allowed
// publish interval for one node.
type Controller struct {
	log racerlog.Logger
	p   Params

	mu            sync.Mutex
	window        *slidingWindow
	rsi           *rsiTracker
	lastSmoothed  float64
	haveLast      bool
	allowedSecs   float64
	lastAdmitted  time.Time
	haveAdmitted  bool
	lastSampleAt  time.Time
	haveSampleAt  bool
}

// New constructs a Controller at the configured target interval.
func New(p Params, log racerlog.Logger) *Controller {
	if log == nil {
		log = racerlog.NoOp()
	}
	return &Controller{
		log:         log,
		p:           p,
		window:      newSlidingWindow(p.WindowSize),
		rsi:         newRSITracker(p.RSIPeriod),
		allowedSecs: p.TargetSecs,
	}
}

// Observe feeds one latency sample (seconds) observed at wall-clock time
// "at" — e.g. echo-to-ready delay, or round-trip time — and recomputes the
// allowed publish interval. Clock regression (at not after the previous
// observation) is detected and the sample dropped (§4.5 edge case).
func (c *Controller) Observe(latencySecs float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.haveSampleAt && !at.After(c.lastSampleAt) {
		c.log.Debug("plato: dropping sample with non-advancing clock", "at", at, "last", c.lastSampleAt)
		return
	}
	c.lastSampleAt = at
	c.haveSampleAt = true

	c.window.Add(latencySecs)

	var smoothed float64
	if c.window.Full() {
		smoothed = smooth(c.window.Values())
	} else {
		// Warm-up fallback (§4.5): fewer than W samples, use the
		// unfiltered mean and a conservative interval.
		smoothed = c.window.Mean()
		c.lastSmoothed = smoothed
		c.haveLast = true
		c.allowedSecs = c.p.TargetSecs * 2
		return
	}

	if !c.haveLast {
		c.lastSmoothed = smoothed
		c.haveLast = true
		return
	}

	delta := smoothed - c.lastSmoothed
	c.lastSmoothed = smoothed
	rsiVal := c.rsi.Update(delta)
	c.applyControlLaw(rsiVal)
}

// applyControlLaw implements §4.5's three-way branch. Caller holds c.mu.
func (c *Controller) applyControlLaw(rsi float64) {
	switch {
	case rsi >= c.p.Overbought:
		c.allowedSecs = math.Min(c.allowedSecs*c.p.KUp, c.p.IntervalMax)
	case rsi <= c.p.Oversold:
		c.allowedSecs = math.Max(c.allowedSecs*c.p.KDown, c.p.TargetSecs)
	default:
		c.allowedSecs += (c.p.TargetSecs - c.allowedSecs) * c.p.Alpha
	}
	c.log.Debug("plato: control law applied", "rsi", rsi, "allowed_secs", c.allowedSecs)
}

// AllowedInterval returns the current allowed publish interval.
func (c *Controller) AllowedInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.allowedSecs * float64(time.Second))
}

// Admit reports whether a publish at "now" is allowed, i.e. at least
// AllowedInterval has elapsed since the last admitted publish. It does not
// itself record the admission — callers call MarkAdmitted after a
// successful publish.
func (c *Controller) Admit(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveAdmitted {
		return true
	}
	if now.Before(c.lastAdmitted) {
		// Clock regression: refuse to admit off a value that looks
		// like it rewinds time, rather than silently allowing a burst.
		return false
	}
	return now.Sub(c.lastAdmitted) >= time.Duration(c.allowedSecs*float64(time.Second))
}

// MarkAdmitted records that a publish was just admitted at "now".
func (c *Controller) MarkAdmitted(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAdmitted = now
	c.haveAdmitted = true
}
