package plato

import "container/ring"

// slidingWindow holds the last capacity latency samples in a container/ring
// buffer, modeled on facebook-time/servo/pi.go's PiServoFilter sample ring:
// a fixed ring, a running count until full, and a Values() snapshot for the
// smoothing stage to consume.
type slidingWindow struct {
	r        *ring.Ring
	capacity int
	count    int
}

func newSlidingWindow(capacity int) *slidingWindow {
	return &slidingWindow{r: ring.New(capacity), capacity: capacity}
}

// Add inserts v as the newest sample, evicting the oldest if full.
func (w *slidingWindow) Add(v float64) {
	w.r.Value = v
	w.r = w.r.Next()
	if w.count < w.capacity {
		w.count++
	}
}

// Full reports whether capacity samples have been collected.
func (w *slidingWindow) Full() bool {
	return w.count == w.capacity
}

// Len reports how many samples are currently held.
func (w *slidingWindow) Len() int {
	return w.count
}

// Values returns the held samples ordered oldest-first. When the window
// isn't full yet, only the count samples actually collected are returned.
func (w *slidingWindow) Values() []float64 {
	out := make([]float64, 0, w.count)
	// w.r currently points at the slot the *next* Add will overwrite: once
	// the window is full that slot holds the oldest live sample; before
	// that it is a never-written (nil) slot.
	start := w.r
	if !w.Full() {
		// Walk back count steps from the write head to find the oldest
		// sample actually written so far.
		start = w.r
		for i := 0; i < w.capacity-w.count; i++ {
			start = start.Next()
		}
	}
	start.Do(func(val interface{}) {
		if val == nil {
			return
		}
		out = append(out, val.(float64))
	})
	return out
}

// Mean returns the arithmetic mean of the currently held samples, or 0 if
// empty.
func (w *slidingWindow) Mean() float64 {
	vals := w.Values()
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
