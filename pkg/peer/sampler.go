package peer

import "math/rand/v2"

// Sampler draws fixed-size uniform random subsets of the live peer set, the
// primitive SPDE uses once per MID to fix echo_sample/ready_sample (§4.4).
//
// The interface is modeled on the teacher's utils/sampler.Uniform but keeps
// only Sample: there is no separate Initialize step, since every call draws
// from the registry's live view at that moment. It is specialized to
// peer.ID directly: RACER never needs the weighted variant
// the teacher's sampler package also exposes (C4's peers are unweighted).
type Sampler interface {
	// Sample draws up to k distinct live peers uniformly at random. If
	// excludeSelf is set, the registry's own identity is never returned. If
	// fewer than k live peers are available (after exclusion), every
	// available peer is returned — this is the "degraded operation" the
	// spec explicitly allows rather than treating it as an error.
	Sample(k int, excludeSelf bool) []ID
}

// registrySampler is the Sampler bound to a live Registry.
type registrySampler struct {
	reg *Registry
}

// NewSampler returns a Sampler drawing from reg's current live-peer view.
func NewSampler(reg *Registry) Sampler {
	return &registrySampler{reg: reg}
}

func (s *registrySampler) Sample(k int, excludeSelf bool) []ID {
	if k <= 0 {
		return nil
	}
	pool := s.reg.LiveIDs()
	if excludeSelf {
		self := s.reg.Self()
		filtered := pool[:0:0]
		for _, id := range pool {
			if id != self {
				filtered = append(filtered, id)
			}
		}
		pool = filtered
	}
	if k >= len(pool) {
		out := make([]ID, len(pool))
		copy(out, pool)
		return out
	}

	// Partial Fisher-Yates: shuffle only the first k positions needed to
	// produce k uniformly-random distinct elements without touching the
	// rest of the slice.
	working := make([]ID, len(pool))
	copy(working, pool)
	for i := 0; i < k; i++ {
		j := i + rand.IntN(len(working)-i)
		working[i], working[j] = working[j], working[i]
	}
	out := make([]ID, k)
	copy(out, working[:k])
	return out
}

// FixedSample is a pre-drawn sample, used by SPDE's PerMessageState so that
// echo_sample/ready_sample are fixed once at state creation (§4.4) instead
// of being redrawn on every check.
type FixedSample struct {
	ids idSet
}

// NewFixedSample freezes a slice of IDs (as returned by Sampler.Sample)
// into a fast-membership structure.
func NewFixedSample(ids []ID) FixedSample {
	return FixedSample{ids: newIDSet(ids...)}
}

// Contains reports whether id is part of the frozen sample.
func (f FixedSample) Contains(id ID) bool {
	return f.ids.contains(id)
}

// Len returns the sample's size.
func (f FixedSample) Len() int {
	return len(f.ids)
}

// IntersectCount counts how many of the given ids fall inside the sample —
// SPDE's §4.6 guard "|echo_witnesses ∩ echo_sample| ≥ ready_threshold" is
// exactly this.
func (f FixedSample) IntersectCount(ids []ID) int {
	n := 0
	for _, id := range ids {
		if f.ids.contains(id) {
			n++
		}
	}
	return n
}
