package peer

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

// the minimum backing-map capacity a fresh Registry is sized for, mirroring
// the small-set optimization in the teacher's generic set package.
const minRegistrySize = 16

// entry is the registry's internal bookkeeping for one peer.
type entry struct {
	info      Info
	live      bool
	lastHeard time.Time
}

// Registry maintains identity -> (address, liveness) for every peer this
// node knows about. It is guarded by a reader-biased RWMutex per §5: the
// common case is many concurrent samplers and dispatch workers reading, and
// infrequent liveness updates writing.
type Registry struct {
	mu   sync.RWMutex
	self ID
	byID map[ID]*entry
}

// NewRegistry creates an empty registry. self is excluded from Sample when
// excludeSelf is requested.
func NewRegistry(self ID) *Registry {
	return &Registry{
		self: self,
		byID: make(map[ID]*entry, minRegistrySize),
	}
}

// Self returns this node's own identity.
func (r *Registry) Self() ID {
	return r.self
}

// Upsert adds a peer or updates its address, marking it live.
func (r *Registry) Upsert(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[info.Identity]
	if !ok {
		e = &entry{}
		r.byID[info.Identity] = e
	}
	e.info = info
	e.live = true
	e.lastHeard = time.Now()
}

// MarkLive records that a peer was just heard from.
func (r *Registry) MarkLive(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.live = true
		e.lastHeard = time.Now()
	}
}

// MarkDead flags a peer as no longer reachable without forgetting it
// (churned peers may return).
func (r *Registry) MarkDead(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.live = false
	}
}

// Remove forgets a peer entirely.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Lookup returns a peer's address, if known.
func (r *Registry) Lookup(id ID) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// LiveIDs returns every currently-live peer identity, self included if
// present and live. Order is unspecified; callers that need uniform
// sampling go through Sampler instead of shuffling this themselves.
func (r *Registry) LiveIDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.byID))
	for id, e := range r.byID {
		if e.live {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns a read-only view of every known peer, live or not.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, Snapshot{
			Info:      e.info,
			Live:      e.live,
			LastHeard: e.lastHeard.UnixNano(),
		})
	}
	return out
}

// Len returns the number of known peers (live or dead).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// AllIDs returns every known peer identity, live or not.
func (r *Registry) AllIDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.byID)
}

// idSet is the small generic set used to build the excluded/included peer
// sets during sampling, modeled on the teacher's utils/set.Set[T].
type idSet map[ID]struct{}

func newIDSet(ids ...ID) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) contains(id ID) bool {
	_, ok := s[id]
	return ok
}

// keys exists purely so this file has one concrete use of the
// maps-on-generic-map idiom the teacher's set package is built on, and so
// future additions (e.g. Registry.Diff) have it ready.
func keys[M ~map[K]V, K comparable, V any](m M) []K {
	return maps.Keys(m)
}
