// Package display implements the realtime three-line display
// synchronizer (spec §4.5 / component C5): up to three time-ordered
// DisplayPairs at positions recent/older/oldest, with the opacity
// contract and rotation whenever a pair with a new id is created. It is purely reactive —
// single-writer from the orchestrator (C8), no suspension points of its
// own — built fresh in the teacher's small-struct-plus-mutex idiom since
// the teacher has no three-line realtime view of its own to generalize.
package display

import (
	"sync"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

// Synchronizer holds the up-to-three DisplayPairs shown in the realtime
// caption view and enforces the opacity/rotation contract (spec §8
// properties 5 and 6).
type Synchronizer struct {
	mu    sync.Mutex
	order []string // ids, recent-first
	pairs map[string]*types.DisplayPair
}

// New creates an empty Synchronizer.
func New() *Synchronizer {
	return &Synchronizer{pairs: make(map[string]*types.DisplayPair)}
}

// UpsertSource updates (creating if needed) the source column of the
// pair identified by id. A brand-new id always becomes "recent";
// existing pairs keep their current position until rotation.
func (s *Synchronizer) UpsertSource(id, text string, isFinal bool, timestampMs int64) []types.DisplayPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrCreateLocked(id, timestampMs)
	p.Source = types.DisplayLine{Text: text, IsFinal: isFinal, Timestamp: timestampMs}
	return s.snapshotLocked()
}

// UpsertTarget updates the target column for id. IsFinal is stored on
// the line only; it does not affect rotation, which happens solely when
// a pair with a new id is created (see getOrCreateLocked).
func (s *Synchronizer) UpsertTarget(id, text string, isFinal bool, timestampMs int64) []types.DisplayPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.getOrCreateLocked(id, timestampMs)
	p.Target = types.DisplayLine{Text: text, IsFinal: isFinal, Timestamp: timestampMs}
	return s.snapshotLocked()
}

// ReportHeight records a renderer-measured height for id. The
// synchronizer republishes max_height unified across the current trio
// (spec §4.5), so every pair in the returned snapshot carries the same
// Height value.
func (s *Synchronizer) ReportHeight(id string, height int) []types.DisplayPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pairs[id]; ok {
		p.Height = height
	}
	s.unifyHeightLocked()
	return s.snapshotLocked()
}

// getOrCreateLocked returns the pair for id, creating it as the new
// "recent" slot if unseen. Creation order is rotation order: each
// previously-tracked pair shifts one position down (recent->older->
// oldest) and the fourth-oldest is evicted. Once evicted a pair never
// reappears (spec §8 property 6: rotation is monotonic).
func (s *Synchronizer) getOrCreateLocked(id string, timestampMs int64) *types.DisplayPair {
	if p, ok := s.pairs[id]; ok {
		return p
	}
	p := &types.DisplayPair{ID: id}
	s.pairs[id] = p
	s.order = append([]string{id}, s.order...) // newest first
	if len(s.order) > 3 {
		evicted := s.order[3:]
		s.order = s.order[:3]
		for _, e := range evicted {
			delete(s.pairs, e)
		}
	}
	s.applyPositionsLocked()
	return p
}

func (s *Synchronizer) applyPositionsLocked() {
	positions := []types.DisplayPosition{types.PositionRecent, types.PositionOlder, types.PositionOldest}
	opacities := []float64{types.OpacityRecent, types.OpacityOlder, types.OpacityOldest}
	for i, id := range s.order {
		if i >= len(positions) {
			break
		}
		p := s.pairs[id]
		p.Position = positions[i]
		p.Opacity = opacities[i]
	}
	s.unifyHeightLocked()
}

func (s *Synchronizer) unifyHeightLocked() {
	max := 0
	for _, id := range s.order {
		if h := s.pairs[id].Height; h > max {
			max = h
		}
	}
	for _, id := range s.order {
		s.pairs[id].Height = max
	}
}

func (s *Synchronizer) snapshotLocked() []types.DisplayPair {
	out := make([]types.DisplayPair, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.pairs[id])
	}
	return out
}

// Snapshot returns the current up-to-three DisplayPairs, recent-first.
func (s *Synchronizer) Snapshot() []types.DisplayPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Reset clears all pairs, used when a session restarts (spec §4.8
// invariant 5: language changes mid-session require a restart).
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.pairs = make(map[string]*types.DisplayPair)
}
