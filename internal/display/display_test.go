package display

import (
	"testing"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

func TestNewPairBecomesRecentWithFullOpacity(t *testing.T) {
	s := New()
	pairs := s.UpsertSource("s1", "hello", false, 100)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Position != types.PositionRecent || pairs[0].Opacity != types.OpacityRecent {
		t.Fatalf("unexpected new pair: %+v", pairs[0])
	}
}

func TestOpacityContractAcrossTrio(t *testing.T) {
	s := New()
	s.UpsertSource("s1", "a", false, 1)
	s.UpsertSource("s2", "b", false, 2)
	pairs := s.UpsertSource("s3", "c", false, 3)

	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
	wantOpacity := map[types.DisplayPosition]float64{
		types.PositionRecent: types.OpacityRecent,
		types.PositionOlder:  types.OpacityOlder,
		types.PositionOldest: types.OpacityOldest,
	}
	for _, p := range pairs {
		if p.Opacity != wantOpacity[p.Position] {
			t.Fatalf("pair %+v has wrong opacity for its position", p)
		}
	}
}

func TestSourceAndTargetOpacityMatch(t *testing.T) {
	s := New()
	s.UpsertSource("s1", "hello", true, 10)
	pairs := s.UpsertTarget("s1", "こんにちは", true, 10)
	if pairs[0].Opacity != types.OpacityRecent {
		t.Fatalf("target update should not change opacity from position rule: %+v", pairs[0])
	}
}

func TestRotationMonotonicityOldestIsEvictedNext(t *testing.T) {
	s := New()
	s.UpsertSource("s1", "a", true, 1)
	s.UpsertSource("s2", "b", true, 2)
	s.UpsertSource("s3", "c", true, 3)
	pairs := s.UpsertSource("s4", "d", true, 4)

	// s1 should have been evicted (only 3 slots), never appearing again.
	for _, p := range pairs {
		if p.ID == "s1" {
			t.Fatalf("s1 should have been evicted, still present: %+v", pairs)
		}
	}
	if len(pairs) != 3 {
		t.Fatalf("expected exactly 3 pairs retained, got %d", len(pairs))
	}
}

func TestHeightUnifiedAcrossTrio(t *testing.T) {
	s := New()
	s.UpsertSource("s1", "a", true, 1)
	s.UpsertSource("s2", "b", true, 2)
	s.UpsertSource("s3", "c", true, 3)

	pairs := s.ReportHeight("s2", 42)
	for _, p := range pairs {
		if p.Height != 42 {
			t.Fatalf("expected all pairs to adopt max height 42, got %+v", pairs)
		}
	}
}

func TestResetClearsAllPairs(t *testing.T) {
	s := New()
	s.UpsertSource("s1", "a", true, 1)
	s.Reset()
	if len(s.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot after reset")
	}
}
