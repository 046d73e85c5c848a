package history

import (
	"testing"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

func TestEmitsBlockAtSentencesPerBlock(t *testing.T) {
	var blocks []types.HistoryBlock
	g := New(Config{SentencesPerBlock: 2, QuietInterval: time.Hour}, func(b types.HistoryBlock) {
		blocks = append(blocks, b)
	})

	g.AddSentence(types.HistorySentence{ID: "s1", SourceText: "a", TargetText: "A"})
	if len(blocks) != 0 {
		t.Fatalf("should not emit before boundary, got %d", len(blocks))
	}
	g.AddSentence(types.HistorySentence{ID: "s2", SourceText: "b", TargetText: "B"})
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block at SentencesPerBlock, got %d", len(blocks))
	}
	if len(blocks[0].Sentences) != 2 {
		t.Fatalf("expected 2 sentences in block, got %d", len(blocks[0].Sentences))
	}
}

func TestSentenceAppearsInAtMostOneBlock(t *testing.T) {
	var blocks []types.HistoryBlock
	g := New(Config{SentencesPerBlock: 1, QuietInterval: time.Hour}, func(b types.HistoryBlock) {
		blocks = append(blocks, b)
	})
	g.AddSentence(types.HistorySentence{ID: "s1", SourceText: "a", TargetText: "A"})
	g.AddSentence(types.HistorySentence{ID: "s2", SourceText: "b", TargetText: "B"})

	seen := map[string]int{}
	for _, b := range blocks {
		for _, s := range b.Sentences {
			seen[s.ID]++
		}
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("sentence %s appeared in %d blocks, want 1", id, count)
		}
	}
}

func TestUpdateSentenceTranslationReplacesInPlaceAndRepublishes(t *testing.T) {
	var blocks []types.HistoryBlock
	g := New(Config{SentencesPerBlock: 1, QuietInterval: time.Hour}, func(b types.HistoryBlock) {
		blocks = append(blocks, b)
	})
	g.AddSentence(types.HistorySentence{ID: "s1", SourceText: "hello", TargetText: "realtime-quality"})
	if len(blocks) != 1 {
		t.Fatalf("expected initial emit")
	}

	g.UpdateSentenceTranslation("s1", "high-quality")
	if len(blocks) != 2 {
		t.Fatalf("expected a republish after upgrade, got %d blocks", len(blocks))
	}
	if blocks[1].Sentences[0].TargetText != "high-quality" {
		t.Fatalf("expected upgraded target text, got %+v", blocks[1].Sentences[0])
	}
	// The block id stays stable across the upgrade (content-addressed).
	if blocks[0].ID != blocks[1].ID {
		t.Fatalf("expected stable block id across upgrade, got %s vs %s", blocks[0].ID, blocks[1].ID)
	}
}

func TestUpdateUnknownSentenceIsNoOp(t *testing.T) {
	var blocks []types.HistoryBlock
	g := New(Config{SentencesPerBlock: 5, QuietInterval: time.Hour}, func(b types.HistoryBlock) {
		blocks = append(blocks, b)
	})
	g.UpdateSentenceTranslation("never-emitted", "x")
	if len(blocks) != 0 {
		t.Fatalf("expected no emission for unknown sentence id")
	}
}

func TestResetFlushesPendingThenClears(t *testing.T) {
	var blocks []types.HistoryBlock
	g := New(Config{SentencesPerBlock: 10, QuietInterval: time.Hour}, func(b types.HistoryBlock) {
		blocks = append(blocks, b)
	})
	g.AddSentence(types.HistorySentence{ID: "s1", SourceText: "a", TargetText: "A"})
	g.Reset()
	if len(blocks) != 1 {
		t.Fatalf("expected reset to flush pending sentence into a final block, got %d", len(blocks))
	}

	// After reset, an upgrade to the flushed sentence is a no-op (state cleared).
	g.UpdateSentenceTranslation("s1", "upgraded")
	if len(blocks) != 1 {
		t.Fatalf("expected no further emission after reset cleared bookkeeping")
	}
}

func TestQuietIntervalEmitsPendingSentence(t *testing.T) {
	done := make(chan types.HistoryBlock, 1)
	g := New(Config{SentencesPerBlock: 10, QuietInterval: 20 * time.Millisecond}, func(b types.HistoryBlock) {
		done <- b
	})
	g.AddSentence(types.HistorySentence{ID: "s1", SourceText: "a", TargetText: "A"})

	select {
	case b := <-done:
		if len(b.Sentences) != 1 {
			t.Fatalf("expected 1 sentence in quiet-interval block, got %d", len(b.Sentences))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected quiet interval to force-emit the pending sentence")
	}
}
