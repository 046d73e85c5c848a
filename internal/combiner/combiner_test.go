package combiner

import (
	"testing"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

func seg(id, text string, final bool) types.TranscriptSegment {
	return types.TranscriptSegment{ID: id, Text: text, IsFinal: final}
}

func TestEmitsOnSentenceBoundary(t *testing.T) {
	var got []types.CombinedSentence
	c := New(Config{MaxSegments: 8, Timeout: time.Hour}, func(cs types.CombinedSentence) {
		got = append(got, cs)
	})

	c.Add(seg("a1", "Hello there.", true))
	if len(got) != 1 {
		t.Fatalf("expected 1 emitted sentence, got %d", len(got))
	}
	if got[0].SourceText != "Hello there." {
		t.Fatalf("unexpected text: %q", got[0].SourceText)
	}
	if got[0].SegmentCount != 1 || got[0].SegmentIDs[0] != "a1" {
		t.Fatalf("unexpected segment bookkeeping: %+v", got[0])
	}
}

func TestIgnoresInterimSegments(t *testing.T) {
	var got []types.CombinedSentence
	c := New(Config{MaxSegments: 8, Timeout: time.Hour}, func(cs types.CombinedSentence) {
		got = append(got, cs)
	})
	c.Add(seg("a1", "Hello there.", false))
	if len(got) != 0 {
		t.Fatalf("interim segment should not emit, got %d", len(got))
	}
}

func TestForceEmitsAtMaxSegments(t *testing.T) {
	var got []types.CombinedSentence
	c := New(Config{MaxSegments: 2, Timeout: time.Hour}, func(cs types.CombinedSentence) {
		got = append(got, cs)
	})
	c.Add(seg("a1", "no boundary here", true))
	if len(got) != 0 {
		t.Fatalf("should not have emitted yet, got %d", len(got))
	}
	c.Add(seg("a2", "still no boundary", true))
	if len(got) != 1 {
		t.Fatalf("expected force-emit at MaxSegments, got %d", len(got))
	}
	if got[0].SegmentCount != 2 {
		t.Fatalf("expected both segments combined, got %+v", got[0])
	}
}

func TestCJKTerminatorEndsSentenceWithoutWhitespace(t *testing.T) {
	var got []types.CombinedSentence
	c := New(Config{MaxSegments: 8, Timeout: time.Hour}, func(cs types.CombinedSentence) {
		got = append(got, cs)
	})
	c.Add(seg("a1", "こんにちは。", true))
	if len(got) != 1 {
		t.Fatalf("expected CJK terminator to end sentence, got %d emitted", len(got))
	}
}

func TestFlushEmitsPendingPartialSentence(t *testing.T) {
	var got []types.CombinedSentence
	c := New(Config{MaxSegments: 8, Timeout: time.Hour}, func(cs types.CombinedSentence) {
		got = append(got, cs)
	})
	c.Add(seg("a1", "no terminator yet", true))
	if len(got) != 0 {
		t.Fatalf("should not have emitted before flush")
	}
	c.Flush()
	if len(got) != 1 {
		t.Fatalf("expected flush to emit pending text, got %d", len(got))
	}
}

func TestCombinedSentenceIDHasCombinedPrefix(t *testing.T) {
	var got []types.CombinedSentence
	c := New(Config{MaxSegments: 8, Timeout: time.Hour}, func(cs types.CombinedSentence) {
		got = append(got, cs)
	})
	c.Add(seg("a1", "First sentence.", true))
	c.Add(seg("a2", "Second sentence.", true))

	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d", len(got))
	}
	if got[0].ID != "combined_1" || got[1].ID != "combined_2" {
		t.Fatalf("expected combined_<n> ids, got %q and %q", got[0].ID, got[1].ID)
	}
}

func TestOrderPreservedAcrossMultipleSentences(t *testing.T) {
	var got []types.CombinedSentence
	c := New(Config{MaxSegments: 8, Timeout: time.Hour}, func(cs types.CombinedSentence) {
		got = append(got, cs)
	})
	c.Add(seg("a1", "First sentence.", true))
	c.Add(seg("a2", "Second sentence.", true))
	c.Add(seg("a3", "Third sentence.", true))

	if len(got) != 3 {
		t.Fatalf("expected 3 sentences, got %d", len(got))
	}
	want := []string{"First sentence.", "Second sentence.", "Third sentence."}
	for i, w := range want {
		if got[i].SourceText != w {
			t.Fatalf("out of order at %d: got %q want %q", i, got[i].SourceText, w)
		}
	}
}
