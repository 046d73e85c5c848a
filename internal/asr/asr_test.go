package asr

import (
	"testing"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

func TestValidateRejectsNon16kHz(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint = "wss://example.test/listen"
	cfg.SampleRate = 8000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for non-16kHz sample rate")
	}
}

func TestValidateRejectsMissingEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing endpoint")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint = "wss://example.test/listen"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveProviderLanguagePassesThroughUnknownModel(t *testing.T) {
	got := resolveProviderLanguage("whisper-1", types.Language("ja"))
	if got != types.Language("ja") {
		t.Fatalf("expected passthrough for unknown model, got %q", got)
	}
}

func TestResolveProviderLanguageAppliesAlias(t *testing.T) {
	got := resolveProviderLanguage("nova-2", types.LanguageMulti)
	if got != types.LanguageMulti {
		t.Fatalf("expected multi alias to resolve to multi, got %q", got)
	}
}

func TestHandleMessageAssignsStableIDUntilFinal(t *testing.T) {
	a := New(DefaultConfig())

	interim := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel","confidence":0.5}]}}`)
	a.handleMessage(interim)
	ev := <-a.events
	if ev.Type != EventTranscript || ev.Segment.IsFinal {
		t.Fatalf("expected interim transcript event, got %+v", ev)
	}
	firstID := ev.Segment.ID

	final := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello","confidence":0.9}]}}`)
	a.handleMessage(final)
	ev = <-a.events
	if !ev.Segment.IsFinal || ev.Segment.ID != firstID {
		t.Fatalf("expected final event to reuse id %q, got %+v", firstID, ev)
	}
}

func TestHandleMessageStartsNewIDAfterFinal(t *testing.T) {
	a := New(DefaultConfig())

	a.handleMessage([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"one","confidence":0.9}]}}`))
	first := <-a.events

	a.handleMessage([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"two","confidence":0.9}]}}`))
	second := <-a.events

	if first.Segment.ID == second.Segment.ID {
		t.Fatalf("expected a new segment id after a final result, got %q twice", first.Segment.ID)
	}
}

func TestHandleMessageIgnoresInterimAfterFinalized(t *testing.T) {
	a := New(DefaultConfig())
	a.finalized["asr_1"] = true
	a.currentID = "asr_1"

	a.handleMessage([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"late interim","confidence":0.5}]}}`))

	select {
	case ev := <-a.events:
		t.Fatalf("expected no event for a late interim on a finalized segment, got %+v", ev)
	default:
	}
}

func TestHandleMessageUtteranceEndResetsCurrentID(t *testing.T) {
	a := New(DefaultConfig())
	a.currentID = "asr_7"

	a.handleMessage([]byte(`{"type":"UtteranceEnd"}`))
	ev := <-a.events
	if ev.Type != EventUtteranceEnd {
		t.Fatalf("expected utterance end event, got %+v", ev)
	}
	if a.currentID != "" {
		t.Fatalf("expected currentID cleared, got %q", a.currentID)
	}
}

func TestHandleMessageDropsEmptyInterimTranscript(t *testing.T) {
	a := New(DefaultConfig())
	a.handleMessage([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`))
	select {
	case ev := <-a.events:
		t.Fatalf("expected no event for an empty interim transcript, got %+v", ev)
	default:
	}
}
