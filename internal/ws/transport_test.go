package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/advanced"
	"github.com/ryouen/univoice-pipeline/internal/combiner"
	"github.com/ryouen/univoice-pipeline/internal/events"
	"github.com/ryouen/univoice-pipeline/internal/history"
	"github.com/ryouen/univoice-pipeline/internal/models"
	"github.com/ryouen/univoice-pipeline/internal/orchestrator"
	"github.com/ryouen/univoice-pipeline/internal/store"
	"github.com/ryouen/univoice-pipeline/internal/translate"
	"github.com/ryouen/univoice-pipeline/internal/types"
)

// recordingSink is an events.Sink that captures every envelope it's
// handed, for asserting on what a command handler published.
type recordingSink struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (r *recordingSink) Send(e events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, e)
	return nil
}

func (r *recordingSink) last() (events.Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.envs) == 0 {
		return events.Envelope{}, false
	}
	return r.envs[len(r.envs)-1], true
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return "ok", nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	sink := NewSink()
	bus := events.NewBus("corr-test", sink, func() int64 { return 1 })
	queue := translate.NewQueue(translate.QueueConfig{Concurrency: 1, HighCapacity: 4, NormalCapacity: 4, LowCapacity: 4, RequestTimeout: time.Second})

	table := models.DefaultTable()
	router := advanced.NewRouter(map[string]advanced.Generator{"openai": stubGenerator{}}, "openai")
	scheduler := advanced.New(table, router, advanced.Config{FirstThreshold: 400, StepThreshold: 800, SourceLanguage: "en", TargetLanguage: "ja"})

	st := store.New(t.TempDir())

	orch := orchestrator.New(orchestrator.Config{
		CourseName: "Test", SourceLanguage: "en", TargetLanguage: "ja",
		CombinerConfig: combiner.Config{MaxSegments: 5, Timeout: time.Second},
		HistoryConfig:  history.Config{SentencesPerBlock: 3, QuietInterval: time.Second},
	}, bus, queue, scheduler, st, nil)

	return NewHandler(sink, orch, st, bus)
}

// newTestHandlerWithStore is like newTestHandler but exposes the Store
// and a recordingSink bus, so a test can seed session data and assert on
// the envelopes getAvailableSessions/loadSession/getHistory/
// getFullHistory/clearHistory publish.
func newTestHandlerWithStore(t *testing.T) (*Handler, *store.Store, *recordingSink) {
	t.Helper()
	sink := NewSink()
	rec := &recordingSink{}
	bus := events.NewBus("corr-test", rec, func() int64 { return 1 })
	queue := translate.NewQueue(translate.QueueConfig{Concurrency: 1, HighCapacity: 4, NormalCapacity: 4, LowCapacity: 4, RequestTimeout: time.Second})

	table := models.DefaultTable()
	router := advanced.NewRouter(map[string]advanced.Generator{"openai": stubGenerator{}}, "openai")
	scheduler := advanced.New(table, router, advanced.Config{FirstThreshold: 400, StepThreshold: 800, SourceLanguage: "en", TargetLanguage: "ja"})

	st := store.New(t.TempDir())

	orch := orchestrator.New(orchestrator.Config{
		CourseName: "Test", SourceLanguage: "en", TargetLanguage: "ja",
		CombinerConfig: combiner.Config{MaxSegments: 5, Timeout: time.Second},
		HistoryConfig:  history.Config{SentencesPerBlock: 3, QuietInterval: time.Second},
	}, bus, queue, scheduler, st, nil)

	return NewHandler(sink, orch, st, bus), st, rec
}

func TestSinkSendIsNoopWithoutAttach(t *testing.T) {
	sink := NewSink()
	if err := sink.Send(events.Envelope{Type: events.TypeStatus}); err != nil {
		t.Fatalf("expected nil error sending to an unattached sink, got %v", err)
	}
}

func TestHandleCommandIgnoresMalformedJSON(t *testing.T) {
	h := newTestHandler(t)
	h.handleCommand(context.Background(), []byte(`not json`))
}

func TestHandleCommandIgnoresUnknownCommandName(t *testing.T) {
	h := newTestHandler(t)
	h.handleCommand(context.Background(), []byte(`{"name":"doSomethingUnknown"}`))
}

func TestHandleCommandAdvisorySaveCommandsAreNoOp(t *testing.T) {
	h := newTestHandler(t)
	h.handleCommand(context.Background(), []byte(`{"name":"startSession"}`))
	h.handleCommand(context.Background(), []byte(`{"name":"saveHistoryBlock"}`))
	h.handleCommand(context.Background(), []byte(`{"name":"saveSummary"}`))
	h.handleCommand(context.Background(), []byte(`{"name":"saveSession"}`))
}

func TestGetAvailableSessionsPublishesSessionList(t *testing.T) {
	h, st, rec := newTestHandlerWithStore(t)
	if _, err := st.StartSession(store.StartParams{CourseName: "Math", SourceLanguage: "en", TargetLanguage: "ja"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	h.handleCommand(context.Background(), []byte(`{"name":"getAvailableSessions","params":{"course_name":"Math"}}`))

	env, ok := rec.last()
	if !ok || env.Type != events.TypeSessionList {
		t.Fatalf("expected a sessionList envelope, got %+v (ok=%v)", env, ok)
	}
	var data events.SessionListData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal sessionList data: %v", err)
	}
	if len(data.Sessions) != 1 || data.Sessions[0].CourseName != "Math" {
		t.Fatalf("expected one Math session, got %+v", data.Sessions)
	}
}

func TestLoadSessionPublishesSessionData(t *testing.T) {
	h, st, rec := newTestHandlerWithStore(t)
	rec1, err := st.StartSession(store.StartParams{CourseName: "Math", SourceLanguage: "en", TargetLanguage: "ja"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := st.AppendHistoryBlock(types.HistoryBlock{ID: "block_1"}); err != nil {
		t.Fatalf("AppendHistoryBlock: %v", err)
	}

	params, _ := json.Marshal(map[string]any{
		"course_name": rec1.CourseName, "date": rec1.Date, "session_number": rec1.SessionNumber,
	})
	h.handleCommand(context.Background(), []byte(`{"name":"loadSession","params":`+string(params)+`}`))

	env, ok := rec.last()
	if !ok || env.Type != events.TypeSessionData {
		t.Fatalf("expected a sessionData envelope, got %+v (ok=%v)", env, ok)
	}
	var data events.SessionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal sessionData: %v", err)
	}
	if len(data.Session.HistoryBlocks) != 1 || data.Session.HistoryBlocks[0].ID != "block_1" {
		t.Fatalf("expected loaded session to carry block_1, got %+v", data.Session.HistoryBlocks)
	}
}

func TestGetHistoryPublishesActiveHistory(t *testing.T) {
	h, st, rec := newTestHandlerWithStore(t)
	if _, err := st.StartSession(store.StartParams{CourseName: "Math", SourceLanguage: "en", TargetLanguage: "ja"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := st.AppendHistoryBlock(types.HistoryBlock{ID: "block_1"}); err != nil {
		t.Fatalf("AppendHistoryBlock: %v", err)
	}

	h.handleCommand(context.Background(), []byte(`{"name":"getHistory"}`))

	env, ok := rec.last()
	if !ok || env.Type != events.TypeHistoryData {
		t.Fatalf("expected a historyData envelope, got %+v (ok=%v)", env, ok)
	}
	var data events.HistoryData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal historyData: %v", err)
	}
	if len(data.Blocks) != 1 || data.Blocks[0].ID != "block_1" {
		t.Fatalf("expected active history to carry block_1, got %+v", data.Blocks)
	}
}

func TestClearHistoryEmptiesActiveHistory(t *testing.T) {
	h, st, rec := newTestHandlerWithStore(t)
	if _, err := st.StartSession(store.StartParams{CourseName: "Math", SourceLanguage: "en", TargetLanguage: "ja"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := st.AppendHistoryBlock(types.HistoryBlock{ID: "block_1"}); err != nil {
		t.Fatalf("AppendHistoryBlock: %v", err)
	}

	h.handleCommand(context.Background(), []byte(`{"name":"clearHistory"}`))

	env, ok := rec.last()
	if !ok || env.Type != events.TypeHistoryData {
		t.Fatalf("expected a historyData envelope, got %+v (ok=%v)", env, ok)
	}
	var data events.HistoryData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal historyData: %v", err)
	}
	if len(data.Blocks) != 0 {
		t.Fatalf("expected clearHistory to empty the history, got %+v", data.Blocks)
	}
	if remaining := st.ActiveHistory(); len(remaining) != 0 {
		t.Fatalf("expected store's active history to be cleared, got %+v", remaining)
	}
}

func TestHandleCommandPauseWithoutListeningLogsAndDoesNotPanic(t *testing.T) {
	h := newTestHandler(t)
	h.handleCommand(context.Background(), []byte(`{"name":"pauseListening"}`))
}
