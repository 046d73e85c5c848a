// Package orchestrator implements the unified pipeline orchestrator
// (spec §4.8 / component C8): it wires C1-C7 and C9, owns the
// per-session correlation id and every in-flight collection (pending
// realtime translations, active segment bookkeeping), and publishes the
// single validated event stream C10 carries to the UI process. Grounded
// on the teacher's pipeline.Pipeline/runFullPipeline producer
// orchestration — one goroutine pumping ASR events, a buffered channel
// feeding a downstream consumer — generalized from the teacher's
// single-consumer ASR→LLM→TTS waterfall to this spec's ASR→(realtime ‖
// history) fan-out across two translation tiers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryouen/univoice-pipeline/internal/advanced"
	"github.com/ryouen/univoice-pipeline/internal/asr"
	"github.com/ryouen/univoice-pipeline/internal/audio"
	"github.com/ryouen/univoice-pipeline/internal/combiner"
	"github.com/ryouen/univoice-pipeline/internal/diag"
	"github.com/ryouen/univoice-pipeline/internal/display"
	"github.com/ryouen/univoice-pipeline/internal/events"
	"github.com/ryouen/univoice-pipeline/internal/fsm"
	"github.com/ryouen/univoice-pipeline/internal/history"
	"github.com/ryouen/univoice-pipeline/internal/metrics"
	"github.com/ryouen/univoice-pipeline/internal/store"
	"github.com/ryouen/univoice-pipeline/internal/translate"
	"github.com/ryouen/univoice-pipeline/internal/types"
)

// fallbackPrefix is the policy string spec §5/§7 mandate for a realtime
// translation that times out before the orchestrator's own (shorter than
// the queue's 30s hard cap) deadline.
const fallbackPrefix = "translation unavailable; original shown\n"

// Config bundles the per-session settings the orchestrator needs beyond
// its injected collaborators.
type Config struct {
	CourseName          string
	SourceLanguage      types.Language
	TargetLanguage      types.Language
	ASRConfig           asr.Config
	CaptureConfig       audio.CaptureConfig // C11: device audio -> 16kHz mono PCM16 framing ahead of SendAudio
	CombinerConfig      combiner.Config
	HistoryConfig       history.Config
	RealtimeTimeout     time.Duration // fixed fallback deadline per realtime translation, default 8s; not adjusted per request
	StopGracePeriod     time.Duration // drain deadline on stopListening, default 2s
}

// Orchestrator is the sole owner of one session's in-flight state: the
// pending realtime-translation-by-segment map, the FSM, and the
// sub-component instances it wires together. It is not safe to share
// across sessions; callers create one per `startListening`.
type Orchestrator struct {
	cfg Config

	machine   *fsm.Machine
	bus       *events.Bus
	queue     *translate.Queue
	scheduler *advanced.Scheduler
	st        *store.Store
	tracer    *diag.Tracer

	comb    *combiner.Combiner
	grouper *history.Grouper
	disp    *display.Synchronizer

	asrAdapter *asr.Adapter
	capture    *audio.Capture

	mu              sync.Mutex
	realtimeTargets map[string]string // segment id -> latest realtime target text
	finalized       map[string]bool   // segment id -> terminal translation event already emitted (invariant 1)
}

// New creates an Orchestrator. bus, queue, scheduler, st, and tracer are
// injected so tests can substitute in-memory fakes; comb/grouper/disp are
// constructed fresh per instance since they hold single-session state.
func New(cfg Config, bus *events.Bus, queue *translate.Queue, scheduler *advanced.Scheduler, st *store.Store, tracer *diag.Tracer) *Orchestrator {
	if cfg.RealtimeTimeout <= 0 {
		cfg.RealtimeTimeout = 8 * time.Second
	}
	if cfg.StopGracePeriod <= 0 {
		cfg.StopGracePeriod = 2 * time.Second
	}
	if cfg.CaptureConfig.DeviceChannels <= 0 {
		cfg.CaptureConfig.DeviceChannels = 1
	}
	if cfg.CaptureConfig.DeviceSampleRate <= 0 {
		cfg.CaptureConfig.DeviceSampleRate = audio.FrameSampleRate
	}
	if cfg.CaptureConfig.Codec == "" {
		cfg.CaptureConfig.Codec = audio.CodecPCM
	}

	o := &Orchestrator{
		cfg:             cfg,
		machine:         fsm.New(32),
		bus:             bus,
		queue:           queue,
		scheduler:       scheduler,
		st:              st,
		tracer:          tracer,
		disp:            display.New(),
		realtimeTargets: make(map[string]string),
		finalized:       make(map[string]bool),
	}
	o.grouper = history.New(cfg.HistoryConfig, o.onHistoryBlock)
	o.comb = combiner.New(cfg.CombinerConfig, o.onCombinedSentence)
	return o
}

// State returns the current C4 lifecycle state.
func (o *Orchestrator) State() fsm.State { return o.machine.State() }

// ConfigureSession updates the session identity a subsequent
// StartListening call will use. The startListening command (spec §6)
// carries course name and language pair at call time rather than at
// process startup, so C10's transport calls this before StartListening
// whenever the command supplies them.
func (o *Orchestrator) ConfigureSession(courseName string, source, target types.Language) {
	o.cfg.CourseName = courseName
	o.cfg.SourceLanguage = source
	o.cfg.TargetLanguage = target
}

// StartListening transitions idle->starting->listening, starts a
// durable session, and connects the ASR adapter (spec §4.8 invariant 4:
// the pipeline never auto-reconnects; this is the only entry point that
// dials C1).
func (o *Orchestrator) StartListening(ctx context.Context) error {
	if err := o.machine.Transition(fsm.Starting, "startListening"); err != nil {
		return o.publishInvalidTransition(err)
	}

	if _, err := o.st.StartSession(store.StartParams{
		CourseName:     o.cfg.CourseName,
		SourceLanguage: o.cfg.SourceLanguage,
		TargetLanguage: o.cfg.TargetLanguage,
	}); err != nil {
		_ = o.machine.Transition(fsm.Error, "persistence_failed")
		o.publishError(events.ErrPersistenceFailed, err.Error(), false)
		return err
	}

	capture, err := audio.NewCapture(o.cfg.CaptureConfig)
	if err != nil {
		_ = o.machine.Transition(fsm.Error, "capture_init_failed")
		o.publishError(events.ErrAudioCaptureFailed, err.Error(), false)
		return err
	}
	o.capture = capture

	o.asrAdapter = asr.New(o.cfg.ASRConfig)
	if err := o.asrAdapter.Connect(ctx); err != nil {
		_ = o.machine.Transition(fsm.Error, "asr_connection_failed")
		o.publishError(events.ErrASRConnectionFailed, err.Error(), true)
		return err
	}

	if err := o.machine.Transition(fsm.Listening, "asr_connected"); err != nil {
		return o.publishInvalidTransition(err)
	}
	o.publishStatus(fsm.Listening, "")

	go o.pumpASR(ctx)
	return nil
}

// SendAudio runs one raw device audio chunk through C11's capture/framing
// pipeline (decode -> resample to 16kHz -> fixed 20ms/640-byte framing)
// and forwards each resulting frame to the ASR adapter. A no-op (chunk
// discarded, no frame forwarded) while paused, per spec §4.11 — enforced
// both by the FSM state gate here and by capture.Pause() itself, so a
// chunk that arrives mid-transition is never partially framed.
func (o *Orchestrator) SendAudio(chunk []byte) error {
	if o.machine.State() != fsm.Listening && o.machine.State() != fsm.Processing {
		return nil
	}
	frames, err := o.capture.PushChunk(chunk)
	if err != nil {
		o.publishError(events.ErrAudioCaptureFailed, err.Error(), true)
		return err
	}
	for _, frame := range frames {
		if err := o.asrAdapter.SendAudio(frame); err != nil {
			return err
		}
	}
	return nil
}

// Pause is legal only from Listening (spec §4.4); in-flight translations
// continue uninterrupted (spec §5).
func (o *Orchestrator) Pause() error {
	if err := o.machine.Pause("pauseListening"); err != nil {
		return o.publishInvalidTransition(err)
	}
	if o.capture != nil {
		o.capture.Pause()
	}
	o.publishStatus(fsm.Paused, "")
	return nil
}

// Resume returns to Listening; ASR audio delivery resumes but no new
// connection is made (spec §4.4/§9).
func (o *Orchestrator) Resume() error {
	if err := o.machine.Resume("resumeListening"); err != nil {
		return o.publishInvalidTransition(err)
	}
	if o.capture != nil {
		o.capture.Resume()
	}
	o.publishStatus(o.machine.State(), "")
	return nil
}

// StopListening transitions to stopping, disconnects the ASR adapter,
// force-emits any pending sentence, drains the translation queue up to
// the configured grace period, flushes the durable store, and returns
// to idle.
func (o *Orchestrator) StopListening() error {
	if err := o.machine.Transition(fsm.Stopping, "stopListening"); err != nil {
		return o.publishInvalidTransition(err)
	}
	o.publishStatus(fsm.Stopping, "")

	if o.capture != nil && o.asrAdapter != nil {
		if trailing := o.capture.Flush(); trailing != nil {
			_ = o.asrAdapter.SendAudio(trailing)
		}
	}
	if o.asrAdapter != nil {
		_ = o.asrAdapter.Disconnect()
	}
	o.comb.Flush()
	o.grouper.Reset()
	o.queue.Drain(o.cfg.StopGracePeriod)
	if err := o.st.EndSession(); err != nil {
		o.publishError(events.ErrPersistenceFailed, err.Error(), true)
	}

	if err := o.machine.Transition(fsm.Idle, "stopped"); err != nil {
		return o.publishInvalidTransition(err)
	}
	o.publishStatus(fsm.Idle, "")
	o.disp.Reset()
	return nil
}

func (o *Orchestrator) publishInvalidTransition(err error) error {
	o.publishError(events.ErrInvalidStateTransition, err.Error(), false)
	return err
}

// pumpASR is the single reader of the ASR adapter's event channel for
// this session's lifetime, translating each event into the published
// stream plus the C2/C3 wiring spec §4.8 names.
func (o *Orchestrator) pumpASR(ctx context.Context) {
	for ev := range o.asrAdapter.Events() {
		switch ev.Type {
		case asr.EventTranscript:
			o.handleTranscript(ctx, *ev.Segment)
		case asr.EventError:
			o.publishError(events.ErrorCode(ev.Code), ev.Reason, ev.Recoverable)
			if !ev.Recoverable {
				_ = o.machine.Transition(fsm.Error, ev.Code)
				o.publishStatus(fsm.Error, ev.Reason)
			}
		case asr.EventDisconnected:
			if o.machine.State() == fsm.Listening || o.machine.State() == fsm.Processing {
				o.publishError(events.ErrASRStreamClosed, ev.Reason, true)
			}
		}
	}
}

func (o *Orchestrator) handleTranscript(ctx context.Context, seg types.TranscriptSegment) {
	now := seg.EndMs
	o.bus.Publish(events.TypeASR, events.ASRData{
		Text: seg.Text, Confidence: seg.Confidence, IsFinal: seg.IsFinal,
		Language: string(seg.Language), SegmentID: seg.ID,
	})
	o.disp.UpsertSource(seg.ID, seg.Text, seg.IsFinal, now)

	if !seg.IsFinal {
		return
	}

	o.comb.Add(seg)
	o.enqueueRealtime(ctx, seg)
}

// enqueueRealtime submits a realtime-tier translation for one finalized
// ASR segment and arranges for exactly one terminal translation event
// (spec §8 property 1, §3 invariant) regardless of success, queue
// rejection, or timeout.
func (o *Orchestrator) enqueueRealtime(ctx context.Context, seg types.TranscriptSegment) {
	done := o.tracer.Span("translate_realtime", seg.ID)

	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.RealtimeTimeout)
	defer cancel()

	result, err := o.queue.Enqueue(reqCtx, types.TranslationRequest{
		SegmentID: seg.ID, SourceText: seg.Text,
		SourceLanguage: o.cfg.SourceLanguage, TargetLanguage: o.cfg.TargetLanguage,
		Priority: types.PriorityNormal, Kind: types.KindRealtime,
	})
	done(err)

	var target string
	if err != nil {
		target = fallbackPrefix + seg.Text
		code, recoverable := classifyTranslationError(err)
		o.publishError(code, err.Error(), recoverable)
		metrics.Errors.WithLabelValues("translate_realtime", string(code)).Inc()
	} else {
		target = result.TargetText
	}

	o.emitTerminalOnce(seg.ID, types.TranslationResult{
		SegmentID: seg.ID, TargetText: target, IsFinal: true,
		Confidence: result.Confidence,
	})

	o.mu.Lock()
	o.realtimeTargets[seg.ID] = target
	o.mu.Unlock()

	o.disp.UpsertTarget(seg.ID, target, true, seg.EndMs)

	newly := o.scheduler.AddFinalizedText(seg.Text)
	for _, threshold := range newly {
		go o.emitProgressiveSummary(ctx, threshold)
	}
}

// emitTerminalOnce publishes the translation event for segmentID exactly
// once, even if called concurrently or repeatedly, enforcing spec §8
// property 1 at the single chokepoint every realtime-tier result passes
// through. History-tier results are published by enqueueHistory directly.
func (o *Orchestrator) emitTerminalOnce(segmentID string, result types.TranslationResult) {
	o.mu.Lock()
	if o.finalized[segmentID] {
		o.mu.Unlock()
		return
	}
	o.finalized[segmentID] = true
	o.mu.Unlock()

	o.bus.Publish(events.TypeTranslation, events.TranslationData{
		SourceText: "", TargetText: result.TargetText,
		SourceLanguage: string(o.cfg.SourceLanguage), TargetLanguage: string(o.cfg.TargetLanguage),
		Confidence: result.Confidence, IsFinal: result.IsFinal, SegmentID: segmentID,
	})
	o.bus.Publish(events.TypeSegment, events.SegmentData{
		SegmentID: segmentID, Translation: result.TargetText, Status: events.SegmentCompleted,
	})
}

// onCombinedSentence implements C2.on_sentence -> publish combinedSentence,
// C6.add_sentence (seeded with whatever realtime translations have
// arrived for its segments so far), then C3.enqueue(kind=history).
func (o *Orchestrator) onCombinedSentence(cs types.CombinedSentence) {
	o.bus.Publish(events.TypeCombinedSentence, events.CombinedSentenceData{
		CombinedID: cs.ID, SegmentIDs: cs.SegmentIDs, SourceText: cs.SourceText,
		Timestamp: cs.StartMs, EndTimestamp: cs.EndMs, SegmentCount: cs.SegmentCount,
	})

	o.mu.Lock()
	var pieces []string
	for _, sid := range cs.SegmentIDs {
		pieces = append(pieces, o.realtimeTargets[sid])
	}
	o.mu.Unlock()

	o.grouper.AddSentence(types.HistorySentence{
		ID: cs.ID, SourceText: cs.SourceText, TargetText: joinNonEmpty(pieces), Timestamp: cs.EndMs,
	})

	ctx := context.Background()
	go o.enqueueHistory(ctx, cs)
}

func (o *Orchestrator) enqueueHistory(ctx context.Context, cs types.CombinedSentence) {
	segmentID := "history_" + cs.ID
	done := o.tracer.Span("translate_history", segmentID)

	result, err := o.queue.Enqueue(ctx, types.TranslationRequest{
		SegmentID: segmentID, SourceText: cs.SourceText,
		SourceLanguage: o.cfg.SourceLanguage, TargetLanguage: o.cfg.TargetLanguage,
		Priority: types.PriorityLow, Kind: types.KindHistory,
	})
	done(err)

	if err != nil {
		// A history-tier queue-full rejection drops silently per spec §4.3
		// backpressure policy (counted in metrics only); any other
		// history-tier failure is reported as an error event. Either way
		// the sentence keeps whatever realtime-quality text it already has.
		code, recoverable := classifyTranslationError(err)
		metrics.Errors.WithLabelValues("translate_history", string(code)).Inc()
		if !errors.Is(err, translate.ErrQueueFull) {
			o.publishError(code, err.Error(), recoverable)
		}
		return
	}

	o.bus.Publish(events.TypeTranslation, events.TranslationData{
		TargetText: result.TargetText, SourceLanguage: string(o.cfg.SourceLanguage),
		TargetLanguage: string(o.cfg.TargetLanguage), Confidence: result.Confidence,
		IsFinal: true, SegmentID: segmentID,
	})
	o.grouper.UpdateSentenceTranslation(cs.ID, result.TargetText)
}

// onHistoryBlock implements C9.append for every block the grouper
// (first) emits or (later) republishes after an upgrade.
func (o *Orchestrator) onHistoryBlock(block types.HistoryBlock) {
	if err := o.st.AppendHistoryBlock(block); err != nil {
		o.publishError(events.ErrPersistenceFailed, err.Error(), true)
	}
}

// emitProgressiveSummary generates and publishes one progressive summary
// for a newly crossed word-count threshold (spec §4.7). A generation
// failure skips only this threshold; subsequent thresholds are
// unaffected (spec §7).
func (o *Orchestrator) emitProgressiveSummary(ctx context.Context, threshold int) {
	done := o.tracer.Span("summary", fmt.Sprintf("threshold_%d", threshold))
	summary, err := o.scheduler.GenerateSummary(ctx, threshold)
	done(err)
	if err != nil {
		o.publishError(events.ErrTranslationFailed, err.Error(), true)
		return
	}
	if err := o.st.AppendSummary(summary); err != nil {
		o.publishError(events.ErrPersistenceFailed, err.Error(), true)
	}
	o.bus.Publish(events.TypeProgressiveSummary, events.ProgressiveSummaryData{
		SourceText: summary.SourceText, TargetText: summary.TargetText,
		SourceLanguage: string(o.cfg.SourceLanguage), TargetLanguage: string(o.cfg.TargetLanguage),
		WordCount: summary.WordCount, Threshold: threshold,
	})
}

// GenerateVocabulary implements the generateVocabulary command.
func (o *Orchestrator) GenerateVocabulary(ctx context.Context) error {
	items, err := o.scheduler.GenerateVocabulary(ctx)
	if err != nil {
		o.publishError(events.ErrTranslationFailed, err.Error(), true)
		return err
	}
	out := make([]events.VocabularyItem, len(items))
	for i, it := range items {
		out[i] = events.VocabularyItem{Term: it.Term, Definition: it.Definition, Context: it.Context}
	}
	o.bus.Publish(events.TypeVocabulary, events.VocabularyData{Items: out, TotalTerms: len(out)})
	return nil
}

// GenerateFinalReport implements the generateFinalReport command,
// consolidating history and summaries (spec §4.7) and finalizing the
// durable session record.
func (o *Orchestrator) GenerateFinalReport(ctx context.Context, historyText string) error {
	result, err := o.scheduler.GenerateFinalReport(ctx, historyText)
	if err != nil {
		o.publishError(events.ErrTranslationFailed, err.Error(), true)
		return err
	}
	if err := o.st.Finalize(store.FinalizeParams{FinalReport: result.Report, Vocabulary: result.Vocabulary}); err != nil {
		o.publishError(events.ErrPersistenceFailed, err.Error(), true)
	}
	vocab := make([]events.VocabularyItem, len(result.Vocabulary))
	for i, it := range result.Vocabulary {
		vocab[i] = events.VocabularyItem{Term: it.Term, Definition: it.Definition, Context: it.Context}
	}
	if len(vocab) > 0 {
		o.bus.Publish(events.TypeVocabulary, events.VocabularyData{Items: vocab, TotalTerms: len(vocab)})
	}
	o.bus.Publish(events.TypeFinalReport, events.FinalReportData{
		Report: result.Report, TotalWordCount: result.TotalWordCount,
		SummaryCount: result.SummaryCount, VocabularyCount: result.VocabularyCount,
	})
	return nil
}

// TranslateParagraph implements the translateParagraph command: a
// higher-quality, on-demand re-translation of an arbitrary span,
// published as paragraphComplete and folded into the history grouper as
// a paragraph-tagged upgrade (spec §4.6, §6).
func (o *Orchestrator) TranslateParagraph(ctx context.Context, paragraphID string, segmentIDs []string, rawText string, startMs, endMs int64) error {
	result, err := o.queue.Enqueue(ctx, types.TranslationRequest{
		SegmentID: "paragraph_" + paragraphID, SourceText: rawText,
		SourceLanguage: o.cfg.SourceLanguage, TargetLanguage: o.cfg.TargetLanguage,
		Priority: types.PriorityLow, Kind: types.KindParagraph,
	})
	if err != nil {
		code, recoverable := classifyTranslationError(err)
		o.publishError(code, err.Error(), recoverable)
		return err
	}

	o.grouper.UpdateParagraphTranslation(paragraphID, result.TargetText)
	wordCount := len(strings.Fields(rawText))
	o.bus.Publish(events.TypeParagraphComplete, events.ParagraphCompleteData{
		ParagraphID: paragraphID, SegmentIDs: segmentIDs, RawText: rawText, CleanedText: result.TargetText,
		StartTime: startMs, EndTime: endMs, DurationMs: endMs - startMs, WordCount: wordCount,
	})
	return nil
}

func (o *Orchestrator) publishStatus(state fsm.State, details string) {
	o.bus.Publish(events.TypeStatus, events.StatusData{State: events.State(state), Details: details})
}

func (o *Orchestrator) publishError(code events.ErrorCode, message string, recoverable bool) {
	slog.Warn("orchestrator: error event", "code", code, "recoverable", recoverable, "message", message)
	o.bus.Publish(events.TypeError, events.ErrorData{Code: code, Message: message, Recoverable: recoverable})
}

// classifyTranslationError maps a translate.Queue error into the error
// taxonomy of spec §7.
func classifyTranslationError(err error) (events.ErrorCode, bool) {
	switch {
	case errors.Is(err, translate.ErrQueueFull):
		return events.ErrTranslationQueueFull, true
	case errors.Is(err, translate.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return events.ErrTranslationTimeout, true
	default:
		return events.ErrTranslationFailed, true
	}
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}

// NewCorrelationID generates a fresh per-session correlation id (spec
// §9's "correlation id" glossary entry), stamped on every published
// event by the events.Bus constructed from it.
func NewCorrelationID() string {
	return uuid.NewString()
}
