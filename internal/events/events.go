// Package events implements the typed event bus / IPC transport (spec
// §4.10 / component C10): a tagged-union event envelope published to the
// UI process, and a small command set accepted from it. It generalizes
// the teacher's ws.Handler/newEventSender single-struct protocol — one
// mutex-guarded writer per connection, JSON frames over the same
// gorilla/websocket connection the ASR adapter's duplex stream already
// depends on — to a multiplexed, schema-validated envelope carrying any
// of the ten event types named in the spec instead of one fixed shape.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

// Type identifies which shape Data holds inside an Envelope.
type Type string

const (
	TypeASR               Type = "asr"
	TypeTranslation       Type = "translation"
	TypeSegment           Type = "segment"
	TypeProgressiveSummary Type = "progressiveSummary"
	TypeError             Type = "error"
	TypeStatus            Type = "status"
	TypeVocabulary        Type = "vocabulary"
	TypeFinalReport       Type = "finalReport"
	TypeCombinedSentence  Type = "combinedSentence"
	TypeParagraphComplete Type = "paragraphComplete"
	TypeSessionList       Type = "sessionList"
	TypeSessionData       Type = "sessionData"
	TypeHistoryData       Type = "historyData"
)

// Envelope is the single published shape every event takes on the wire:
// a type tag, a timestamp, the session's correlation id, and a
// type-specific payload. Validator checks a raw envelope against the
// envelope schema and the set above; Bus.Publish sends envelopes without
// running it, and Data's fields are not checked against any per-type
// schema.
type Envelope struct {
	Type          Type            `json:"type"`
	Timestamp     int64           `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// ASRData is the payload of a TypeASR envelope.
type ASRData struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	Language   string  `json:"language,omitempty"`
	SegmentID  string  `json:"segment_id,omitempty"`
}

// TranslationData is the payload of a TypeTranslation envelope.
type TranslationData struct {
	SourceText     string  `json:"source_text"`
	TargetText     string  `json:"target_text"`
	SourceLanguage string  `json:"source_language"`
	TargetLanguage string  `json:"target_language"`
	Confidence     float64 `json:"confidence"`
	IsFinal        bool    `json:"is_final"`
	SegmentID      string  `json:"segment_id,omitempty"`
}

// SegmentStatus is the lifecycle tag of a SegmentData payload.
type SegmentStatus string

const (
	SegmentProcessing SegmentStatus = "processing"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentError      SegmentStatus = "error"
)

// SegmentData is the payload of a TypeSegment envelope.
type SegmentData struct {
	SegmentID   string            `json:"segment_id"`
	Text        string            `json:"text"`
	Translation string            `json:"translation,omitempty"`
	Status      SegmentStatus     `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CombinedSentenceData is the payload of a TypeCombinedSentence envelope.
type CombinedSentenceData struct {
	CombinedID    string   `json:"combined_id"`
	SegmentIDs    []string `json:"segment_ids"`
	SourceText    string   `json:"source_text"`
	Timestamp     int64    `json:"timestamp"`
	EndTimestamp  int64    `json:"end_timestamp"`
	SegmentCount  int      `json:"segment_count"`
}

// ProgressiveSummaryData is the payload of a TypeProgressiveSummary envelope.
type ProgressiveSummaryData struct {
	SourceText     string `json:"source_text"`
	TargetText     string `json:"target_text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	WordCount      int    `json:"word_count"`
	Threshold      int    `json:"threshold"`
	StartTime      int64  `json:"start_time,omitempty"`
	EndTime        int64  `json:"end_time,omitempty"`
}

// ParagraphCompleteData is the payload of a TypeParagraphComplete envelope.
type ParagraphCompleteData struct {
	ParagraphID string   `json:"paragraph_id"`
	SegmentIDs  []string `json:"segment_ids"`
	RawText     string   `json:"raw_text"`
	CleanedText string   `json:"cleaned_text,omitempty"`
	StartTime   int64    `json:"start_time"`
	EndTime     int64    `json:"end_time"`
	DurationMs  int64    `json:"duration"`
	WordCount   int      `json:"word_count"`
}

// State is the pipeline lifecycle state carried by a TypeStatus envelope;
// it mirrors the C4 state machine's State type by value so this package
// has no import-time dependency on internal/fsm.
type State string

// StatusData is the payload of a TypeStatus envelope.
type StatusData struct {
	State   State  `json:"state"`
	Details string `json:"details,omitempty"`
}

// VocabularyItem is one extracted domain term.
type VocabularyItem struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
	Context    string `json:"context,omitempty"`
}

// VocabularyData is the payload of a TypeVocabulary envelope.
type VocabularyData struct {
	Items      []VocabularyItem `json:"items"`
	TotalTerms int              `json:"total_terms"`
}

// FinalReportData is the payload of a TypeFinalReport envelope.
type FinalReportData struct {
	Report          string `json:"report"`
	TotalWordCount  int    `json:"total_word_count"`
	SummaryCount    int    `json:"summary_count"`
	VocabularyCount int    `json:"vocabulary_count"`
}

// SessionListData is the payload of a TypeSessionList envelope, the
// response to a getAvailableSessions command.
type SessionListData struct {
	Sessions []types.SessionRecord `json:"sessions"`
}

// SessionData is the payload of a TypeSessionData envelope, the response
// to a loadSession command.
type SessionData struct {
	Session types.SessionRecord `json:"session"`
}

// HistoryData is the payload of a TypeHistoryData envelope, the response
// to a getHistory, getFullHistory, or clearHistory command.
type HistoryData struct {
	Blocks []types.HistoryBlock `json:"blocks"`
}

// ErrorCode enumerates the error taxonomy of spec §7.
type ErrorCode string

const (
	ErrAudioCaptureFailed     ErrorCode = "audio_capture_failed"
	ErrASRConnectionFailed    ErrorCode = "asr_connection_failed"
	ErrASRStreamClosed        ErrorCode = "asr_stream_closed"
	ErrASRRateLimited         ErrorCode = "asr_rate_limited"
	ErrTranslationTimeout     ErrorCode = "translation_timeout"
	ErrTranslationFailed      ErrorCode = "translation_failed"
	ErrTranslationQueueFull   ErrorCode = "translation_queue_full"
	ErrPersistenceFailed      ErrorCode = "persistence_failed"
	ErrInvalidStateTransition ErrorCode = "invalid_state_transition"
	ErrInvalidLanguage        ErrorCode = "invalid_language"
	ErrSchemaValidationFailed ErrorCode = "schema_validation_failed"
)

// ErrorData is the payload of a TypeError envelope.
type ErrorData struct {
	Code        ErrorCode         `json:"code"`
	Message     string            `json:"message"`
	Recoverable bool              `json:"recoverable"`
	Details     map[string]string `json:"details,omitempty"`
}

// CommandName enumerates the command set accepted from the UI process.
type CommandName string

const (
	CmdStartListening      CommandName = "startListening"
	CmdStopListening       CommandName = "stopListening"
	CmdGetHistory          CommandName = "getHistory"
	CmdGetFullHistory      CommandName = "getFullHistory"
	CmdClearHistory        CommandName = "clearHistory"
	CmdGenerateVocabulary  CommandName = "generateVocabulary"
	CmdGenerateFinalReport CommandName = "generateFinalReport"
	CmdTranslateParagraph  CommandName = "translateParagraph"
	CmdGetAvailableSessions CommandName = "getAvailableSessions"
	CmdLoadSession         CommandName = "loadSession"
	CmdStartSession        CommandName = "startSession"
	CmdSaveHistoryBlock    CommandName = "saveHistoryBlock"
	CmdSaveSummary         CommandName = "saveSummary"
	CmdSaveSession         CommandName = "saveSession"
	CmdPauseListening      CommandName = "pauseListening"
	CmdResumeListening     CommandName = "resumeListening"
)

// Command is one inbound message from the UI process.
type Command struct {
	Name   CommandName     `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// knownTypes and knownCommands back Validate's "reject unknown variants"
// rule (spec §4.10, §6): both sides must drop anything outside this set
// rather than forward it blindly.
var knownTypes = map[Type]bool{
	TypeASR: true, TypeTranslation: true, TypeSegment: true,
	TypeProgressiveSummary: true, TypeError: true, TypeStatus: true,
	TypeVocabulary: true, TypeFinalReport: true, TypeCombinedSentence: true,
	TypeParagraphComplete: true, TypeSessionList: true, TypeSessionData: true,
	TypeHistoryData: true,
}

var knownCommands = map[CommandName]bool{
	CmdStartListening: true, CmdStopListening: true, CmdGetHistory: true,
	CmdGetFullHistory: true, CmdClearHistory: true, CmdGenerateVocabulary: true,
	CmdGenerateFinalReport: true, CmdTranslateParagraph: true,
	CmdGetAvailableSessions: true, CmdLoadSession: true, CmdStartSession: true,
	CmdSaveHistoryBlock: true, CmdSaveSummary: true, CmdSaveSession: true,
	CmdPauseListening: true, CmdResumeListening: true,
}

// ValidateEnvelope rejects an envelope whose Type is not one of the
// thirteen published event types, or whose correlation_id is empty. Schema (field-level) validation of Data is
// performed by Validator, which needs the JSON Schema documents loaded.
func ValidateEnvelope(e Envelope) error {
	if !knownTypes[e.Type] {
		return fmt.Errorf("events: unknown envelope type %q", e.Type)
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("events: envelope missing correlation_id")
	}
	return nil
}

// ValidateCommand rejects a command whose Name is not in the published
// command set.
func ValidateCommand(c Command) error {
	if !knownCommands[c.Name] {
		return fmt.Errorf("events: unknown command %q", c.Name)
	}
	return nil
}
