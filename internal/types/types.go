// Package types holds the data model shared across every pipeline stage
// (spec §3): transcript segments, combined sentences, translation
// requests/results, display pairs, history blocks, summaries, and the
// persisted session record. Keeping these in one leaf package avoids
// import cycles between the components that produce and consume them.
package types

// Language is a BCP-47-style short tag ("en", "ja"), or the literal
// "multi" some ASR models require for multilingual streams.
type Language string

const LanguageMulti Language = "multi"

// Priority is a translation request's queue bucket.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// RequestKind identifies which tier/purpose a TranslationRequest serves.
type RequestKind string

const (
	KindRealtime  RequestKind = "realtime"
	KindHistory   RequestKind = "history"
	KindParagraph RequestKind = "paragraph"
	KindUser      RequestKind = "user"
)

// TranscriptSegment is produced by the ASR stream adapter (C1).
type TranscriptSegment struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	Confidence float64  `json:"confidence"`
	StartMs    int64    `json:"start_ms"`
	EndMs      int64    `json:"end_ms"`
	Language   Language `json:"language"`
}

// CombinedSentence is emitted by the sentence combiner (C2).
type CombinedSentence struct {
	ID           string   `json:"id"`
	SegmentIDs   []string `json:"segment_ids"`
	SourceText   string   `json:"source_text"`
	StartMs      int64    `json:"start_ms"`
	EndMs        int64    `json:"end_ms"`
	SegmentCount int      `json:"segment_count"`
}

// TranslationRequest is submitted to the translation queue (C3).
type TranslationRequest struct {
	SegmentID      string      `json:"segment_id"`
	SourceText     string      `json:"source_text"`
	SourceLanguage Language    `json:"source_language"`
	TargetLanguage Language    `json:"target_language"`
	Priority       Priority    `json:"priority"`
	Kind           RequestKind `json:"kind"`
}

// TranslationResult is the terminal (or streaming-delta) outcome of a
// TranslationRequest.
type TranslationResult struct {
	SegmentID    string  `json:"segment_id"`
	TargetText   string  `json:"target_text"`
	IsFinal      bool    `json:"is_final"`
	Confidence   float64 `json:"confidence"`
	FirstPaintMs int64   `json:"first_paint_ms"`
	CompleteMs   int64   `json:"complete_ms"`
}

// DisplayPosition is a DisplayPair's slot in the three-line realtime view.
type DisplayPosition string

const (
	PositionRecent DisplayPosition = "recent"
	PositionOlder  DisplayPosition = "older"
	PositionOldest DisplayPosition = "oldest"
)

// Opacity contract values for each DisplayPosition (spec §3, §8 property 5).
const (
	OpacityRecent = 1.0
	OpacityOlder  = 0.6
	OpacityOldest = 0.3
)

// DisplayLine is one column (source or target) of a DisplayPair.
type DisplayLine struct {
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
	Timestamp int64  `json:"timestamp"`
}

// DisplayPair is one of the three rows shown in the realtime caption.
type DisplayPair struct {
	ID       string          `json:"id"`
	Source   DisplayLine     `json:"source"`
	Target   DisplayLine     `json:"target"`
	Position DisplayPosition `json:"position"`
	Opacity  float64         `json:"opacity"`
	Height   int             `json:"height"`
}

// HistorySentence is one row inside a HistoryBlock.
type HistorySentence struct {
	ID         string `json:"id"`
	SourceText string `json:"source_text"`
	TargetText string `json:"target_text"`
	Timestamp  int64  `json:"timestamp"`
}

// HistoryBlock groups sentence-level results for durable display (C6).
type HistoryBlock struct {
	ID          string            `json:"id"`
	Sentences   []HistorySentence `json:"sentences"`
	CreatedAt   int64             `json:"created_at"`
	TotalHeight int               `json:"total_height"`
	ParagraphID string            `json:"paragraph_id,omitempty"`
	RawText     string            `json:"raw_text,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
	IsParagraph bool              `json:"is_paragraph,omitempty"`
}

// Summary is a progressive or on-demand bilingual summary (C7).
type Summary struct {
	ID         string `json:"id"`
	SourceText string `json:"source_text"`
	TargetText string `json:"target_text"`
	WordCount  int    `json:"word_count"`
	Timestamp  int64  `json:"timestamp"`
	Threshold  int    `json:"threshold,omitempty"`
	StartMs    int64  `json:"start_ms,omitempty"`
	EndMs      int64  `json:"end_ms,omitempty"`
}

// VocabularyItem is one extracted domain term.
type VocabularyItem struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
	Context    string `json:"context,omitempty"`
}

// SessionRecord is the durable, append-only session document (C9).
type SessionRecord struct {
	CourseName     string         `json:"course_name"`
	Date           string         `json:"date"` // YYYYMMDD
	SessionNumber  int            `json:"session_number"`
	SourceLanguage Language       `json:"source_language"`
	TargetLanguage Language       `json:"target_language"`
	StartedAt      int64          `json:"started_at"`
	EndedAt        int64          `json:"ended_at,omitempty"`
	HistoryBlocks  []HistoryBlock `json:"history_blocks"`
	Summaries      []Summary      `json:"summaries"`
	FinalReport    string         `json:"final_report,omitempty"`
	Vocabulary     []VocabularyItem `json:"vocabulary,omitempty"`
}

// FinalReportResult is the output of the advanced features scheduler's
// final-report generation (C7), carrying the counts the `finalReport`
// event (spec §6) publishes alongside the report text itself.
type FinalReportResult struct {
	Report          string           `json:"report"`
	TotalWordCount  int              `json:"total_word_count"`
	SummaryCount    int              `json:"summary_count"`
	VocabularyCount int              `json:"vocabulary_count"`
	Vocabulary      []VocabularyItem `json:"vocabulary,omitempty"`
}
