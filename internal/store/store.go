// Package store implements the durable session store (spec §4.9 /
// component C9): crash-safe, append-oriented JSON persistence of
// sentences, summaries, and session metadata, plus same-day resume.
// Re-platformed from the teacher's trace.Store/trace.Tracer async-drain
// design (internal/trace) off Postgres and onto the filesystem, since
// the spec requires file-based, crash-safe persistence rather than a
// database dependency. Every write is a temp-file-plus-rename on the
// same filesystem, matching spec §4.9's "Writes are append-oriented:
// each write atomically replaces the target file" rule.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/metrics"
	"github.com/ryouen/univoice-pipeline/internal/types"
)

const (
	metadataFile   = "metadata.json"
	historyFile    = "history.json"
	summaryFile    = "summary.json"
	vocabularyFile = "vocabulary.json"
	reportFile     = "report.md"
)

// metadata is the persisted shape of metadata.json.
type metadata struct {
	CourseName     string         `json:"course_name"`
	Date           string         `json:"date"`
	SessionNumber  int            `json:"session_number"`
	SourceLanguage types.Language `json:"source_language"`
	TargetLanguage types.Language `json:"target_language"`
	StartedAt      int64          `json:"started_at"`
	EndedAt        int64          `json:"ended_at,omitempty"`
}

// StartParams are the arguments to StartSession.
type StartParams struct {
	CourseName     string
	SourceLanguage types.Language
	TargetLanguage types.Language
	SessionNumber  int // 0 = auto-assign next number for today
}

// FinalizeParams are the arguments to Finalize.
type FinalizeParams struct {
	FinalReport string
	Vocabulary  []types.VocabularyItem
}

// Store is a crash-safe, single-writer session persistence layer rooted
// at Root (default `~/UniVoice`, overridable via UNIVOICE_DATA_PATH per
// spec §6). One Store instance is the single owner of the active
// session's files; concurrent readers (list/load) use atomic snapshots
// produced by the same rename-based writes.
type Store struct {
	root string

	mu      sync.Mutex
	dir     string
	meta    metadata
	history []types.HistoryBlock
	summary []types.Summary
	active  bool

	catalog *Catalog
}

// New creates a Store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

// AttachCatalog wires an optional SQLite lookup index into the store.
// Once attached, every successful StartSession also indexes itself in
// catalog (best-effort; an indexing failure never fails StartSession,
// per Catalog.Index's contract).
func (s *Store) AttachCatalog(catalog *Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog
}

// StartSession creates a new session directory and metadata.json. If
// p.SessionNumber is 0, the next number for today is chosen by scanning
// existing directories (spec §4.9 same-day resume companion behavior).
func (s *Store) StartSession(p StartParams) (types.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := time.Now().Format("20060102")
	num := p.SessionNumber
	if num == 0 {
		num = s.nextSessionNumberLocked(p.CourseName, date)
	}

	dir := s.sessionDirLocked(p.CourseName, date, num)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.SessionRecord{}, fmt.Errorf("store: create session dir: %w", err)
	}

	s.dir = dir
	s.meta = metadata{
		CourseName:     p.CourseName,
		Date:           date,
		SessionNumber:  num,
		SourceLanguage: p.SourceLanguage,
		TargetLanguage: p.TargetLanguage,
		StartedAt:      time.Now().UnixMilli(),
	}
	s.history = nil
	s.summary = nil
	s.active = true

	if err := s.writeJSONLocked(metadataFile, s.meta); err != nil {
		return types.SessionRecord{}, err
	}
	if err := s.writeJSONLocked(historyFile, []types.HistoryBlock{}); err != nil {
		return types.SessionRecord{}, err
	}
	if err := s.writeJSONLocked(summaryFile, []types.Summary{}); err != nil {
		return types.SessionRecord{}, err
	}

	if s.catalog != nil {
		if err := s.catalog.Index(p.CourseName, date, num, dir, s.meta.StartedAt); err != nil {
			slog.Warn("store: catalog index failed", "error", err)
		}
	}

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	return s.recordLocked(), nil
}

// AppendHistoryBlock appends (or replaces, by id, if already present —
// an upgraded block republish) one HistoryBlock and atomically rewrites
// history.json. A persistence failure is reported but never blocks the
// in-memory pipeline (spec §7: "persistence errors do not block live
// operation").
func (s *Store) AppendHistoryBlock(block types.HistoryBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, b := range s.history {
		if b.ID == block.ID {
			s.history[i] = block
			replaced = true
			break
		}
	}
	if !replaced {
		s.history = append(s.history, block)
	}
	if err := s.writeJSONLocked(historyFile, s.history); err != nil {
		metrics.PersistenceFailures.Inc()
		return err
	}
	return nil
}

// AppendSummary appends one Summary and atomically rewrites summary.json.
func (s *Store) AppendSummary(summary types.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = append(s.summary, summary)
	if err := s.writeJSONLocked(summaryFile, s.summary); err != nil {
		metrics.PersistenceFailures.Inc()
		return err
	}
	return nil
}

// Finalize writes the final report and vocabulary files. Safe to call at
// most once meaningfully per session; a second call overwrites both.
func (s *Store) Finalize(p FinalizeParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.FinalReport != "" {
		if err := s.writeFileLocked(reportFile, []byte(p.FinalReport)); err != nil {
			metrics.PersistenceFailures.Inc()
			return err
		}
	}
	if p.Vocabulary != nil {
		if err := s.writeJSONLocked(vocabularyFile, p.Vocabulary); err != nil {
			metrics.PersistenceFailures.Inc()
			return err
		}
	}
	return nil
}

// EndSession marks the session metadata as ended and performs the final
// metadata rewrite.
func (s *Store) EndSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.meta.EndedAt = time.Now().UnixMilli()
	s.active = false
	metrics.SessionsActive.Dec()
	return s.writeJSONLocked(metadataFile, s.meta)
}

// ActiveHistory returns a snapshot of the active session's in-memory
// history blocks, for the live getHistory command (spec §4.10) — the
// recent blocks already held in memory, as opposed to getFullHistory's
// full disk rehydration of an arbitrary past session.
func (s *Store) ActiveHistory() []types.HistoryBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.HistoryBlock(nil), s.history...)
}

// ClearHistory discards the active session's in-memory history and
// atomically rewrites history.json to empty, for the clearHistory
// command (spec §4.10). A no-op if no session is active.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.history = nil
	if err := s.writeJSONLocked(historyFile, []types.HistoryBlock{}); err != nil {
		metrics.PersistenceFailures.Inc()
		return err
	}
	return nil
}

// CheckTodaySession returns the newest session for courseName started
// today, for same-day resume, or ok=false if none exists.
func (s *Store) CheckTodaySession(courseName string) (types.SessionRecord, bool, error) {
	date := time.Now().Format("20060102")
	sessions, err := s.listSessionDirs(courseName)
	if err != nil {
		return types.SessionRecord{}, false, err
	}
	var best *sessionDirInfo
	for i := range sessions {
		if sessions[i].date == date && (best == nil || sessions[i].number > best.number) {
			best = &sessions[i]
		}
	}
	if best == nil {
		return types.SessionRecord{}, false, nil
	}
	rec, err := s.LoadSession(courseName, date, best.number)
	if err != nil {
		return types.SessionRecord{}, false, err
	}
	return rec, true, nil
}

// AvailableSessionsParams filters ListAvailableSessions.
type AvailableSessionsParams struct {
	CourseName string // empty = all courses
	Limit      int    // 0 = unlimited
}

// ListAvailableSessions returns session metadata across courses (or one
// course), newest first.
func (s *Store) ListAvailableSessions(p AvailableSessionsParams) ([]types.SessionRecord, error) {
	var courses []string
	if p.CourseName != "" {
		courses = []string{p.CourseName}
	} else {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("store: list courses: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				courses = append(courses, e.Name())
			}
		}
	}

	var out []types.SessionRecord
	for _, course := range courses {
		dirs, err := s.listSessionDirs(course)
		if err != nil {
			return nil, err
		}
		for _, d := range dirs {
			rec, err := s.LoadSession(course, d.date, d.number)
			if err != nil {
				continue // a partially-written session directory is skipped, not fatal
			}
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

// LoadSession rehydrates a full SessionRecord from disk: metadata,
// history blocks, summaries, and (if present) the final report and
// vocabulary.
func (s *Store) LoadSession(courseName, date string, sessionNumber int) (types.SessionRecord, error) {
	dir := s.sessionDirLocked(courseName, date, sessionNumber)

	var meta metadata
	if err := readJSON(filepath.Join(dir, metadataFile), &meta); err != nil {
		return types.SessionRecord{}, fmt.Errorf("store: load metadata: %w", err)
	}
	var history []types.HistoryBlock
	if err := readJSON(filepath.Join(dir, historyFile), &history); err != nil {
		return types.SessionRecord{}, fmt.Errorf("store: load history: %w", err)
	}
	var summaries []types.Summary
	if err := readJSON(filepath.Join(dir, summaryFile), &summaries); err != nil {
		return types.SessionRecord{}, fmt.Errorf("store: load summary: %w", err)
	}
	var vocab []types.VocabularyItem
	_ = readJSON(filepath.Join(dir, vocabularyFile), &vocab) // optional, final-only

	report, _ := os.ReadFile(filepath.Join(dir, reportFile)) // optional, final-only

	return types.SessionRecord{
		CourseName:     meta.CourseName,
		Date:           meta.Date,
		SessionNumber:  meta.SessionNumber,
		SourceLanguage: meta.SourceLanguage,
		TargetLanguage: meta.TargetLanguage,
		StartedAt:      meta.StartedAt,
		EndedAt:        meta.EndedAt,
		HistoryBlocks:  history,
		Summaries:      summaries,
		FinalReport:    string(report),
		Vocabulary:     vocab,
	}, nil
}

type sessionDirInfo struct {
	date   string
	number int
}

func (s *Store) listSessionDirs(courseName string) ([]sessionDirInfo, error) {
	courseDir := filepath.Join(s.root, courseName)
	entries, err := os.ReadDir(courseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list sessions for %s: %w", courseName, err)
	}
	var out []sessionDirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var date string
		var number int
		if _, err := fmt.Sscanf(e.Name(), "%8s_%d", &date, &number); err != nil {
			continue
		}
		out = append(out, sessionDirInfo{date: date, number: number})
	}
	return out, nil
}

func (s *Store) nextSessionNumberLocked(courseName, date string) int {
	dirs, err := s.listSessionDirs(courseName)
	if err != nil {
		return 1
	}
	max := 0
	for _, d := range dirs {
		if d.date == date && d.number > max {
			max = d.number
		}
	}
	return max + 1
}

func (s *Store) sessionDirLocked(courseName, date string, number int) string {
	return filepath.Join(s.root, courseName, fmt.Sprintf("%s_%d", date, number))
}

func (s *Store) recordLocked() types.SessionRecord {
	return types.SessionRecord{
		CourseName:     s.meta.CourseName,
		Date:           s.meta.Date,
		SessionNumber:  s.meta.SessionNumber,
		SourceLanguage: s.meta.SourceLanguage,
		TargetLanguage: s.meta.TargetLanguage,
		StartedAt:      s.meta.StartedAt,
		HistoryBlocks:  append([]types.HistoryBlock(nil), s.history...),
		Summaries:      append([]types.Summary(nil), s.summary...),
	}
}

// writeJSONLocked marshals v as canonical (field-ordered, per struct
// tags) JSON and writes it via writeFileLocked's atomic rename.
func (s *Store) writeJSONLocked(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", name, err)
	}
	return s.writeFileLocked(name, data)
}

// writeFileLocked writes data to a temp file in the session directory
// and renames it over name, so a crash between write and rename leaves
// the previous snapshot intact and parseable (spec §8 property 7).
func (s *Store) writeFileLocked(name string, data []byte) error {
	target := filepath.Join(s.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("store: rename %s: %w", name, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
