// Package advanced implements the advanced features scheduler (spec
// §4.7 / component C7): word-count-triggered progressive summaries,
// on-demand vocabulary extraction, and final report generation. All
// three purposes dispatch through the same purpose-keyed model table
// (internal/models) the translation queue uses, plus this package's own
// engine-keyed Router of Generators, generalizing the teacher's AgentLLM/Router[T]
// single-purpose dispatch into the multi-purpose table the spec's §4.7
// "model selection is a configuration table keyed by purpose" requires.
package advanced

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ryouen/univoice-pipeline/internal/metrics"
	"github.com/ryouen/univoice-pipeline/internal/models"
	"github.com/ryouen/univoice-pipeline/internal/types"
)

// Generator performs one purpose-tagged LLM call: a prompt in, the
// model's full text reply out. It is deliberately narrower than
// translate.Backend (no streaming, no delta callback) since summaries,
// vocabulary, and the final report are all request/response, not
// realtime-rendered.
type Generator interface {
	Generate(ctx context.Context, model string, systemPrompt, userPrompt string) (string, error)
}

// Thresholds are the cumulative word-count milestones that trigger a
// progressive summary (spec §4.7: 400, 800, 1600, 2400, then +800·n).
var defaultFirstThreshold = 400
var defaultStep = 800

// Scheduler tracks the running finalized-source word count for one
// session and fires progressive summaries as thresholds are crossed, on
// top of providing on-demand vocabulary and final-report generation.
type Scheduler struct {
	table     *models.Table
	router    *Router
	first     int
	step      int
	sourceLang, targetLang types.Language

	mu         sync.Mutex
	wordCount  int
	crossed    map[int]bool
	history    []string // finalized source sentences, for report/vocab context
	summaries  []types.Summary
}

// Router resolves a models.Entry's Engine field to a Generator. Kept
// separate from translate.Router[Backend] because Generator and
// translate.Backend have different shapes (no streaming here).
type Router struct {
	backends map[string]Generator
	fallback string
}

// NewRouter creates a Router over the given engine-name -> Generator map.
func NewRouter(backends map[string]Generator, fallback string) *Router {
	return &Router{backends: backends, fallback: fallback}
}

func (r *Router) route(engine string) (Generator, error) {
	if g, ok := r.backends[engine]; ok {
		return g, nil
	}
	if g, ok := r.backends[r.fallback]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("advanced: no generator for engine %q", engine)
}

// Config tunes the scheduler's threshold cadence (spec §4.7 defaults:
// first=400, step=800).
type Config struct {
	FirstThreshold int
	StepThreshold  int
	SourceLanguage types.Language
	TargetLanguage types.Language
}

// New creates a Scheduler for one session.
func New(table *models.Table, router *Router, cfg Config) *Scheduler {
	first := cfg.FirstThreshold
	if first <= 0 {
		first = defaultFirstThreshold
	}
	step := cfg.StepThreshold
	if step <= 0 {
		step = defaultStep
	}
	return &Scheduler{
		table: table, router: router,
		first: first, step: step,
		sourceLang: cfg.SourceLanguage, targetLang: cfg.TargetLanguage,
		crossed: make(map[int]bool),
	}
}

// thresholds returns every milestone <= count that has not yet been
// recorded as crossed, in ascending order. The milestones are first, then
// every multiple of step above first (400, 800, 1600, 2400, ... with the
// defaults). Thresholds are additive and never re-emitted once crossed
// (spec §4.7, §8 property 8).
func (s *Scheduler) thresholds(count int) []int {
	var out []int
	if s.first <= count && !s.crossed[s.first] {
		out = append(out, s.first)
	}
	for t := s.step; t <= count; t += s.step {
		if t > s.first && !s.crossed[t] {
			out = append(out, t)
		}
	}
	return out
}

// AddFinalizedText folds newly finalized source text into the running
// word count and returns every progressive-summary threshold this
// addition crosses, in ascending order (possibly empty, possibly more
// than one if a long sentence jumps past a boundary).
func (s *Scheduler) AddFinalizedText(text string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, text)
	s.wordCount += len(strings.Fields(text))
	metrics.WordCount.Set(float64(s.wordCount))

	newly := s.thresholds(s.wordCount)
	for _, t := range newly {
		s.crossed[t] = true
	}
	return newly
}

// WordCount returns the running finalized-source word count.
func (s *Scheduler) WordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wordCount
}

// GenerateSummary produces a Summary covering the session so far for the
// given threshold (0 for an on-demand, non-progressive summary). It
// summarizes in the source language, then translates to the target
// language, matching spec §4.7's two-step description.
func (s *Scheduler) GenerateSummary(ctx context.Context, threshold int) (types.Summary, error) {
	s.mu.Lock()
	text := strings.Join(s.history, " ")
	wordCount := s.wordCount
	s.mu.Unlock()

	summaryEntry := s.table.Lookup(models.PurposeSummary)
	gen, err := s.router.route(summaryEntry.Engine)
	if err != nil {
		return types.Summary{}, err
	}
	sourceSummary, err := gen.Generate(ctx, summaryEntry.Model,
		summarySystemPrompt(string(s.sourceLang)), text)
	if err != nil {
		metrics.Errors.WithLabelValues("advanced_summary", "generate").Inc()
		return types.Summary{}, fmt.Errorf("advanced: summary generation: %w", err)
	}

	translateEntry := s.table.Lookup(models.PurposeHistoryTranslate)
	tgen, err := s.router.route(translateEntry.Engine)
	if err != nil {
		return types.Summary{}, err
	}
	targetSummary, err := tgen.Generate(ctx, translateEntry.Model,
		fmt.Sprintf("Translate the following %s text into %s. Reply with only the translation.", s.sourceLang, s.targetLang),
		sourceSummary)
	if err != nil {
		metrics.Errors.WithLabelValues("advanced_summary", "translate").Inc()
		return types.Summary{}, fmt.Errorf("advanced: summary translation: %w", err)
	}

	out := types.Summary{
		SourceText: sourceSummary,
		TargetText: targetSummary,
		WordCount:  wordCount,
		Threshold:  threshold,
	}
	s.mu.Lock()
	s.summaries = append(s.summaries, out)
	s.mu.Unlock()
	metrics.SummariesEmitted.Inc()
	return out, nil
}

// GenerateVocabulary extracts 5-15 domain terms from the session so far
// (spec §4.7).
func (s *Scheduler) GenerateVocabulary(ctx context.Context) ([]types.VocabularyItem, error) {
	s.mu.Lock()
	text := strings.Join(s.history, " ")
	s.mu.Unlock()

	entry := s.table.Lookup(models.PurposeVocabulary)
	gen, err := s.router.route(entry.Engine)
	if err != nil {
		return nil, err
	}
	raw, err := gen.Generate(ctx, entry.Model, vocabularySystemPrompt(), text)
	if err != nil {
		metrics.Errors.WithLabelValues("advanced_vocabulary", "generate").Inc()
		return nil, fmt.Errorf("advanced: vocabulary generation: %w", err)
	}
	return parseVocabulary(raw), nil
}

// GenerateFinalReport consolidates history and summaries into a
// long-form report using the report purpose's (typically higher-effort)
// model tier.
func (s *Scheduler) GenerateFinalReport(ctx context.Context, historyText string) (types.FinalReportResult, error) {
	s.mu.Lock()
	summaryCount := len(s.summaries)
	wordCount := s.wordCount
	var summaryText strings.Builder
	for _, sm := range s.summaries {
		summaryText.WriteString(sm.SourceText)
		summaryText.WriteString("\n")
	}
	s.mu.Unlock()

	entry := s.table.Lookup(models.PurposeReport)
	gen, err := s.router.route(entry.Engine)
	if err != nil {
		return types.FinalReportResult{}, err
	}
	report, err := gen.Generate(ctx, entry.Model, finalReportSystemPrompt(),
		"Transcript history:\n"+historyText+"\n\nProgressive summaries:\n"+summaryText.String())
	if err != nil {
		metrics.Errors.WithLabelValues("advanced_report", "generate").Inc()
		return types.FinalReportResult{}, fmt.Errorf("advanced: report generation: %w", err)
	}

	vocab, err := s.GenerateVocabulary(ctx)
	if err != nil {
		vocab = nil // report still succeeds; vocabulary is best-effort here
	}

	return types.FinalReportResult{
		Report:          report,
		TotalWordCount:  wordCount,
		SummaryCount:    summaryCount,
		VocabularyCount: len(vocab),
		Vocabulary:      vocab,
	}, nil
}
