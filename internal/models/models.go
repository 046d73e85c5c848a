// Package models holds the purpose-keyed LLM model/engine selection table
// used by the translation queue (C3) and the advanced features scheduler
// (C7). Every caller asks for a Purpose and gets back an engine/model/effort
// triple; changing which model backs a purpose is a table edit, never a
// code change.
package models

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Purpose identifies why an LLM call is being made. The translation queue
// and the advanced features scheduler each tag their requests with one of
// these so the table can route to a different tier per purpose.
type Purpose string

const (
	PurposeRealtimeTranslate Purpose = "realtime_translate"
	PurposeHistoryTranslate  Purpose = "history_translate"
	PurposeSummary           Purpose = "summary"
	PurposeVocabulary        Purpose = "vocabulary"
	PurposeReport            Purpose = "report"
)

// Entry is one row of the table: which engine (as registered with the
// translation backend router) and model to use, and at what effort/quality
// tier.
type Entry struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
	Effort string `json:"effort,omitempty"`
}

// Table is a JSON document keyed by Purpose, queried and patched with
// gjson/sjson so it can be edited in place without disturbing the
// document's other fields.
type Table struct {
	raw string
}

// defaultDocument matches spec §4.7: nano/low-effort for realtime
// translation, mini/low-effort for history and summaries, a full model at
// higher effort for the final report.
const defaultDocument = `{
	"realtime_translate": {"engine": "openai", "model": "gpt-4.1-nano", "effort": "low"},
	"history_translate":  {"engine": "openai", "model": "gpt-4.1-mini", "effort": "low"},
	"summary":            {"engine": "openai", "model": "gpt-4.1-mini", "effort": "low"},
	"vocabulary":         {"engine": "openai", "model": "gpt-4.1-mini", "effort": "low"},
	"report":             {"engine": "anthropic", "model": "claude-sonnet-4-5", "effort": "high"}
}`

// DefaultTable returns the built-in table described in spec §4.7.
func DefaultTable() *Table {
	return &Table{raw: defaultDocument}
}

// Load reads a purpose→model JSON table from path, falling back to
// DefaultTable if the file does not exist. A malformed file is an error —
// unlike a missing one, it is not silently papered over.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model table: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("model table %s is not valid JSON", path)
	}
	return &Table{raw: string(data)}, nil
}

// Lookup resolves the engine/model/effort for a purpose. Purposes absent
// from the table fall back to the default document's entry for that
// purpose, so a partial override file only needs to list what it changes.
func (t *Table) Lookup(purpose Purpose) Entry {
	result := gjson.Get(t.raw, string(purpose))
	if !result.Exists() {
		result = gjson.Get(defaultDocument, string(purpose))
	}
	return Entry{
		Engine: result.Get("engine").String(),
		Model:  result.Get("model").String(),
		Effort: result.Get("effort").String(),
	}
}

// Set patches a single purpose's entry in place, leaving every other entry
// in the document untouched. Used for runtime overrides (e.g. an operator
// raising the report purpose's effort tier without a redeploy).
func (t *Table) Set(purpose Purpose, e Entry) error {
	raw, err := sjson.Set(t.raw, string(purpose)+".engine", e.Engine)
	if err != nil {
		return fmt.Errorf("set %s.engine: %w", purpose, err)
	}
	raw, err = sjson.Set(raw, string(purpose)+".model", e.Model)
	if err != nil {
		return fmt.Errorf("set %s.model: %w", purpose, err)
	}
	raw, err = sjson.Set(raw, string(purpose)+".effort", e.Effort)
	if err != nil {
		return fmt.Errorf("set %s.effort: %w", purpose, err)
	}
	t.raw = raw
	return nil
}

// Save writes the table's current JSON document to path.
func (t *Table) Save(path string) error {
	return os.WriteFile(path, []byte(t.raw), 0o644)
}

// Purposes returns every purpose present in the table, for diagnostics.
func (t *Table) Purposes() []string {
	var names []string
	gjson.Parse(t.raw).ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names
}
