// Package history implements the history grouper (spec §4.6 / component
// C6): accumulates sentence-level results into display blocks, emits a
// block at a natural boundary, and upgrades an already-emitted sentence's
// target_text in place when a higher-quality translation arrives. Built
// fresh in the teacher's small-struct idiom; the teacher has no
// block-grouping concept of its own to generalize from (its transcripts
// are ungrouped call turns), so this is the §9 "Design Notes"
// re-architecture applied to a genuinely new concern.
package history

import (
	"strconv"
	"sync"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

// Config tunes the boundary policy: a block is emitted after
// SentencesPerBlock sentences, or after QuietInterval since the last
// sentence was added, whichever comes first. This resolves the spec §9
// Open Question ("sentences-per-block vs. time-based") by doing both,
// recorded as a DESIGN.md decision rather than left unguessed at.
type Config struct {
	SentencesPerBlock int
	QuietInterval     time.Duration
}

// Grouper accumulates HistorySentence rows and emits HistoryBlocks at a
// boundary, later republishing a block in place when one of its
// sentences is upgraded.
type Grouper struct {
	cfg    Config
	onBlock func(types.HistoryBlock)

	mu        sync.Mutex
	pending   []types.HistorySentence
	blocks    []*types.HistoryBlock
	blockOf   map[string]*types.HistoryBlock // sentence id -> owning block
	timer     *time.Timer
	seq       int
}

// New creates a Grouper that calls onBlock every time a block is first
// emitted or republished after an upgrade.
func New(cfg Config, onBlock func(types.HistoryBlock)) *Grouper {
	if cfg.SentencesPerBlock <= 0 {
		cfg.SentencesPerBlock = 5
	}
	if cfg.QuietInterval <= 0 {
		cfg.QuietInterval = 8 * time.Second
	}
	return &Grouper{cfg: cfg, onBlock: onBlock, blockOf: make(map[string]*types.HistoryBlock)}
}

// AddSentence appends one realtime-or-history-tier sentence result. A
// sentence appears in at most one block (spec §3 invariant); AddSentence
// is the only way new sentences enter the grouper.
func (g *Grouper) AddSentence(s types.HistorySentence) {
	g.mu.Lock()
	g.pending = append(g.pending, s)
	g.resetTimerLocked()
	shouldEmit := len(g.pending) >= g.cfg.SentencesPerBlock
	var out types.HistoryBlock
	if shouldEmit {
		out = g.emitLocked()
	}
	g.mu.Unlock()

	if shouldEmit {
		g.onBlock(out)
	}
}

// UpdateSentenceTranslation replaces the target_text of an already-
// emitted sentence in place and republishes its owning block (spec
// §4.6: "replace that sentence's target_text in place and republish the
// block"). A no-op if the sentence id is unknown (not yet emitted, or a
// realtime-only id that never joined history).
func (g *Grouper) UpdateSentenceTranslation(id, text string) {
	g.mu.Lock()
	block, ok := g.blockOf[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	for i := range block.Sentences {
		if block.Sentences[i].ID == id {
			block.Sentences[i].TargetText = text
			break
		}
	}
	out := *block
	out.Sentences = append([]types.HistorySentence(nil), block.Sentences...)
	g.mu.Unlock()

	g.onBlock(out)
}

// UpdateParagraphTranslation stores text as the RawText of every block
// whose ParagraphID is paragraphID, marks those blocks IsParagraph, then
// republishes each affected block once. Sentence target_text values are
// left unchanged.
func (g *Grouper) UpdateParagraphTranslation(paragraphID, text string) {
	g.mu.Lock()
	touched := map[*types.HistoryBlock]bool{}
	for _, b := range g.blocks {
		if b.ParagraphID == paragraphID {
			b.RawText = text
			b.IsParagraph = true
			touched[b] = true
		}
	}
	var outs []types.HistoryBlock
	for b := range touched {
		cp := *b
		cp.Sentences = append([]types.HistorySentence(nil), b.Sentences...)
		outs = append(outs, cp)
	}
	g.mu.Unlock()

	for _, out := range outs {
		g.onBlock(out)
	}
}

// Reset force-flushes any pending sentences into a final block and clears
// all state, used on session stop and on recovery rehydration restarts.
func (g *Grouper) Reset() {
	g.mu.Lock()
	var out types.HistoryBlock
	var flush bool
	if len(g.pending) > 0 {
		out = g.emitLocked()
		flush = true
	}
	g.stopTimerLocked()
	g.blocks = nil
	g.blockOf = make(map[string]*types.HistoryBlock)
	g.mu.Unlock()

	if flush {
		g.onBlock(out)
	}
}

func (g *Grouper) emitLocked() types.HistoryBlock {
	g.seq++
	block := &types.HistoryBlock{
		ID:        blockID(g.seq),
		Sentences: append([]types.HistorySentence(nil), g.pending...),
		CreatedAt: time.Now().UnixMilli(),
	}
	for _, s := range block.Sentences {
		g.blockOf[s.ID] = block
	}
	g.blocks = append(g.blocks, block)
	g.pending = nil
	g.stopTimerLocked()

	out := *block
	out.Sentences = append([]types.HistorySentence(nil), block.Sentences...)
	return out
}

func blockID(seq int) string {
	return "block_" + strconv.Itoa(seq)
}

func (g *Grouper) resetTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.cfg.QuietInterval, g.onQuiet)
}

func (g *Grouper) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Grouper) onQuiet() {
	g.mu.Lock()
	if len(g.pending) == 0 {
		g.mu.Unlock()
		return
	}
	out := g.emitLocked()
	g.mu.Unlock()

	g.onBlock(out)
}
