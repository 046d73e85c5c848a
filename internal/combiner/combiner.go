// Package combiner groups finalized ASR transcript segments into
// complete sentences for translation (spec §4.2 / component C2). It
// generalizes the teacher's pipeline.sentenceBuffer/splitAtSentence pair
// — originally written for deciding when to hand accumulated LLM tokens
// to TTS — to source-language sentence boundaries across scripts that
// don't always follow whitespace-after-punctuation conventions (CJK
// full-width terminators), plus two additional forcing conditions the
// teacher's buffer never needed: a maximum pending-segment count and an
// inactivity timeout.
package combiner

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

// Config tunes when a combiner force-emits an incomplete sentence rather
// than waiting for punctuation.
type Config struct {
	MaxSegments int
	Timeout     time.Duration
}

// asciiEnders require a following word boundary (space/tab/newline) to
// count as a sentence end, matching the teacher's original heuristic.
var asciiEnders = map[byte]bool{'.': true, '!': true, '?': true}

// cjkEnders are full-width terminators that end a sentence on their own;
// CJK text is not reliably followed by whitespace.
var cjkEnders = map[rune]bool{'。': true, '！': true, '？': true, '…': true}

func isWordBoundary(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}

// splitAtSentence finds the last sentence boundary in text and returns
// (complete, remainder). If no boundary is found, complete is "".
func splitAtSentence(text string) (string, string) {
	runes := []rune(text)
	lastIdx := -1
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if cjkEnders[r] {
			lastIdx = i + 1
			continue
		}
		if r < 128 && asciiEnders[byte(r)] && i+1 < len(runes) && runes[i+1] < 128 && isWordBoundary(byte(runes[i+1])) {
			lastIdx = i + 1
		}
	}
	if lastIdx < 0 {
		return "", text
	}
	return strings.TrimSpace(string(runes[:lastIdx])), string(runes[lastIdx:])
}

// Combiner accumulates finalized transcript segments and emits
// CombinedSentence values at a sentence boundary, at MaxSegments pending
// segments, or after Timeout of inactivity — whichever comes first.
type Combiner struct {
	cfg    Config
	onEmit func(types.CombinedSentence)

	mu      sync.Mutex
	buf     strings.Builder
	pending []types.TranscriptSegment
	timer   *time.Timer
	seq     int
}

// New creates a Combiner that calls onEmit for every CombinedSentence it
// produces. onEmit is called with the Combiner's lock held released —
// callers must not call Add/Flush reentrantly from within onEmit.
func New(cfg Config, onEmit func(types.CombinedSentence)) *Combiner {
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Combiner{cfg: cfg, onEmit: onEmit}
}

// Add appends one finalized transcript segment. Interim (non-final)
// segments are ignored; only finalized ASR output is ever combined.
func (c *Combiner) Add(seg types.TranscriptSegment) {
	if !seg.IsFinal {
		return
	}

	c.mu.Lock()
	c.buf.WriteString(seg.Text)
	c.buf.WriteByte(' ')
	c.pending = append(c.pending, seg)

	complete, remainder := splitAtSentence(c.buf.String())
	forceEmit := complete == "" && len(c.pending) >= c.cfg.MaxSegments

	if complete == "" && !forceEmit {
		c.resetTimerLocked()
		c.mu.Unlock()
		return
	}
	if forceEmit {
		complete = strings.TrimSpace(c.buf.String())
		remainder = ""
	}

	out := c.buildLocked(complete)
	c.buf.Reset()
	c.buf.WriteString(remainder)
	c.pending = nil
	c.stopTimerLocked()
	c.mu.Unlock()

	c.onEmit(out)
}

// Flush force-emits whatever is pending, used on utterance end / session
// stop so no trailing partial sentence is lost.
func (c *Combiner) Flush() {
	c.mu.Lock()
	text := strings.TrimSpace(c.buf.String())
	if text == "" {
		c.mu.Unlock()
		return
	}
	out := c.buildLocked(text)
	c.buf.Reset()
	c.pending = nil
	c.stopTimerLocked()
	c.mu.Unlock()

	c.onEmit(out)
}

func (c *Combiner) buildLocked(text string) types.CombinedSentence {
	c.seq++
	ids := make([]string, len(c.pending))
	var start, end int64
	for i, s := range c.pending {
		ids[i] = s.ID
		if i == 0 || s.StartMs < start {
			start = s.StartMs
		}
		if s.EndMs > end {
			end = s.EndMs
		}
	}
	return types.CombinedSentence{
		ID:           sentenceID(c.seq),
		SegmentIDs:   ids,
		SourceText:   text,
		StartMs:      start,
		EndMs:        end,
		SegmentCount: len(ids),
	}
}

func sentenceID(seq int) string {
	return "combined_" + strconv.Itoa(seq)
}

func (c *Combiner) resetTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.Timeout, c.onTimeout)
}

func (c *Combiner) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Combiner) onTimeout() {
	c.mu.Lock()
	text := strings.TrimSpace(c.buf.String())
	if text == "" {
		c.mu.Unlock()
		return
	}
	out := c.buildLocked(text)
	c.buf.Reset()
	c.pending = nil
	c.timer = nil
	c.mu.Unlock()

	c.onEmit(out)
}
