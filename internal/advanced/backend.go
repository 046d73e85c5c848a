package advanced

import (
	"context"
	"strings"
)

// streamingChat is the minimal shape both translation backends already
// implement (translate.OpenAIBackend.ChatRaw, translate.AnthropicBackend.
// ChatRaw): Translate's chat call with the system prompt taken as a
// parameter instead of hard-coded to the translation task. funcGenerator below is the one
// place that distinction is bridged, so advanced's backends can reuse
// the teacher-grounded HTTP/SSE and openai-agents-go plumbing translate
// already carries instead of duplicating it for a second purpose.
type streamingChat func(ctx context.Context, model, systemPrompt, userPrompt string, onDelta func(string)) (string, error)

// funcGenerator adapts a streamingChat function to the Generator
// interface, collecting deltas when the underlying call doesn't already
// return the full text.
type funcGenerator struct {
	chat streamingChat
}

// NewFuncGenerator wraps chat as a Generator.
func NewFuncGenerator(chat streamingChat) Generator {
	return &funcGenerator{chat: chat}
}

func (g *funcGenerator) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	var buf strings.Builder
	full, err := g.chat(ctx, model, systemPrompt, userPrompt, func(d string) { buf.WriteString(d) })
	if err != nil {
		return "", err
	}
	if full != "" {
		return full, nil
	}
	return buf.String(), nil
}
