package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/ryouen/univoice-pipeline/internal/metrics"
)

// OpenAIBackend streams translations through the openai-agents-go SDK,
// adapted from the teacher's pipeline.AgentLLM: a single-turn agent with
// a translation system prompt instead of a general-purpose assistant,
// run once per request instead of held across a chat session.
type OpenAIBackend struct {
	provider  agents.ModelProvider
	maxTokens int
}

// NewOpenAIBackend creates a translation backend against an OpenAI-
// compatible endpoint. baseURL may be empty to use the SDK's default.
func NewOpenAIBackend(apiKey, baseURL string, maxTokens int) *OpenAIBackend {
	opts := []agents.OpenAIProviderOption{agents.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, agents.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{
		provider:  agents.NewOpenAIProvider(opts...),
		maxTokens: maxTokens,
	}
}

func (b *OpenAIBackend) Translate(ctx context.Context, model string, req Request, onDelta func(string)) (string, error) {
	return b.runChat(ctx, "translate_openai", model, translationSystemPrompt(req.SourceLanguage, req.TargetLanguage), req.SourceText, onDelta)
}

// ChatRaw performs a single-turn chat completion with an arbitrary
// system prompt, reusing the same streaming agent runner Translate uses.
// internal/advanced calls this for summary/vocabulary/report generation.
func (b *OpenAIBackend) ChatRaw(ctx context.Context, model, systemPrompt, userPrompt string, onDelta func(string)) (string, error) {
	return b.runChat(ctx, "advanced_openai", model, systemPrompt, userPrompt, onDelta)
}

func (b *OpenAIBackend) runChat(ctx context.Context, metricStage, model, systemPrompt, userText string, onDelta func(string)) (string, error) {
	start := time.Now()

	agent := agents.New("translator").
		WithInstructions(systemPrompt).
		WithModel(model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(b.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   b.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, userText)
	if err != nil {
		metrics.Errors.WithLabelValues(metricStage, "stream_start").Inc()
		return "", fmt.Errorf("translate: llm stream start: %w", err)
	}

	var textBuf strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok {
			continue
		}
		if raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if onDelta != nil {
			onDelta(raw.Data.Delta)
		}
		textBuf.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		metrics.Errors.WithLabelValues(metricStage, "stream").Inc()
		return "", fmt.Errorf("translate: llm stream: %w", streamErr)
	}

	metrics.StageDuration.WithLabelValues(metricStage).Observe(time.Since(start).Seconds())
	return textBuf.String(), nil
}
