package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/metrics"
)

// AnthropicBackend streams translations from the Anthropic Messages API,
// adapted from the teacher's pipeline.AnthropicLLMClient — same SSE
// consumption loop, a translation-specific system prompt instead of a
// call-center assistant prompt, and a single source string turned into a
// single target string rather than an open-ended chat turn.
type AnthropicBackend struct {
	apiKey    string
	url       string
	maxTokens int
	client    *http.Client
}

// NewAnthropicBackend creates a translation backend against the
// Anthropic Messages API. url defaults to the public API if empty.
func NewAnthropicBackend(apiKey, url string, maxTokens int) *AnthropicBackend {
	if url == "" {
		url = "https://api.anthropic.com"
	}
	return &AnthropicBackend{
		apiKey:    apiKey,
		url:       url,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

func translationSystemPrompt(sourceLang, targetLang string) string {
	return fmt.Sprintf(
		"You are a simultaneous interpreter. Translate the following %s text to %s. "+
			"Output only the translation, with no preamble, quotation marks, or explanation. "+
			"Preserve the register and meaning of the source exactly.", sourceLang, targetLang)
}

func (b *AnthropicBackend) Translate(ctx context.Context, model string, req Request, onDelta func(string)) (string, error) {
	start := time.Now()

	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: b.maxTokens,
		Stream:    true,
		System:    translationSystemPrompt(req.SourceLanguage, req.TargetLanguage),
		Messages:  []anthropicMessage{{Role: "user", Content: req.SourceText}},
	})
	if err != nil {
		return "", fmt.Errorf("translate: marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("translate: create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		metrics.Errors.WithLabelValues("translate_anthropic", "http").Inc()
		return "", fmt.Errorf("translate: anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("translate_anthropic", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translate: anthropic status %d: %s", resp.StatusCode, errBody)
	}

	text := consumeAnthropicTranslationStream(resp.Body, onDelta)
	metrics.StageDuration.WithLabelValues("translate_anthropic").Observe(time.Since(start).Seconds())
	return text, nil
}

// ChatRaw performs a single-turn chat completion with an arbitrary system
// prompt instead of the translation-specific one Translate always builds.
// Used by internal/advanced to reuse this backend's SSE plumbing for
// summary/vocabulary/report generation, which are not translations.
func (b *AnthropicBackend) ChatRaw(ctx context.Context, model, systemPrompt, userPrompt string, onDelta func(string)) (string, error) {
	start := time.Now()

	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: b.maxTokens,
		Stream:    true,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("advanced: marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("advanced: create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		metrics.Errors.WithLabelValues("advanced_anthropic", "http").Inc()
		return "", fmt.Errorf("advanced: anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("advanced_anthropic", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("advanced: anthropic status %d: %s", resp.StatusCode, errBody)
	}

	text := consumeAnthropicTranslationStream(resp.Body, onDelta)
	metrics.StageDuration.WithLabelValues("advanced_anthropic").Observe(time.Since(start).Seconds())
	return text, nil
}

func consumeAnthropicTranslationStream(body io.Reader, onDelta func(string)) string {
	var text strings.Builder
	scanner := bufio.NewScanner(body)
	var eventType string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if eventType == "message_stop" {
			return text.String()
		}
		if eventType != "content_block_delta" {
			continue
		}

		var delta anthropicDeltaEvent
		if json.Unmarshal([]byte(data), &delta) != nil {
			continue
		}
		if delta.Delta.Text == "" {
			continue
		}
		if onDelta != nil {
			onDelta(delta.Delta.Text)
		}
		text.WriteString(delta.Delta.Text)
	}
	return text.String()
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicDeltaEvent struct {
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
}
