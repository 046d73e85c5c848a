// Package asr adapts a cloud streaming speech recognizer to the pipeline's
// transcript event stream (spec §4.1 / component C1). It plays the role
// the teacher's ws.Handler and pipeline.ASRClient played together — dial
// a backend, push audio, surface typed events — but the backend here is a
// duplex WebSocket the adapter itself owns, not an HTTP request/response
// client the caller drives.
package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ryouen/univoice-pipeline/internal/metrics"
	"github.com/ryouen/univoice-pipeline/internal/types"
)

// EventType identifies the kind of Event delivered on the adapter's channel.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventTranscript   EventType = "transcript"
	EventUtteranceEnd EventType = "utterance_end"
	EventError        EventType = "error"
	EventMetadata     EventType = "metadata"
)

// Event is one item on the adapter's Events channel.
type Event struct {
	Type        EventType
	Segment     *types.TranscriptSegment
	Reason      string
	Code        string
	Recoverable bool
	Metadata    map[string]any
}

// Config configures a single ASR stream.
type Config struct {
	Endpoint       string
	APIKey         string
	Model          string
	SourceLanguage types.Language
	SampleRate     int
	Interim        bool
	EndpointingMs  int
	UtteranceEndMs int
	SmartFormat    bool
}

// DefaultConfig returns settings suitable for 20ms/640-byte PCM16 mono
// frames at 16kHz, the fixed framing internal/audio produces.
func DefaultConfig() Config {
	return Config{
		Model:          "nova-2",
		SourceLanguage: "en",
		SampleRate:     16000,
		Interim:        true,
		EndpointingMs:  800,
		UtteranceEndMs: 1000,
		SmartFormat:    true,
	}
}

// Validate rejects configurations the pipeline cannot satisfy. Only
// 16kHz mono PCM16 is supported end to end (spec §4.11's fixed framing).
func (c Config) Validate() error {
	if c.SampleRate != 16000 {
		return fmt.Errorf("asr: sample rate %d unsupported, only 16000 is", c.SampleRate)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("asr: endpoint required")
	}
	return nil
}

// providerLanguageAliases is the single place a (model, configured
// language) pair is substituted for whatever literal tag that model's
// provider expects for multilingual streams (spec §4.1). Most
// model/language combinations need no substitution.
var providerLanguageAliases = map[string]map[types.Language]types.Language{
	"nova-2": {types.LanguageMulti: types.LanguageMulti},
	"nova-3": {types.LanguageMulti: types.LanguageMulti},
}

func resolveProviderLanguage(model string, lang types.Language) types.Language {
	if aliases, ok := providerLanguageAliases[model]; ok {
		if alias, ok := aliases[lang]; ok {
			return alias
		}
	}
	return lang
}

// Adapter owns one duplex connection to the ASR backend for the lifetime
// of a session.
type Adapter struct {
	cfg    Config
	conn   *websocket.Conn
	events chan Event

	mu          sync.Mutex
	writeMu     sync.Mutex
	finalized   map[string]bool
	currentID   string
	utteranceSeq int
}

// New creates an Adapter. Connect must be called before SendAudio.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:       cfg,
		events:    make(chan Event, 64),
		finalized: make(map[string]bool),
	}
}

// Events returns the channel Event values are delivered on. Closed after
// Disconnect or an unrecoverable read error.
func (a *Adapter) Events() <-chan Event { return a.events }

// Connect dials the ASR backend and starts the background read loop.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	lang := resolveProviderLanguage(a.cfg.Model, a.cfg.SourceLanguage)

	q := url.Values{}
	q.Set("model", a.cfg.Model)
	q.Set("language", string(lang))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(a.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", strconv.FormatBool(a.cfg.Interim))
	q.Set("endpointing", strconv.Itoa(a.cfg.EndpointingMs))
	q.Set("utterance_end_ms", strconv.Itoa(a.cfg.UtteranceEndMs))
	q.Set("smart_format", strconv.FormatBool(a.cfg.SmartFormat))

	dialURL := a.cfg.Endpoint + "?" + q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, dialURL, header)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "dial").Inc()
		return fmt.Errorf("asr: dial %s: %w", a.cfg.Endpoint, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.events <- Event{Type: EventConnected}
	go a.readLoop(ctx)
	return nil
}

// SendAudio pushes one fixed-size PCM16 LE frame to the backend.
func (a *Adapter) SendAudio(frame []byte) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("asr: not connected")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		metrics.Errors.WithLabelValues("asr", "write").Inc()
		return fmt.Errorf("asr: send audio: %w", err)
	}
	metrics.AudioFramesCaptured.Inc()
	return nil
}

// Disconnect closes the connection and the backend read loop. Safe to
// call more than once.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

// providerMessage mirrors the streaming JSON shape common to cloud ASR
// providers (Deepgram-style): one alternative per channel, an is_final
// flag, and a distinct "UtteranceEnd" type for silence-triggered
// boundaries.
type providerMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer func() {
		close(a.events)
	}()

	for {
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				a.events <- Event{Type: EventError, Reason: err.Error(), Code: "read_error", Recoverable: false}
			}
			a.events <- Event{Type: EventDisconnected, Reason: err.Error()}
			return
		}

		a.handleMessage(data)
	}
}

func (a *Adapter) handleMessage(data []byte) {
	var msg providerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("asr: unparseable message", "error", err)
		return
	}

	switch msg.Type {
	case "UtteranceEnd":
		a.mu.Lock()
		a.currentID = ""
		a.mu.Unlock()
		a.events <- Event{Type: EventUtteranceEnd}
		return
	case "Metadata":
		a.events <- Event{Type: EventMetadata, Metadata: map[string]any{"raw": string(data)}}
		return
	}

	if len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" && !msg.IsFinal {
		return
	}

	a.mu.Lock()
	id := a.currentID
	if id == "" {
		a.utteranceSeq++
		id = fmt.Sprintf("asr_%d", a.utteranceSeq)
		a.currentID = id
	}
	// Once a segment has been finalized, no further interim updates for
	// that id are accepted (spec §8 at-most-once finalization).
	if a.finalized[id] && !msg.IsFinal {
		a.mu.Unlock()
		return
	}
	if msg.IsFinal {
		a.finalized[id] = true
		a.currentID = ""
	}
	a.mu.Unlock()

	seg := &types.TranscriptSegment{
		ID:         id,
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
		StartMs:    int64(msg.Start * 1000),
		EndMs:      int64((msg.Start + msg.Duration) * 1000),
		Language:   a.cfg.SourceLanguage,
	}
	a.events <- Event{Type: EventTranscript, Segment: seg}
}
