// Command univoice is the process entrypoint: it wires every component
// (C1-C11) into one running pipeline and serves the UI process's
// WebSocket connection plus a health and metrics endpoint. Shaped after
// the teacher's cmd/gateway/main.go — JSON structured logging, env-var
// component construction, a ServeMux plus graceful SIGINT/SIGTERM
// shutdown — generalized from the teacher's call-center ASR/LLM/TTS
// wiring to this spec's ASR/translate/history/advanced wiring.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryouen/univoice-pipeline/internal/advanced"
	"github.com/ryouen/univoice-pipeline/internal/asr"
	"github.com/ryouen/univoice-pipeline/internal/audio"
	"github.com/ryouen/univoice-pipeline/internal/combiner"
	"github.com/ryouen/univoice-pipeline/internal/config"
	"github.com/ryouen/univoice-pipeline/internal/diag"
	"github.com/ryouen/univoice-pipeline/internal/events"
	"github.com/ryouen/univoice-pipeline/internal/fsm"
	"github.com/ryouen/univoice-pipeline/internal/history"
	"github.com/ryouen/univoice-pipeline/internal/models"
	"github.com/ryouen/univoice-pipeline/internal/orchestrator"
	"github.com/ryouen/univoice-pipeline/internal/store"
	"github.com/ryouen/univoice-pipeline/internal/translate"
	"github.com/ryouen/univoice-pipeline/internal/types"
	"github.com/ryouen/univoice-pipeline/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := config.Load()

	table, err := models.Load(cfg.ModelTablePath)
	if err != nil {
		slog.Error("load model table", "error", err)
		os.Exit(1)
	}

	translateRouter, advancedRouter := initBackends(cfg)

	st := store.New(cfg.DataPath)
	catalog, err := store.OpenCatalog(filepath.Join(cfg.DataPath, "catalog.sqlite3"))
	if err != nil {
		slog.Warn("catalog open failed, falling back to directory scans", "error", err)
	} else {
		if err := catalog.Rebuild(st); err != nil {
			slog.Warn("catalog rebuild", "error", err)
		}
		st.AttachCatalog(catalog)
		defer catalog.Close()
	}

	tracer := diag.New(filepath.Join(cfg.DataPath, "trace.jsonl"), cfg.DiagBufferSize)
	defer tracer.Close()

	purposeFor := func(kind types.RequestKind) models.Purpose {
		switch kind {
		case types.KindRealtime:
			return models.PurposeRealtimeTranslate
		case types.KindHistory, types.KindParagraph:
			return models.PurposeHistoryTranslate
		default:
			return models.PurposeRealtimeTranslate
		}
	}

	sink := ws.NewSink()
	bus := events.NewBus(orchestrator.NewCorrelationID(), sink, func() int64 { return time.Now().UnixMilli() })

	onDelta := func(segmentID, delta string) {
		if err := bus.Publish(events.TypeTranslation, events.TranslationData{
			SegmentID:  segmentID,
			TargetText: delta,
			IsFinal:    false,
		}); err != nil {
			slog.Warn("publish translation delta", "error", err)
		}
	}
	backendRouter := translate.NewBackendRouter(table, translateRouter, purposeFor, onDelta)

	queue := translate.NewQueue(translate.QueueConfig{
		HighCapacity:   cfg.QueueHighCapacity,
		NormalCapacity: cfg.QueueNormalCapacity,
		LowCapacity:    cfg.QueueLowCapacity,
		Concurrency:    cfg.QueueConcurrency,
		RequestTimeout: cfg.QueueRequestTimeout,
	})
	queue.SetHandler(backendRouter.Handle)

	scheduler := advanced.New(table, advancedRouter, advanced.Config{
		FirstThreshold: cfg.SummaryFirstThreshold,
		StepThreshold:  cfg.SummaryStepThreshold,
		SourceLanguage: types.Language(cfg.SourceLanguage),
		TargetLanguage: types.Language(cfg.TargetLanguage),
	})

	orch := orchestrator.New(orchestrator.Config{
		CourseName:     "",
		SourceLanguage: types.Language(cfg.SourceLanguage),
		TargetLanguage: types.Language(cfg.TargetLanguage),
		ASRConfig: asr.Config{
			Endpoint:       cfg.ASRWebSocketURL,
			APIKey:         cfg.ASRAPIKey,
			Model:          cfg.ASRModel,
			SourceLanguage: types.Language(cfg.SourceLanguage),
			SampleRate:     16000,
			Interim:        true,
			SmartFormat:    true,
		},
		CaptureConfig: audio.CaptureConfig{
			DeviceSampleRate: cfg.CaptureDeviceSampleRate,
			DeviceChannels:   1,
			Codec:            audio.Codec(cfg.CaptureCodec),
		},
		CombinerConfig: combiner.Config{
			MaxSegments: cfg.CombinerMaxSegments,
			Timeout:     cfg.CombinerTimeout,
		},
		HistoryConfig: history.Config{
			SentencesPerBlock: 5,
			QuietInterval:     3 * time.Second,
		},
		RealtimeTimeout: cfg.RealtimeTimeout,
		StopGracePeriod: cfg.StopGracePeriod,
	}, bus, queue, scheduler, st, tracer)

	handler := ws.NewHandler(sink, orch, st, bus)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	registerSessionRoutes(mux, st, catalog)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, orch)

	slog.Info("univoice pipeline starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("univoice pipeline stopped")
}

// initBackends registers whichever translation/advanced-feature LLM
// backends have an API key configured, mirroring the teacher's
// initLLM conditional-registration pattern: a binary with no keys set
// still starts (same-language passthrough and local testing still
// work), it simply has no backend to route non-passthrough requests to.
func initBackends(cfg config.Config) (*translate.Router[translate.Backend], *advanced.Router) {
	translateBackends := map[string]translate.Backend{}
	advancedBackends := map[string]advanced.Generator{}
	fallback := ""

	if cfg.OpenAIAPIKey != "" {
		openaiBackend := translate.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, 2048)
		translateBackends["openai"] = openaiBackend
		advancedBackends["openai"] = advanced.NewFuncGenerator(openaiBackend.ChatRaw)
		fallback = "openai"
	}
	if cfg.AnthropicAPIKey != "" {
		anthropicBackend := translate.NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, 2048)
		translateBackends["anthropic"] = anthropicBackend
		advancedBackends["anthropic"] = advanced.NewFuncGenerator(anthropicBackend.ChatRaw)
		if fallback == "" {
			fallback = "anthropic"
		}
	}

	return translate.NewRouter(translateBackends, fallback),
		advanced.NewRouter(advancedBackends, fallback)
}

// registerSessionRoutes exposes the two most common session-browsing
// queries (spec §4.9) over plain request/response JSON for simple
// polling use, alongside the full getAvailableSessions/loadSession/
// getHistory/getFullHistory/clearHistory command set ws.Handler answers
// over the live event socket (sessionList/sessionData/historyData
// envelopes) for clients already holding that connection open.
func registerSessionRoutes(mux *http.ServeMux, st *store.Store, catalog *store.Catalog) {
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		course := r.URL.Query().Get("course")
		sessions, err := st.ListAvailableSessions(store.AvailableSessionsParams{CourseName: course})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, sessions)
	})

	mux.HandleFunc("GET /api/sessions/today", func(w http.ResponseWriter, r *http.Request) {
		course := r.URL.Query().Get("course")
		if course == "" {
			http.Error(w, "course query param required", http.StatusBadRequest)
			return
		}
		if catalog != nil {
			date := time.Now().Format("20060102")
			if num, ok, err := catalog.Lookup(course, date); err == nil && ok {
				if rec, err := st.LoadSession(course, date, num); err == nil {
					writeJSON(w, rec)
					return
				}
			}
		}
		rec, ok, err := st.CheckTodaySession(course)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "no session today", http.StatusNotFound)
			return
		}
		writeJSON(w, rec)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json response", "error", err)
	}
}

// awaitShutdown blocks until SIGINT/SIGTERM, then stops accepting new
// listening sessions and shuts the HTTP server down within a grace
// period, the same pattern as the teacher's awaitShutdown.
func awaitShutdown(srv *http.Server, orch *orchestrator.Orchestrator) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	if orch.State() != fsm.Idle {
		if err := orch.StopListening(); err != nil {
			slog.Warn("stop listening during shutdown", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
