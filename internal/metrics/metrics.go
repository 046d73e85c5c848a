package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "univoice_sessions_active",
		Help: "Currently listening/processing sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "univoice_sessions_total",
		Help: "Total sessions started",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "univoice_stage_duration_seconds",
		Help:    "Per-stage latency (asr, translate_realtime, translate_history, summary, report)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	TranslationFirstPaint = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "univoice_translation_first_paint_seconds",
		Help:    "Time from segment finalization to first realtime translation token",
		Buckets: []float64{0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 1.5, 2.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "univoice_errors_total",
		Help: "Error counts by stage and error code",
	}, []string{"stage", "code"})

	AudioFramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "univoice_audio_frames_captured_total",
		Help: "Total fixed-size audio frames delivered to the ASR adapter",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "univoice_translation_queue_depth",
		Help: "Pending translation requests by priority bucket",
	}, []string{"priority"})

	QueueRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "univoice_translation_queue_rejected_total",
		Help: "Requests rejected because the queue was full, by priority",
	}, []string{"priority"})

	WordCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "univoice_word_count",
		Help: "Running finalized source word count for the active session",
	})

	SummariesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "univoice_summaries_emitted_total",
		Help: "Progressive summaries emitted",
	})

	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "univoice_persistence_failures_total",
		Help: "Durable store append/rename failures",
	})
)
