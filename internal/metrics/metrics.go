package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	TurnsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_turns_started_total",
		Help: "Dialogue turns started from a final transcript",
	})

	TurnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_turns_completed_total",
		Help: "Dialogue turns that reached AddLast",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_barge_ins_total",
		Help: "Transcripts that interrupted an in-progress TTS turn",
	})

	ASRPoolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asr_pool_queue_depth",
		Help: "Tasks currently buffered in the shared ASR pool's queue",
	})

	SenderFrameLateness = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_sender_frame_lateness_seconds",
		Help:    "How far behind schedule the paced sender was when a frame was sent",
		Buckets: []float64{0, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1.0},
	})
)
