package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/voicegate/gateway/internal/env"
)

// ServerConfig holds process-level settings: listen address, provider
// endpoints, and the tunable knobs of the pipeline. It is the
// deployment-time counterpart to the per-session Tree, loaded from an
// optional JSON tuning file plus environment variables, the way the
// reference gateway layered `gateway.json` over `GATEWAY_PORT`-style
// env vars.
type ServerConfig struct {
	Port string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string

	PostgresURL string

	ASRPoolCapacity  int
	ASRPoolWorkers   int
	TTSFrameDuration time.Duration
	TTSPrebufferN    int

	VADThresholdHigh float64
	VADThresholdLow  float64
	VADSilenceMs     int

	AuthHMACSecret   string
	AuthExpireSecs   int64
	AllowedDevices   []string
	StaticTokens     []string

	CloseNoVoiceSecs int

	Defaults map[string]any
}

// tuning mirrors the JSON-file-overridable subset of ServerConfig, kept
// as its own struct so unmarshal failures don't clobber defaults.
type tuning struct {
	ASRPoolCapacity  int             `json:"asr_pool_capacity"`
	ASRPoolWorkers   int             `json:"asr_pool_workers"`
	TTSFrameMs       int             `json:"tts_frame_duration_ms"`
	TTSPrebufferN    int             `json:"tts_prebuffer_frames"`
	VADThresholdHigh float64         `json:"vad_threshold_high"`
	VADThresholdLow  float64         `json:"vad_threshold_low"`
	VADSilenceMs     int             `json:"vad_silence_ms"`
	AuthExpireSecs   int64           `json:"auth_expire_seconds"`
	AllowedDevices   []string        `json:"allowed_devices"`
	StaticTokens     []string        `json:"static_tokens"`
	CloseNoVoiceSecs int             `json:"close_connection_no_voice_time"`
	Defaults         map[string]any  `json:"session_defaults"`
}

func defaultTuning() tuning {
	return tuning{
		ASRPoolCapacity:  100,
		ASRPoolWorkers:   1,
		TTSFrameMs:       60,
		TTSPrebufferN:    5,
		VADThresholdHigh: 0.6,
		VADThresholdLow:  0.4,
		VADSilenceMs:     1000,
		AuthExpireSecs:   60,
		CloseNoVoiceSecs: 120,
		Defaults:         map[string]any{},
	}
}

// Load reads tuningPath (if present) over process defaults, then layers
// environment variables for deployment-specific secrets/endpoints.
func Load(tuningPath string) *ServerConfig {
	t := defaultTuning()
	if data, err := os.ReadFile(tuningPath); err == nil {
		if err := json.Unmarshal(data, &t); err != nil {
			slog.Warn("bad tuning file, using defaults", "path", tuningPath, "error", err)
			t = defaultTuning()
		} else {
			slog.Info("loaded tuning file", "path", tuningPath)
		}
	} else {
		slog.Info("no tuning file, using defaults", "path", tuningPath)
	}

	return &ServerConfig{
		Port:             env.Str("GATEWAY_PORT", "8000"),
		OpenAIAPIKey:     env.Str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    env.Str("OPENAI_BASE_URL", "https://api.openai.com"),
		AnthropicAPIKey:  env.Str("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   env.Str("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		PostgresURL:      env.Str("POSTGRES_URL", ""),
		ASRPoolCapacity:  env.Int("ASR_POOL_CAPACITY", t.ASRPoolCapacity),
		ASRPoolWorkers:   env.Int("ASR_POOL_WORKERS", t.ASRPoolWorkers),
		TTSFrameDuration: time.Duration(env.Int("TTS_FRAME_MS", t.TTSFrameMs)) * time.Millisecond,
		TTSPrebufferN:    env.Int("TTS_PREBUFFER_FRAMES", t.TTSPrebufferN),
		VADThresholdHigh: t.VADThresholdHigh,
		VADThresholdLow:  t.VADThresholdLow,
		VADSilenceMs:     t.VADSilenceMs,
		AuthHMACSecret:   env.Str("AUTH_HMAC_SECRET", ""),
		AuthExpireSecs:   t.AuthExpireSecs,
		AllowedDevices:   t.AllowedDevices,
		StaticTokens:     t.StaticTokens,
		CloseNoVoiceSecs: t.CloseNoVoiceSecs,
		Defaults:         t.Defaults,
	}
}
