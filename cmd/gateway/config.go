package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/voicegate/gateway/internal/audio"
	"github.com/voicegate/gateway/internal/env"
	"github.com/voicegate/gateway/internal/prompts"
)

// deploymentConfig holds the knobs that select and address this
// gateway's transport variant, auth policy, and provider backends.
// Deployment-local tuning that may eventually move to a database sits
// in gateway.json; addresses and secrets stay in env vars, matching
// the reference gateway's split between gateway.json tuning and env
// var wiring.
type deploymentConfig struct {
	Port string `json:"-"`

	TransportVariant string `json:"transport_variant"` // "ws" or "broker"
	BrokerAddr       string `json:"-"`
	BrokerUDPAddr    string `json:"-"`

	AuthEnabled        bool     `json:"auth_enabled"`
	AllowedDevices     []string `json:"allowed_devices"`
	StaticTokens       []string `json:"-"`
	HMACSecret         string   `json:"-"`
	TokenExpireSeconds int64    `json:"token_expire_seconds"`

	ASRBackend       string `json:"asr_backend"` // "remote" or "local"
	WhisperServerURL string `json:"-"`
	ASRPoolSize      int    `json:"asr_pool_size"`

	TTSBaseURL string `json:"-"`

	LLMBaseURL string `json:"-"`
	LLMAPIKey  string `json:"-"`
	LLMModel   string `json:"llm_model"`

	VAD audio.VADConfig `json:"-"`

	// SessionDefaults seeds every new session's config.Tree: wake
	// words, cmd_exit phrases, greeting behavior, daily quota, bind
	// clip directory, intent classification mode.
	SessionDefaults map[string]any `json:"session_defaults"`
}

func defaultDeploymentConfig() deploymentConfig {
	return deploymentConfig{
		TransportVariant:   "ws",
		AuthEnabled:        false,
		TokenExpireSeconds: 300,
		ASRBackend:         "remote",
		ASRPoolSize:        1,
		LLMModel:           "llama3.2:3b",
		SessionDefaults: map[string]any{
			"wake_words":          []any{"小智", "小志"},
			"cmd_exit":            []any{"再见", "拜拜", "goodbye"},
			"enable_greeting":     true,
			"greeting_text":       "我在呢",
			"greeting_refresh_seconds": float64(600),
			"intent_type":         "nointent",
			"max_output_size":     float64(0),
			"quota_exceeded_text": "今天的使用额度已经用完了，请明天再聊。",
			"bind_clip_dir":       "clips",
			"llm_system_prompt":   prompts.DefaultSystem,
		},
	}
}

// loadDeploymentConfig reads gateway.json for the session-default/
// tuning fields, falling back to hardcoded defaults, then layers env
// vars on top for deployment addresses and secrets.
func loadDeploymentConfig(path string) deploymentConfig {
	cfg := defaultDeploymentConfig()

	if data, err := os.ReadFile(path); err != nil {
		slog.Info("no config file, using defaults", "path", path)
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Warn("bad config file, using defaults", "path", path, "error", err)
		cfg = defaultDeploymentConfig()
	} else {
		slog.Info("loaded config", "path", path)
	}

	cfg.Port = env.Str("GATEWAY_PORT", "8000")
	cfg.TransportVariant = env.Str("TRANSPORT_VARIANT", cfg.TransportVariant)
	cfg.BrokerAddr = env.Str("BROKER_ADDR", ":8883")
	cfg.BrokerUDPAddr = env.Str("BROKER_UDP_ADDR", ":8884")

	cfg.AuthEnabled = env.Bool("AUTH_ENABLED", cfg.AuthEnabled)
	cfg.StaticTokens = splitNonEmpty(env.Str("AUTH_STATIC_TOKENS", ""))
	if devices := splitNonEmpty(env.Str("AUTH_ALLOWED_DEVICES", "")); len(devices) > 0 {
		cfg.AllowedDevices = devices
	}
	cfg.HMACSecret = env.Str("AUTH_HMAC_SECRET", "")
	cfg.TokenExpireSeconds = int64(env.Int("AUTH_TOKEN_EXPIRE_SECONDS", int(cfg.TokenExpireSeconds)))

	cfg.ASRBackend = env.Str("ASR_BACKEND", cfg.ASRBackend)
	cfg.WhisperServerURL = env.Str("WHISPER_SERVER_URL", "http://localhost:8081")
	cfg.ASRPoolSize = env.Int("ASR_POOL_SIZE", cfg.ASRPoolSize)

	cfg.TTSBaseURL = env.Str("PIPER_URL", "http://localhost:5100")

	cfg.LLMBaseURL = env.Str("LLM_BASE_URL", "http://localhost:11434/v1")
	cfg.LLMAPIKey = env.Str("LLM_API_KEY", "ollama")
	cfg.LLMModel = env.Str("LLM_MODEL", cfg.LLMModel)

	cfg.VAD = audio.DefaultVADConfig()

	return cfg
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
