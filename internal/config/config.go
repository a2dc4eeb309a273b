// Package config provides the static configuration schema, loader, provider
// registry, config file watcher, and the live parameter store for the
// Centralino phone agent.
//
// Static configuration (YAML) covers wiring that requires a restart: listen
// address, provider credentials, data paths. Live parameters (JSON, managed
// by [ParamStore]) cover tunables that apply at the next turn boundary of an
// active call: silence detection, model selection, voice, thresholds.
package config

// LogLevel controls log verbosity for the Centralino server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root static configuration structure for Centralino.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Carrier   CarrierConfig   `yaml:"carrier"`
	Paths     PathsConfig     `yaml:"paths"`
}

// ServerConfig holds network and logging settings for the Centralino server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicHost is the externally reachable hostname the carrier connects
	// back to for the media stream (e.g., "centralino.example.com"). When
	// empty, the host of the incoming webhook request is used.
	PublicHost string `yaml:"public_host"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper-api", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty,
	// the server falls back to the provider's conventional environment
	// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider. For LLM and TTS
	// this is only the startup default; the live parameter store overrides
	// it per turn.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`

	// Fallbacks lists backup providers tried in order when this one fails.
	// Each gets its own circuit breaker. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// CarrierConfig holds telephony carrier settings for inbound media streams,
// call control (hangup), and outbound SMS.
type CarrierConfig struct {
	// AccountSID identifies the carrier account. When empty, the server
	// falls back to the TWILIO_ACCOUNT_SID environment variable.
	AccountSID string `yaml:"account_sid"`

	// AuthToken authenticates REST calls. When empty, the server falls back
	// to the TWILIO_AUTH_TOKEN environment variable.
	AuthToken string `yaml:"auth_token"`

	// SMSFrom is the carrier phone number used as sender for location SMS
	// messages, in E.164 form (e.g., "+39055...").
	SMSFrom string `yaml:"sms_from"`

	// BaseURL overrides the carrier REST endpoint. Used in tests.
	BaseURL string `yaml:"base_url"`
}

// PathsConfig holds filesystem locations for persistent data.
type PathsConfig struct {
	// AnalyticsRoot is the directory under which per-call analytics
	// artifacts are written (<root>/<call_id>/events.jsonl, ...).
	AnalyticsRoot string `yaml:"analytics_root"`

	// TranscriptsRoot is the directory for consolidated call transcripts.
	TranscriptsRoot string `yaml:"transcripts_root"`

	// KnowledgePath is the knowledge base JSON file.
	KnowledgePath string `yaml:"knowledge_path"`

	// ParamsPath is the live parameter store JSON file. The change history
	// (config_history.jsonl) is written next to it.
	ParamsPath string `yaml:"params_path"`
}

// ApplyDefaults fills zero-valued fields with their defaults. It is called
// by [LoadFromReader] after decoding, before validation.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Paths.AnalyticsRoot == "" {
		c.Paths.AnalyticsRoot = "data/analytics"
	}
	if c.Paths.TranscriptsRoot == "" {
		c.Paths.TranscriptsRoot = "data/transcripts"
	}
	if c.Paths.KnowledgePath == "" {
		c.Paths.KnowledgePath = "data/config/knowledge.json"
	}
	if c.Paths.ParamsPath == "" {
		c.Paths.ParamsPath = "data/config/system.json"
	}
}
