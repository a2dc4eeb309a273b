package config_test

import (
	"strings"
	"testing"

	"github.com/centralino-ai/centralino/internal/config"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  stt:
    name: whisper-api
    api_key: sk-test
  llm:
    name: anthropic
    model: claude-sonnet-4-20250514
  tts:
    name: openai
carrier:
  account_sid: AC123
  auth_token: tok
  sms_from: "+390551234567"
paths:
  analytics_root: /tmp/analytics
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.STT.Name != "whisper-api" || cfg.Providers.STT.APIKey != "sk-test" {
		t.Errorf("stt entry: got %+v", cfg.Providers.STT)
	}
	if cfg.Carrier.SMSFrom != "+390551234567" {
		t.Errorf("sms_from: got %q", cfg.Carrier.SMSFrom)
	}
	// Unset paths fall back to defaults.
	if cfg.Paths.AnalyticsRoot != "/tmp/analytics" {
		t.Errorf("analytics_root: got %q", cfg.Paths.AnalyticsRoot)
	}
	if cfg.Paths.KnowledgePath != "data/config/knowledge.json" {
		t.Errorf("knowledge_path default: got %q", cfg.Paths.KnowledgePath)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := validYAML + "\nextra_section:\n  foo: bar\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoadFromReader_InvalidLogLevel(t *testing.T) {
	yaml := strings.Replace(validYAML, "log_level: debug", "log_level: loud", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "server.log_level") {
		t.Fatalf("expected log level error, got %v", err)
	}
}

func TestLoadFromReader_MissingProviders(t *testing.T) {
	yaml := `
server:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing providers")
	}
	for _, want := range []string{"providers.stt.name", "providers.llm.name", "providers.tts.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestLoadFromReader_BadSMSFrom(t *testing.T) {
	yaml := strings.Replace(validYAML, `sms_from: "+390551234567"`, `sms_from: "390551234567"`, 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "E.164") {
		t.Fatalf("expected E.164 error, got %v", err)
	}
}

func TestLoad_FileMissing(t *testing.T) {
	if _, err := config.Load("testdata/does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
