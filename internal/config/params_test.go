package config_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/centralino-ai/centralino/internal/config"
)

func newTestStore(t *testing.T) (*config.ParamStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := config.NewParamStore(filepath.Join(dir, "system.json"))
	if err != nil {
		t.Fatalf("new param store: %v", err)
	}
	return s, dir
}

func TestNewParamStore_CreatesDefaults(t *testing.T) {
	t.Parallel()
	s, dir := newTestStore(t)

	if _, err := os.Stat(filepath.Join(dir, "system.json")); err != nil {
		t.Fatalf("default file not created: %v", err)
	}
	p := s.Params()
	if p.Audio.SilenceDurationMs != 1200 {
		t.Errorf("silence_duration_ms default: got %d", p.Audio.SilenceDurationMs)
	}
	if p.LLM.ContextTurns != 4 {
		t.Errorf("context_turns default: got %d", p.LLM.ContextTurns)
	}
	if p.TTS.Voice != "onyx" || p.TTS.Speed != 0.9 {
		t.Errorf("tts defaults: got %+v", p.TTS)
	}
	if p.Analytics.EchoSimilarityThreshold != 0.60 {
		t.Errorf("echo threshold default: got %v", p.Analytics.EchoSimilarityThreshold)
	}
}

func TestNewParamStore_MalformedFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "system.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := config.NewParamStore(path)
	if err != nil {
		t.Fatalf("malformed file should not fail startup: %v", err)
	}
	if s.Params().Audio.SilenceDurationMs != 1200 {
		t.Error("expected defaults after malformed file")
	}
}

func TestParamStore_SetPersistsAndRecordsHistory(t *testing.T) {
	t.Parallel()
	s, dir := newTestStore(t)

	change, err := s.Set("audio.silence_duration_ms", 1500, "api")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if change.OldValue != any(1200) || change.NewValue != any(1500) {
		t.Errorf("change record: %+v", change)
	}
	if got := s.Params().Audio.SilenceDurationMs; got != 1500 {
		t.Errorf("in-memory value: got %d", got)
	}
	if got := s.Params().Version; got != 2 {
		t.Errorf("version: got %d, want 2", got)
	}

	// Persisted file reflects the change.
	data, err := os.ReadFile(filepath.Join(dir, "system.json"))
	if err != nil {
		t.Fatal(err)
	}
	var onDisk config.Params
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.Audio.SilenceDurationMs != 1500 || onDisk.UpdatedBy != "api" {
		t.Errorf("on disk: %+v", onDisk)
	}

	// History file got one record.
	raw, err := os.ReadFile(filepath.Join(dir, config.HistoryFileName))
	if err != nil {
		t.Fatalf("history file: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(string(raw)), "\n") + 1; lines != 1 {
		t.Errorf("history lines: got %d, want 1", lines)
	}
	hist, err := s.History(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Parameter != "audio.silence_duration_ms" || hist[0].Source != "api" {
		t.Errorf("history: %+v", hist)
	}
}

func TestParamStore_SetValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	cases := []struct {
		name    string
		path    string
		value   any
		wantErr error
	}{
		{"below range", "audio.silence_duration_ms", 100, config.ErrInvalidValue},
		{"above range", "llm.max_tokens", 1000, config.ErrInvalidValue},
		{"unknown path", "audio.gain", 5, config.ErrUnknownParam},
		{"not adjustable", "analytics.echo_similarity_threshold", 0.5, config.ErrUnknownParam},
		{"wrong type", "tts.speed", "fast", config.ErrInvalidValue},
		{"bad enum", "tts.voice", "morgan", config.ErrInvalidValue},
		{"fractional integer", "llm.context_turns", 2.5, config.ErrInvalidValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Set(tc.path, tc.value, "test"); !errors.Is(err, tc.wantErr) {
				t.Errorf("Set(%s, %v): got %v, want %v", tc.path, tc.value, err, tc.wantErr)
			}
		})
	}
}

func TestParamStore_SetCoercesJSONNumbers(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	// JSON decoding hands over float64 even for integral fields.
	if _, err := s.Set("llm.max_tokens", float64(120), "dashboard"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.Params().LLM.MaxTokens; got != 120 {
		t.Errorf("max_tokens: got %d", got)
	}
	if _, err := s.Set("tts.speed", 1.2, "dashboard"); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	if got := s.Params().TTS.Speed; got != 1.2 {
		t.Errorf("speed: got %v", got)
	}
}

func TestParamStore_SetModelEnum(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	if _, err := s.Set("llm.model", "claude-3-5-haiku-20241022", "api"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if got := s.Params().LLM.Model; got != "claude-3-5-haiku-20241022" {
		t.Errorf("model: got %q", got)
	}
}

func TestParamStore_HistoryLimit(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	for _, v := range []int{600, 700, 800} {
		if _, err := s.Set("audio.silence_duration_ms", v, "test"); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.History(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("history limit: got %d entries", len(hist))
	}
	if hist[1].NewValue != any(float64(800)) {
		// JSON round-trip turns ints into float64.
		t.Errorf("latest change: %+v", hist[1])
	}
}
