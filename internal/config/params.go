package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Sentinel errors returned by [ParamStore.Set].
var (
	ErrUnknownParam = errors.New("config: unknown parameter")
	ErrInvalidValue = errors.New("config: invalid parameter value")
)

// HistoryFileName is the change log written next to the parameter file.
const HistoryFileName = "config_history.jsonl"

// Params holds every runtime-adjustable parameter. Values are read at turn
// boundaries, so a change never disturbs a turn already in flight.
type Params struct {
	Audio     AudioParams     `json:"audio"`
	LLM       LLMParams       `json:"llm"`
	TTS       TTSParams       `json:"tts"`
	Analytics AnalyticsParams `json:"analytics"`

	Version   int    `json:"version"`
	UpdatedAt string `json:"updated_at"`
	UpdatedBy string `json:"updated_by"`
}

// AudioParams tune the silence-based utterance segmenter.
type AudioParams struct {
	// SilenceDurationMs is how long sustained silence must last before the
	// buffered speech is emitted as an utterance.
	SilenceDurationMs int `json:"silence_duration_ms"`

	// MinSpeechDurationMs is the minimum speech length worth transcribing;
	// shorter bursts are discarded as noise.
	MinSpeechDurationMs int `json:"min_speech_duration_ms"`

	// SilenceThreshold is the RMS amplitude at or below which a frame
	// counts as silence.
	SilenceThreshold int `json:"silence_threshold"`
}

// LLMParams tune reply generation.
type LLMParams struct {
	Model string `json:"model"`

	// MaxTokens caps reply length. Kept low: replies are spoken.
	MaxTokens int `json:"max_tokens"`

	// ContextTurns is the number of recent turns (caller + reply pairs)
	// sent to the model each turn.
	ContextTurns int `json:"context_turns"`
}

// TTSParams tune speech synthesis.
type TTSParams struct {
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// AnalyticsParams tune quality flagging thresholds.
type AnalyticsParams struct {
	// SlowResponseThresholdMs flags turns whose total latency exceeds it.
	SlowResponseThresholdMs int `json:"slow_response_threshold_ms"`

	// ConfidenceThreshold flags transcripts below it as low confidence.
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// EchoSimilarityThreshold flags transcripts too similar to a recent AI
	// reply. Not runtime-adjustable.
	EchoSimilarityThreshold float64 `json:"echo_similarity_threshold"`

	// RepeatSimilarityThreshold flags callers repeating themselves.
	// Not runtime-adjustable.
	RepeatSimilarityThreshold float64 `json:"repeat_similarity_threshold"`
}

// DefaultParams returns the baseline parameter set.
func DefaultParams() Params {
	return Params{
		Audio: AudioParams{
			SilenceDurationMs:   1200,
			MinSpeechDurationMs: 500,
			SilenceThreshold:    500,
		},
		LLM: LLMParams{
			Model:        "claude-sonnet-4-20250514",
			MaxTokens:    80,
			ContextTurns: 4,
		},
		TTS: TTSParams{
			Voice: "onyx",
			Speed: 0.9,
		},
		Analytics: AnalyticsParams{
			SlowResponseThresholdMs:   4000,
			ConfidenceThreshold:       0.80,
			EchoSimilarityThreshold:   0.60,
			RepeatSimilarityThreshold: 0.80,
		},
		Version: 1,
	}
}

// ParamRule bounds one adjustable parameter. Numeric rules use Min/Max;
// string rules use Allowed.
type ParamRule struct {
	Min, Max float64
	Integer  bool
	Allowed  []string
}

// ParamRules is the closed set of adjustable parameter paths. A path absent
// from this map cannot be changed through [ParamStore.Set].
var ParamRules = map[string]ParamRule{
	"audio.silence_duration_ms":             {Min: 500, Max: 5000, Integer: true},
	"audio.min_speech_duration_ms":          {Min: 100, Max: 2000, Integer: true},
	"audio.silence_threshold":               {Min: 100, Max: 2000, Integer: true},
	"llm.max_tokens":                        {Min: 20, Max: 500, Integer: true},
	"llm.context_turns":                     {Min: 1, Max: 20, Integer: true},
	"llm.model":                             {Allowed: []string{"claude-sonnet-4-20250514", "claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022"}},
	"tts.voice":                             {Allowed: []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}},
	"tts.speed":                             {Min: 0.5, Max: 1.5},
	"analytics.slow_response_threshold_ms":  {Min: 1000, Max: 10000, Integer: true},
	"analytics.confidence_threshold":        {Min: 0.5, Max: 1.0},
}

// Change is one recorded parameter change.
type Change struct {
	Timestamp string `json:"timestamp"`
	Parameter string `json:"parameter"`
	OldValue  any    `json:"old_value"`
	NewValue  any    `json:"new_value"`
	Source    string `json:"source"`
}

// ParamStore owns the live parameter file and its change history.
// Reads return a copy, so callers can hold a turn-scoped snapshot.
type ParamStore struct {
	path        string
	historyPath string
	now         func() time.Time

	mu     sync.RWMutex
	params Params
}

// NewParamStore loads the parameter file at path, creating it with defaults
// when missing. A malformed file logs a warning and falls back to defaults
// rather than refusing to start: a broken tunables file must never take the
// phone line down.
func NewParamStore(path string) (*ParamStore, error) {
	if path == "" {
		return nil, errors.New("config: param store path must not be empty")
	}
	s := &ParamStore{
		path:        path,
		historyPath: filepath.Join(filepath.Dir(path), HistoryFileName),
		now:         time.Now,
		params:      DefaultParams(),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.persist(); err != nil {
			return nil, fmt.Errorf("config: create %s: %w", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		params := DefaultParams()
		if err := json.Unmarshal(data, &params); err != nil {
			slog.Warn("parameter file is malformed, using defaults", "path", path, "err", err)
			params = DefaultParams()
		}
		s.params = params
	}
	return s, nil
}

// Params returns a copy of the current parameter set.
func (s *ParamStore) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Get returns the value at a dot-notation path (e.g., "audio.silence_threshold").
func (s *ParamStore) Get(path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.params.value(path)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParam, path)
	}
	return v, nil
}

// Set validates and applies one parameter change, persists the file, and
// appends a record to the change history. The in-memory value always
// changes on success; persistence failures degrade to memory-only with a
// warning so an operator tweak still reaches the next turn.
func (s *ParamStore) Set(path string, value any, source string) (Change, error) {
	rule, ok := ParamRules[path]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q is not adjustable", ErrUnknownParam, path)
	}
	value, err := rule.coerce(path, value)
	if err != nil {
		return Change{}, err
	}

	s.mu.Lock()
	old, _ := s.params.value(path)
	s.params.assign(path, value)
	s.params.Version++
	s.params.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	s.params.UpdatedBy = source
	if err := s.persist(); err != nil {
		slog.Warn("parameter file write failed, change is memory-only", "path", s.path, "err", err)
	}
	s.mu.Unlock()

	change := Change{
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Parameter: path,
		OldValue:  old,
		NewValue:  value,
		Source:    source,
	}
	if err := s.appendHistory(change); err != nil {
		slog.Warn("config history append failed", "path", s.historyPath, "err", err)
	}
	slog.Info("parameter changed", "parameter", path, "old", old, "new", value, "source", source)
	return change, nil
}

// History returns the most recent change records, newest last. limit <= 0
// returns everything.
func (s *ParamStore) History(limit int) ([]Change, error) {
	data, err := os.ReadFile(s.historyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read history: %w", err)
	}
	var changes []Change
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var c Change
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			// A torn write must not hide the rest of the log.
			slog.Warn("skipping malformed history line", "err", err)
			continue
		}
		changes = append(changes, c)
	}
	if limit > 0 && len(changes) > limit {
		changes = changes[len(changes)-limit:]
	}
	return changes, nil
}

// AdjustableParams returns the adjustable paths with their bounds, sorted.
// Used by the dashboard config endpoint.
func AdjustableParams() map[string]ParamRule {
	out := make(map[string]ParamRule, len(ParamRules))
	for k, v := range ParamRules {
		out[k] = v
	}
	return out
}

func (s *ParamStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.params, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

func (s *ParamStore) appendHistory(c Change) error {
	if err := os.MkdirAll(filepath.Dir(s.historyPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.historyPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// coerce checks value against the rule and converts JSON numbers (float64)
// into the field's native type.
func (r ParamRule) coerce(path string, value any) (any, error) {
	if r.Allowed != nil {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string", ErrInvalidValue, path)
		}
		if !slices.Contains(r.Allowed, s) {
			return nil, fmt.Errorf("%w: %s must be one of %v, got %q", ErrInvalidValue, path, r.Allowed, s)
		}
		return s, nil
	}

	var n float64
	switch v := value.(type) {
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case float64:
		n = v
	default:
		return nil, fmt.Errorf("%w: %s expects a number", ErrInvalidValue, path)
	}
	if n < r.Min || n > r.Max {
		return nil, fmt.Errorf("%w: %s %v is out of range [%v, %v]", ErrInvalidValue, path, n, r.Min, r.Max)
	}
	if r.Integer {
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: %s expects an integer", ErrInvalidValue, path)
		}
		return int(n), nil
	}
	return n, nil
}

// value reads a dot-notation path from the parameter set.
func (p *Params) value(path string) (any, bool) {
	switch path {
	case "audio.silence_duration_ms":
		return p.Audio.SilenceDurationMs, true
	case "audio.min_speech_duration_ms":
		return p.Audio.MinSpeechDurationMs, true
	case "audio.silence_threshold":
		return p.Audio.SilenceThreshold, true
	case "llm.model":
		return p.LLM.Model, true
	case "llm.max_tokens":
		return p.LLM.MaxTokens, true
	case "llm.context_turns":
		return p.LLM.ContextTurns, true
	case "tts.voice":
		return p.TTS.Voice, true
	case "tts.speed":
		return p.TTS.Speed, true
	case "analytics.slow_response_threshold_ms":
		return p.Analytics.SlowResponseThresholdMs, true
	case "analytics.confidence_threshold":
		return p.Analytics.ConfidenceThreshold, true
	}
	return nil, false
}

// assign writes a pre-coerced value at a dot-notation path. Paths are
// guaranteed valid by the caller's rule lookup.
func (p *Params) assign(path string, value any) {
	switch path {
	case "audio.silence_duration_ms":
		p.Audio.SilenceDurationMs = value.(int)
	case "audio.min_speech_duration_ms":
		p.Audio.MinSpeechDurationMs = value.(int)
	case "audio.silence_threshold":
		p.Audio.SilenceThreshold = value.(int)
	case "llm.model":
		p.LLM.Model = value.(string)
	case "llm.max_tokens":
		p.LLM.MaxTokens = value.(int)
	case "llm.context_turns":
		p.LLM.ContextTurns = value.(int)
	case "tts.voice":
		p.TTS.Voice = value.(string)
	case "tts.speed":
		p.TTS.Speed = value.(float64)
	case "analytics.slow_response_threshold_ms":
		p.Analytics.SlowResponseThresholdMs = value.(int)
	case "analytics.confidence_threshold":
		p.Analytics.ConfidenceThreshold = value.(float64)
	}
}
