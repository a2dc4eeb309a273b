package analytics

import (
	"sort"
	"time"
)

// LatencyBreakdown splits a turn's latency across pipeline stages.
type LatencyBreakdown struct {
	TotalMs            int `json:"total_ms"`
	SilenceDetectionMs int `json:"silence_detection_ms"`
	WhisperMs          int `json:"whisper_ms"`
	ClaudeMs           int `json:"claude_ms"`
	TTSMs              int `json:"tts_ms"`
}

// TurnMetrics are the derived metrics for one conversation turn.
type TurnMetrics struct {
	TurnIndex int    `json:"turn_index"`
	Speaker   string `json:"speaker"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`

	Transcript       string   `json:"transcript"`
	AnchorWords      []string `json:"anchor_words"`
	SpeechDurationMs int      `json:"speech_duration_ms"`
	Confidence       float64  `json:"confidence"`

	Response                string   `json:"response"`
	ResponseAnchorWords     []string `json:"response_anchor_words"`
	ResponseAudioDurationMs int      `json:"response_audio_duration_ms"`
	TokensIn                int      `json:"tokens_in"`
	TokensOut               int      `json:"tokens_out"`

	Latency LatencyBreakdown `json:"latency"`

	Flags []QualityFlag `json:"flags"`
}

// Summary is the aggregate analytics for one completed call.
type Summary struct {
	CallID          string `json:"call_sid"`
	Caller          string `json:"caller"`
	Called          string `json:"called"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	DurationSeconds int    `json:"duration_seconds"`
	Status          string `json:"status"`

	TotalTurns  int `json:"total_turns"`
	CallerTurns int `json:"caller_turns"`
	AITurns     int `json:"ai_turns"`

	AvgTotalMs       int    `json:"avg_total_ms"`
	AvgWhisperMs     int    `json:"avg_whisper_ms"`
	AvgClaudeMs      int    `json:"avg_claude_ms"`
	AvgTTSMs         int    `json:"avg_tts_ms"`
	P95TotalMs       int    `json:"p95_total_ms"`
	SlowestTurn      int    `json:"slowest_turn"`
	SlowestComponent string `json:"slowest_component"`

	AvgWhisperConfidence float64             `json:"avg_whisper_confidence"`
	LowConfidenceTurns   []int               `json:"low_confidence_turns"`
	EchoEvents           int                 `json:"echo_events"`
	Interruptions        int                 `json:"interruptions"`
	Repeats              int                 `json:"repeats"`
	FlagsSummary         map[QualityFlag]int `json:"flags_summary"`

	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
	AvgResponseTokens int `json:"avg_response_tokens"`
}

// ComputeTurns derives per-turn metrics from an event stream. The result is
// a pure function of the events and thresholds, so re-running it over a
// stored events.jsonl reproduces turns.json exactly.
func ComputeTurns(events []Event, th Thresholds) []TurnMetrics {
	byTurn := make(map[int][]Event)
	for _, evt := range events {
		byTurn[evt.TurnIndex] = append(byTurn[evt.TurnIndex], evt)
	}

	indexes := make([]int, 0, len(byTurn))
	for idx := range byTurn {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var turns []TurnMetrics
	for _, idx := range indexes {
		turns = append(turns, computeTurn(idx, byTurn[idx], th))
	}
	return turns
}

func computeTurn(index int, events []Event, th Thresholds) TurnMetrics {
	speaker := "caller"
	if index == 0 {
		// Turn 0 is the AI greeting, there is no caller input yet.
		speaker = "ai"
	}
	turn := TurnMetrics{
		TurnIndex:           index,
		Speaker:             speaker,
		StartedAt:           events[0].Timestamp,
		EndedAt:             events[len(events)-1].Timestamp,
		AnchorWords:         []string{},
		ResponseAnchorWords: []string{},
		Flags:               []QualityFlag{},
	}

	var silenceAt, whisperStart, whisperEnd, claudeStart, claudeEnd, ttsStart, ttsEnd time.Time
	sawWhisperCompleted := false
	retried := false

	for _, evt := range events {
		switch evt.Type {
		case EventSilenceDetected:
			silenceAt = parseTime(evt.Timestamp)
			turn.SpeechDurationMs = intData(evt.Data, "speech_duration_ms")

		case EventWhisperStarted:
			whisperStart = parseTime(evt.Timestamp)

		case EventWhisperCompleted:
			whisperEnd = parseTime(evt.Timestamp)
			sawWhisperCompleted = true
			turn.Transcript = strData(evt.Data, "transcript")
			turn.Confidence = floatData(evt.Data, "confidence")
			turn.AnchorWords = AnchorWords(turn.Transcript)
			retried = retried || boolData(evt.Data, "retried")

		case EventWhisperFailed:
			if intData(evt.Data, "retry_count") > 0 {
				retried = true
			}

		case EventClaudeStarted:
			claudeStart = parseTime(evt.Timestamp)

		case EventClaudeCompleted:
			claudeEnd = parseTime(evt.Timestamp)
			turn.Response = strData(evt.Data, "response")
			turn.TokensIn = intData(evt.Data, "input_tokens")
			turn.TokensOut = intData(evt.Data, "output_tokens")
			turn.ResponseAnchorWords = AnchorWords(turn.Response)

		case EventTTSStarted:
			ttsStart = parseTime(evt.Timestamp)

		case EventTTSCompleted:
			ttsEnd = parseTime(evt.Timestamp)
			turn.ResponseAudioDurationMs = intData(evt.Data, "audio_duration_ms")

		case EventLowConfidence:
			turn.addFlag(FlagLowConfidence)
		case EventEchoDetected:
			turn.addFlag(FlagEcho)
		case EventRepeatDetected:
			turn.addFlag(FlagRepeat)
		case EventInterruptDetected:
			turn.addFlag(FlagInterrupted)
		}
	}

	turn.Latency.WhisperMs = spanMs(whisperStart, whisperEnd)
	turn.Latency.ClaudeMs = spanMs(claudeStart, claudeEnd)
	turn.Latency.TTSMs = spanMs(ttsStart, ttsEnd)
	turn.Latency.SilenceDetectionMs = spanMs(silenceAt, whisperStart)
	turn.Latency.TotalMs = turn.Latency.WhisperMs + turn.Latency.ClaudeMs + turn.Latency.TTSMs

	if th.SlowResponseMs > 0 && turn.Latency.TotalMs > th.SlowResponseMs {
		turn.addFlag(FlagSlowResponse)
	}
	if sawWhisperCompleted && turn.Transcript == "" {
		turn.addFlag(FlagTranscriptionEmpty)
	}
	if retried {
		turn.addFlag(FlagAPIRetry)
	}

	return turn
}

// ComputeSummary derives the call-level aggregate from the turns.
func ComputeSummary(callID, caller, called string, started, ended time.Time, turns []TurnMetrics) *Summary {
	s := &Summary{
		CallID:             callID,
		Caller:             caller,
		Called:             called,
		StartedAt:          started.Format(timeLayout),
		EndedAt:            ended.Format(timeLayout),
		DurationSeconds:    int(ended.Sub(started).Seconds()),
		Status:             "ended",
		LowConfidenceTurns: []int{},
		FlagsSummary:       map[QualityFlag]int{},
	}
	if len(turns) == 0 {
		return s
	}

	s.TotalTurns = len(turns)
	var latencies, whisperLat, claudeLat, ttsLat []int
	var confidences []float64
	outputTurns := 0

	for _, t := range turns {
		switch t.Speaker {
		case "caller":
			s.CallerTurns++
		case "ai":
			s.AITurns++
		}
		if t.Latency.TotalMs > 0 {
			latencies = append(latencies, t.Latency.TotalMs)
		}
		if t.Latency.WhisperMs > 0 {
			whisperLat = append(whisperLat, t.Latency.WhisperMs)
		}
		if t.Latency.ClaudeMs > 0 {
			claudeLat = append(claudeLat, t.Latency.ClaudeMs)
		}
		if t.Latency.TTSMs > 0 {
			ttsLat = append(ttsLat, t.Latency.TTSMs)
		}
		if t.Confidence > 0 {
			confidences = append(confidences, t.Confidence)
		}
		for _, flag := range t.Flags {
			s.FlagsSummary[flag]++
			if flag == FlagLowConfidence {
				s.LowConfidenceTurns = append(s.LowConfidenceTurns, t.TurnIndex)
			}
		}
		s.TotalInputTokens += t.TokensIn
		s.TotalOutputTokens += t.TokensOut
		if t.TokensOut > 0 {
			outputTurns++
		}
	}

	s.AvgTotalMs = mean(latencies)
	s.AvgWhisperMs = mean(whisperLat)
	s.AvgClaudeMs = mean(claudeLat)
	s.AvgTTSMs = mean(ttsLat)

	if len(latencies) > 0 {
		sorted := append([]int(nil), latencies...)
		sort.Ints(sorted)
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		s.P95TotalMs = sorted[idx]

		slowest := sorted[len(sorted)-1]
		for _, t := range turns {
			if t.Latency.TotalMs == slowest {
				s.SlowestTurn = t.TurnIndex
				s.SlowestComponent = slowestComponent(t.Latency)
				break
			}
		}
	}

	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		s.AvgWhisperConfidence = sum / float64(len(confidences))
	}

	s.EchoEvents = s.FlagsSummary[FlagEcho]
	s.Interruptions = s.FlagsSummary[FlagInterrupted]
	s.Repeats = s.FlagsSummary[FlagRepeat]

	if outputTurns > 0 {
		s.AvgResponseTokens = s.TotalOutputTokens / outputTurns
	}

	return s
}

func (t *TurnMetrics) addFlag(f QualityFlag) {
	for _, existing := range t.Flags {
		if existing == f {
			return
		}
	}
	t.Flags = append(t.Flags, f)
}

func slowestComponent(l LatencyBreakdown) string {
	// Ties resolve in pipeline order.
	component, best := "whisper", l.WhisperMs
	if l.ClaudeMs > best {
		component, best = "claude", l.ClaudeMs
	}
	if l.TTSMs > best {
		component = "tts"
	}
	return component
}

func spanMs(start, end time.Time) int {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Milliseconds())
}

func mean(vals []int) int {
	if len(vals) == 0 {
		return 0
	}
	sum := 0
	for _, v := range vals {
		sum += v
	}
	return sum / len(vals)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func intData(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatData(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func strData(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func boolData(data map[string]any, key string) bool {
	if b, ok := data[key].(bool); ok {
		return b
	}
	return false
}
