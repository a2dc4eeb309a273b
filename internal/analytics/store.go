package analytics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CallListing is the condensed per-call row shown in the dashboard call
// list, extracted from each call's summary.json.
type CallListing struct {
	CallID          string   `json:"call_sid"`
	Caller          string   `json:"caller"`
	StartedAt       string   `json:"started_at"`
	DurationSeconds int      `json:"duration_seconds"`
	Turns           int      `json:"turns"`
	AvgLatencyMs    int      `json:"avg_latency_ms"`
	QualityFlags    []string `json:"quality_flags"`
}

// CallDetail is the full stored record of one call.
type CallDetail struct {
	Events  []Event       `json:"events"`
	Turns   []TurnMetrics `json:"turns"`
	Summary *Summary      `json:"analytics"`
}

// AggregateStats summarizes the most recent calls on disk.
type AggregateStats struct {
	TotalCalls   int                 `json:"total_calls"`
	AvgLatencyMs int                 `json:"avg_latency_ms"`
	CommonFlags  map[QualityFlag]int `json:"common_flags"`
}

// Store reads completed call records from the analytics tree.
type Store struct {
	root string
}

// NewStore opens the analytics tree rooted at root. The directory does not
// need to exist yet; an empty tree lists no calls.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// ListCalls returns the most recent completed calls, newest first by
// directory modification time. Directories without a readable summary are
// skipped. A limit of 0 means no limit.
func (s *Store) ListCalls(limit int) ([]CallListing, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []CallListing{}, nil
		}
		return nil, fmt.Errorf("analytics: list calls: %w", err)
	}

	type candidate struct {
		name  string
		mtime int64
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: e.Name(), mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime > candidates[j].mtime })

	listings := []CallListing{}
	for _, c := range candidates {
		if limit > 0 && len(listings) >= limit {
			break
		}
		summary, err := s.readSummary(c.name)
		if err != nil {
			continue
		}
		flags := make([]string, 0, len(summary.FlagsSummary))
		for flag := range summary.FlagsSummary {
			flags = append(flags, string(flag))
		}
		sort.Strings(flags)
		listings = append(listings, CallListing{
			CallID:          summary.CallID,
			Caller:          summary.Caller,
			StartedAt:       summary.StartedAt,
			DurationSeconds: summary.DurationSeconds,
			Turns:           summary.TotalTurns,
			AvgLatencyMs:    summary.AvgTotalMs,
			QualityFlags:    flags,
		})
	}
	return listings, nil
}

// GetCall returns the full stored record of one call: the raw event stream,
// the derived turns, and the summary.
func (s *Store) GetCall(callID string) (*CallDetail, error) {
	events, err := s.GetEvents(callID)
	if err != nil {
		return nil, err
	}

	detail := &CallDetail{Events: events}
	if data, err := os.ReadFile(filepath.Join(s.callDir(callID), "turns.json")); err == nil {
		if err := json.Unmarshal(data, &detail.Turns); err != nil {
			return nil, fmt.Errorf("analytics: call %s: turns: %w", callID, err)
		}
	}
	summary, err := s.readSummary(callID)
	if err == nil {
		detail.Summary = summary
	}
	return detail, nil
}

// GetEvents reads a call's events.jsonl. Blank lines are skipped; a
// malformed line is an error because the stream is the source of truth for
// the derivation.
func (s *Store) GetEvents(callID string) ([]Event, error) {
	f, err := os.Open(filepath.Join(s.callDir(callID), "events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("analytics: call %s: %w", callID, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return nil, fmt.Errorf("analytics: call %s: events.jsonl line %d: %w", callID, lineNo, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("analytics: call %s: %w", callID, err)
	}
	return events, nil
}

// Aggregate computes stats over the most recent calls, at most 100.
func (s *Store) Aggregate() (*AggregateStats, error) {
	listings, err := s.ListCalls(100)
	if err != nil {
		return nil, err
	}

	stats := &AggregateStats{
		TotalCalls:  len(listings),
		CommonFlags: map[QualityFlag]int{},
	}
	var latencies []int
	for _, l := range listings {
		if l.AvgLatencyMs > 0 {
			latencies = append(latencies, l.AvgLatencyMs)
		}
		for _, flag := range l.QualityFlags {
			stats.CommonFlags[QualityFlag(flag)]++
		}
	}
	stats.AvgLatencyMs = mean(latencies)
	return stats, nil
}

func (s *Store) readSummary(callID string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(s.callDir(callID), "summary.json"))
	if err != nil {
		return nil, err
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("analytics: call %s: summary: %w", callID, err)
	}
	return &summary, nil
}

func (s *Store) callDir(callID string) string {
	return filepath.Join(s.root, callID)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
