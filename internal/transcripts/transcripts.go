// Package transcripts stores the consolidated conversation record of each
// finished call, one JSON file per call under the transcripts root.
package transcripts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Turn is one line of the conversation.
type Turn struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Record is the full stored transcript of one call.
type Record struct {
	CallID          string `json:"call_id"`
	Caller          string `json:"caller"`
	Called          string `json:"called"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	DurationSeconds int    `json:"duration_seconds"`
	Status          string `json:"status"`
	Turns           []Turn `json:"transcript"`
}

// Listing is the condensed row for the call-history view.
type Listing struct {
	CallID          string `json:"call_id"`
	Caller          string `json:"caller"`
	StartedAt       string `json:"started_at"`
	DurationSeconds int    `json:"duration_seconds"`
	Status          string `json:"status"`
	Turns           int    `json:"turns"`
}

// ErrNotFound is returned by Get for an unknown call id.
var ErrNotFound = errors.New("transcripts: call not found")

// Store reads and writes transcript files under one root directory.
type Store struct {
	root string
}

// NewStore opens the transcripts tree at root. The directory is created on
// first save.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Save writes the record to <root>/<call_id>.json.
func (s *Store) Save(rec *Record) error {
	if rec.CallID == "" {
		return errors.New("transcripts: record has no call id")
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("transcripts: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("transcripts: marshal %s: %w", rec.CallID, err)
	}
	path := filepath.Join(s.root, rec.CallID+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("transcripts: write %s: %w", path, err)
	}
	return nil
}

// Get returns the full record for one call.
func (s *Store) Get(callID string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.root, callID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("transcripts: read %s: %w", callID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("transcripts: parse %s: %w", callID, err)
	}
	return &rec, nil
}

// List returns call history rows, newest first by file modification time,
// with the total file count for pagination. Unreadable files are skipped.
func (s *Store) List(limit, offset int) ([]Listing, int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Listing{}, 0, nil
		}
		return nil, 0, fmt.Errorf("transcripts: %w", err)
	}

	type candidate struct {
		callID string
		mtime  int64
	}
	var candidates []candidate
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			callID: strings.TrimSuffix(name, ".json"),
			mtime:  info.ModTime().UnixNano(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime > candidates[j].mtime })

	total := len(candidates)
	if offset >= len(candidates) {
		return []Listing{}, total, nil
	}
	candidates = candidates[offset:]
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	listings := []Listing{}
	for _, c := range candidates {
		rec, err := s.Get(c.callID)
		if err != nil {
			continue
		}
		listings = append(listings, Listing{
			CallID:          c.callID,
			Caller:          rec.Caller,
			StartedAt:       rec.StartedAt,
			DurationSeconds: rec.DurationSeconds,
			Status:          rec.Status,
			Turns:           len(rec.Turns),
		})
	}
	return listings, total, nil
}
