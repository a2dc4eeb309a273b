package knowledge_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/centralino-ai/centralino/internal/knowledge"
)

func TestNewStore_CreatesDefaultFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config", "knowledge.json")

	s, err := knowledge.NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not created: %v", err)
	}
	snap := s.Snapshot()
	if snap.Identity.OpeningPhrase == "" {
		t.Error("default opening phrase missing")
	}
	if snap.Identity.Name != "" {
		t.Errorf("default name should be empty, got %q", snap.Identity.Name)
	}
}

func TestNewStore_MergesOverDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "knowledge.json")
	content := `{
		"identity": {"name": "James Smith", "codice_fiscale": "SMTJMS80A01G702X"},
		"location": {"address": {"via": "Via Roma", "numero": "12", "comune": "Pisa"}},
		"accounts": {"enel": {"provider": "Enel Energia", "type": "electricity",
			"identifiers": {"pod": "IT001E12345678"}}}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := knowledge.NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	snap := s.Snapshot()
	if snap.Identity.Name != "James Smith" {
		t.Errorf("name: got %q", snap.Identity.Name)
	}
	if got := snap.Identity.FirstName(); got != "James" {
		t.Errorf("first name: got %q", got)
	}
	// Fields absent from the file keep their defaults.
	if snap.Identity.OpeningPhrase == "" {
		t.Error("opening phrase default lost in merge")
	}
	if got := snap.Location.Address.Full(); got != "Via Roma 12,  Pisa" {
		t.Errorf("full address: got %q", got)
	}
	if snap.Accounts["enel"].Identifiers["pod"] != "IT001E12345678" {
		t.Error("account identifiers not loaded")
	}
}

func TestNewStore_MalformedFileFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "knowledge.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := knowledge.NewStore(path); err == nil {
		t.Fatal("expected error for malformed file")
	}
}
