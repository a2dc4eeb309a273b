// Package knowledge loads the household knowledge base that grounds the
// phone agent: identity, address, utility accounts, verification answers,
// courier directions, and availability.
//
// The knowledge file is read once at startup and again on demand; each call
// takes an immutable snapshot at call start so the system prompt stays
// fixed for the life of that call.
package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Snapshot is the full knowledge structure. Fields absent from the file
// keep their defaults; unknown file fields are ignored.
type Snapshot struct {
	Identity     Identity           `json:"identity"`
	Location     Location           `json:"location"`
	Accounts     map[string]Account `json:"accounts"`
	House        House              `json:"house"`
	Preferences  Preferences        `json:"preferences"`
	Verification map[string]QA      `json:"verification_data"`
}

// Identity describes the person the agent answers for.
type Identity struct {
	Name          string `json:"name"`
	CodiceFiscale string `json:"codice_fiscale"`
	OpeningPhrase string `json:"opening_phrase"`
}

// FirstName returns the first token of the full name, or "" when unset.
func (i Identity) FirstName() string {
	fields := strings.Fields(i.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Address is the canonical postal address.
type Address struct {
	Via       string `json:"via"`
	Numero    string `json:"numero"`
	CAP       string `json:"cap"`
	Comune    string `json:"comune"`
	Provincia string `json:"provincia"`
}

// Full renders the address on one line for prompts.
func (a Address) Full() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s, %s %s %s", a.Via, a.Numero, a.CAP, a.Comune, a.Provincia))
}

// Directions help couriers find the house.
type Directions struct {
	FromMainRoad     string   `json:"from_main_road"`
	Landmarks        []string `json:"landmarks"`
	HouseDescription string   `json:"house_description"`
}

// Coordinates are the house position for location messages.
type Coordinates struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Location groups everything about where the house is.
type Location struct {
	Address         Address     `json:"address"`
	AddressVariants []string    `json:"address_variants"`
	Directions      Directions  `json:"directions"`
	Coordinates     Coordinates `json:"coordinates"`
	GoogleMapsURL   string      `json:"google_maps_url"`
	GateCode        string      `json:"gate_code"`
}

// Account is one utility or service account.
type Account struct {
	Provider    string            `json:"provider"`
	Type        string            `json:"type"`
	Identifiers map[string]string `json:"identifiers"`
	Contact     map[string]string `json:"contact"`
}

// House holds delivery-related household facts.
type House struct {
	NeighbourName     string            `json:"neighbour_name"`
	NeighbourRelation string            `json:"neighbour_relation"`
	SafePlace         string            `json:"safe_place"`
	MeterLocations    map[string]string `json:"meter_locations"`
}

// Preferences describe appointment availability.
type Preferences struct {
	AvailableDays    []string `json:"available_days"`
	PreferredTime    string   `json:"preferred_time"`
	UnavailableDates []string `json:"unavailable_dates"`
}

// QA is one identity-verification question/answer pair.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Default returns the empty knowledge structure with baseline phrasing.
func Default() *Snapshot {
	return &Snapshot{
		Identity: Identity{
			OpeningPhrase: "Mi scusi, sono inglese e il mio italiano non è perfetto",
		},
		Accounts:     map[string]Account{},
		Verification: map[string]QA{},
	}
}

// Store owns the knowledge file and hands out immutable snapshots.
type Store struct {
	path string

	mu   sync.RWMutex
	snap *Snapshot
}

// NewStore loads the knowledge file at path. A missing file is created with
// the default structure; a malformed file is an error so a typo cannot
// silently blank the agent's identity.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("knowledge: path must not be empty")
	}
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file, merging it over the default structure.
func (s *Store) Reload() error {
	snap := Default()

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeSnapshot(s.path, snap); err != nil {
			return fmt.Errorf("knowledge: create %s: %w", s.path, err)
		}
	case err != nil:
		return fmt.Errorf("knowledge: read %s: %w", s.path, err)
	default:
		// Unmarshal over the defaults: present fields overwrite, absent
		// fields keep their default values.
		if err := json.Unmarshal(data, snap); err != nil {
			return fmt.Errorf("knowledge: parse %s: %w", s.path, err)
		}
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current knowledge. The returned value must be
// treated as read-only; it is shared between concurrent calls.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func writeSnapshot(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
