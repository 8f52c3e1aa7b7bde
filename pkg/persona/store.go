package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the persona persistence interface.
type Store interface {
	// Save creates or updates a persona.
	Save(p *Persona) error

	// Get retrieves a persona by ID.
	Get(id string) (*Persona, error)

	// List returns all personas, built-ins first, then by name.
	List() ([]*Persona, error)

	// Delete removes a persona by ID. Built-in personas cannot be deleted.
	Delete(id string) error

	// Active returns the currently selected persona.
	Active() (*Persona, error)

	// SetActive selects the persona used for new sessions.
	SetActive(id string) error
}

// JSONStore implements Store using a JSON file for persistence. An empty
// store is seeded with the default personas.
type JSONStore struct {
	path     string
	personas map[string]*Persona
	activeID string
	mu       sync.RWMutex
}

// storeData is the JSON structure for the store file.
type storeData struct {
	Version   int        `json:"version"`
	UpdatedAt string     `json:"updated_at"`
	ActiveID  string     `json:"active_id"`
	Personas  []*Persona `json:"personas"`
}

const currentVersion = 1

// NewJSONStore creates a JSON-based store at the given path. If the file
// does not exist the store is seeded with Defaults and written on first
// save.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		path:     path,
		personas: make(map[string]*Persona),
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := store.load(); err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	} else {
		for _, p := range Defaults() {
			store.personas[p.ID] = p
		}
	}

	if store.activeID == "" {
		for _, p := range sorted(store.personas) {
			store.activeID = p.ID
			break
		}
	}

	return store, nil
}

// NewDefaultStore creates a store at the default location (~/.sabia/personas.json).
func NewDefaultStore() (*JSONStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewJSONStore(filepath.Join(homeDir, ".sabia", "personas.json"))
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	s.personas = make(map[string]*Persona)
	for _, p := range stored.Personas {
		s.personas[p.ID] = p
	}
	s.activeID = stored.ActiveID

	return nil
}

// save writes the store to disk. Caller must hold s.mu.
func (s *JSONStore) save() error {
	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		ActiveID:  s.activeID,
		Personas:  sorted(s.personas),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to temp file first, then rename (atomic write)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Save creates or updates a persona.
func (s *JSONStore) Save(p *Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.personas[p.ID] = p
	return s.save()
}

// Get retrieves a persona by ID.
func (s *JSONStore) Get(id string) (*Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.personas[id]
	if !ok {
		return nil, fmt.Errorf("persona not found: %s", id)
	}
	return p, nil
}

// List returns all personas, built-ins first, then by name.
func (s *JSONStore) List() ([]*Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.personas), nil
}

// Delete removes a persona by ID. Built-in personas cannot be deleted. If
// the deleted persona was active, the first remaining persona becomes
// active.
func (s *JSONStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.personas[id]
	if !ok {
		return fmt.Errorf("persona not found: %s", id)
	}
	if p.BuiltIn {
		return fmt.Errorf("cannot delete built-in persona: %s", p.Name)
	}

	delete(s.personas, id)
	if s.activeID == id {
		s.activeID = ""
		for _, rest := range sorted(s.personas) {
			s.activeID = rest.ID
			break
		}
	}
	return s.save()
}

// Active returns the currently selected persona.
func (s *JSONStore) Active() (*Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.personas[s.activeID]
	if !ok {
		return nil, fmt.Errorf("no active persona")
	}
	return p, nil
}

// SetActive selects the persona used for new sessions.
func (s *JSONStore) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.personas[id]; !ok {
		return fmt.Errorf("persona not found: %s", id)
	}
	s.activeID = id
	return s.save()
}

func sorted(m map[string]*Persona) []*Persona {
	out := make([]*Persona, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BuiltIn != out[j].BuiltIn {
			return out[i].BuiltIn
		}
		return out[i].Name < out[j].Name
	})
	return out
}
