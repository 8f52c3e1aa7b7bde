package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sabia-ai/sabia/pkg/session"
)

// Store is the conversation persistence interface.
type Store interface {
	// Save writes the turns under the given conversation ID. An empty
	// ID creates a new conversation and returns its ID. Saving an
	// empty turn list prunes the conversation instead of keeping a
	// blank record.
	Save(id string, turns []session.Turn) (string, error)

	// Load retrieves a conversation by ID.
	Load(id string) (*Conversation, error)

	// List returns all conversations, pinned first, newest first.
	List() ([]*Conversation, error)

	// Delete removes a conversation by ID.
	Delete(id string) error

	// SetPinned pins or unpins a conversation.
	SetPinned(id string, pinned bool) error
}

// JSONStore implements Store using a JSON file for persistence.
type JSONStore struct {
	path          string
	conversations map[string]*Conversation
	mu            sync.RWMutex
}

// storeData is the JSON structure for the store file.
type storeData struct {
	Version       int             `json:"version"`
	UpdatedAt     string          `json:"updated_at"`
	Conversations []*Conversation `json:"conversations"`
}

const currentVersion = 1

// NewJSONStore creates a JSON-based store at the given path. If the file
// doesn't exist, it will be created on first save.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		path:          path,
		conversations: make(map[string]*Conversation),
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := store.load(); err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	}

	return store, nil
}

// NewDefaultStore creates a store at the default location (~/.sabia/conversations.json).
func NewDefaultStore() (*JSONStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewJSONStore(filepath.Join(homeDir, ".sabia", "conversations.json"))
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

	s.conversations = make(map[string]*Conversation)
	for _, c := range stored.Conversations {
		s.conversations[c.ID] = c
	}

	return nil
}

// save writes the store to disk. Caller must hold s.mu.
func (s *JSONStore) save() error {
	conversations := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		conversations = append(conversations, c)
	}

	stored := storeData{
		Version:       currentVersion,
		UpdatedAt:     time.Now().Format(time.RFC3339),
		Conversations: conversations,
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

// Save writes the turns under the given conversation ID.
func (s *JSONStore) Save(id string, turns []session.Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A conversation with no turns is noise, not history.
	if len(turns) == 0 {
		if _, ok := s.conversations[id]; ok {
			delete(s.conversations, id)
			return "", s.save()
		}
		return "", nil
	}

	now := time.Now()
	conv, ok := s.conversations[id]
	if !ok {
		if id == "" {
			id = uuid.New().String()
		}
		conv = &Conversation{ID: id, CreatedAt: now}
		s.conversations[id] = conv
	}

	conv.Turns = append([]session.Turn(nil), turns...)
	conv.Title = titleFor(turns)
	conv.LastModified = now
	return id, s.save()
}

// Load retrieves a conversation by ID.
func (s *JSONStore) Load(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	return conv, nil
}

// List returns all conversations, pinned first, newest first.
func (s *JSONStore) List() ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

// Delete removes a conversation by ID.
func (s *JSONStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation not found: %s", id)
	}
	delete(s.conversations, id)
	return s.save()
}

// SetPinned pins or unpins a conversation.
func (s *JSONStore) SetPinned(id string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation not found: %s", id)
	}
	conv.Pinned = pinned
	return s.save()
}
