package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sabia-ai/sabia/pkg/dictionary"
	"github.com/sabia-ai/sabia/pkg/drive"
)

type stubDictionary struct {
	entry *dictionary.Entry
	err   error
}

func (s *stubDictionary) Define(ctx context.Context, word string) (*dictionary.Entry, error) {
	return s.entry, s.err
}

func TestDefineWordTool(t *testing.T) {
	source := &stubDictionary{entry: &dictionary.Entry{
		Word:       "ephemeral",
		Phonetic:   "/ɪˈfɛm(ə)rəl/",
		Definition: "lasting for a very short time",
		AudioURL:   "https://example.com/a.mp3",
	}}

	var mu sync.Mutex
	var pronounced string
	tool := NewDefineWordTool(source, func(url string) {
		mu.Lock()
		pronounced = url
		mu.Unlock()
	})

	got, err := tool.Handler(context.Background(), map[string]any{"word": "ephemeral"})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if got["word"] != "ephemeral" || got["definition"] != "lasting for a very short time" {
		t.Errorf("unexpected payload %v", got)
	}

	// Pronunciation is fire-and-forget; give the goroutine a beat.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		done := pronounced != ""
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if pronounced != "https://example.com/a.mp3" {
		t.Errorf("expected pronunciation scheduled, got %q", pronounced)
	}
}

func TestDefineWordToolRequiresWord(t *testing.T) {
	tool := NewDefineWordTool(&stubDictionary{}, nil)
	if _, err := tool.Handler(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing word")
	}
}

func TestDefineWordToolLookupFailure(t *testing.T) {
	tool := NewDefineWordTool(&stubDictionary{err: dictionary.ErrNotFound}, nil)
	if _, err := tool.Handler(context.Background(), map[string]any{"word": "zzz"}); !errors.Is(err, dictionary.ErrNotFound) {
		t.Errorf("expected lookup error surfaced, got %v", err)
	}
}

type stubStore struct {
	folderID  string
	folderErr error
	files     []drive.File
	searchErr error
	content   string
	dlErr     error
}

func (s *stubStore) FindFolderByName(ctx context.Context, name string) (string, error) {
	return s.folderID, s.folderErr
}

func (s *stubStore) SearchFiles(ctx context.Context, folderID, query string) ([]drive.File, error) {
	return s.files, s.searchErr
}

func (s *stubStore) DownloadContent(ctx context.Context, file drive.File) (string, error) {
	return s.content, s.dlErr
}

func TestKnowledgeBaseTool(t *testing.T) {
	store := &stubStore{
		folderID: "folder1",
		files: []drive.File{{
			ID:      "f1",
			Name:    "roadmap.md",
			WebLink: "https://drive.example/f1",
		}},
		content: "project roadmap contents",
	}
	tool := NewKnowledgeBaseTool(store, "Knowledge Base")

	got, err := tool.Handler(context.Background(), map[string]any{"query": "roadmap"})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if got["content"] != "project roadmap contents" {
		t.Errorf("unexpected content %v", got["content"])
	}
	src, ok := got["sourceFile"].(map[string]any)
	if !ok || src["name"] != "roadmap.md" || src["id"] != "f1" {
		t.Errorf("expected sourceFile reference, got %v", got["sourceFile"])
	}
}

func TestKnowledgeBaseToolTruncatesContent(t *testing.T) {
	store := &stubStore{
		folderID: "folder1",
		files:    []drive.File{{ID: "f1", Name: "big.txt"}},
		content:  strings.Repeat("x", maxDocumentChars+500),
	}
	tool := NewKnowledgeBaseTool(store, "Knowledge Base")

	got, err := tool.Handler(context.Background(), map[string]any{"query": "big"})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if content := got["content"].(string); len(content) != maxDocumentChars {
		t.Errorf("expected content truncated to %d chars, got %d", maxDocumentChars, len(content))
	}
}

func TestKnowledgeBaseToolErrors(t *testing.T) {
	tests := []struct {
		name  string
		store *stubStore
		want  string
	}{
		{"missing folder", &stubStore{folderErr: drive.ErrFolderNotFound}, "not accessible"},
		{"no matches", &stubStore{folderID: "f"}, "no documents matched"},
		{"search failure", &stubStore{folderID: "f", searchErr: errors.New("boom")}, "search failed"},
		{"download failure", &stubStore{
			folderID: "f",
			files:    []drive.File{{ID: "f1", Name: "doc"}},
			dlErr:    errors.New("gone"),
		}, "could not read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewKnowledgeBaseTool(tt.store, "Knowledge Base")
			_, err := tool.Handler(context.Background(), map[string]any{"query": "q"})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestReadWebPageToolDeclines(t *testing.T) {
	tool := NewReadWebPageTool()
	if _, err := tool.Handler(context.Background(), map[string]any{"url": "https://example.com"}); err == nil {
		t.Error("expected placeholder to decline")
	}
}
