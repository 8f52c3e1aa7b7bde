package history

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sabia-ai/sabia/pkg/session"
)

func newTestStore(t *testing.T) (*JSONStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversations.json")
	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, path
}

func userTurn(text string) session.Turn {
	return session.Turn{Role: session.RoleUser, Text: text, IsFinal: true, Timestamp: time.Now()}
}

func agentTurn(text string) session.Turn {
	return session.Turn{Role: session.RoleAgent, Text: text, IsFinal: true, Timestamp: time.Now()}
}

func TestSaveCreatesConversation(t *testing.T) {
	store, _ := newTestStore(t)

	id, err := store.Save("", []session.Turn{userTurn("hello there"), agentTurn("hi!")})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated conversation ID")
	}

	conv, err := store.Load(id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if conv.Title != "hello there" {
		t.Errorf("expected title from first user turn, got %q", conv.Title)
	}
	if len(conv.Turns) != 2 {
		t.Errorf("expected 2 turns, got %d", len(conv.Turns))
	}
}

func TestSaveTitleTruncation(t *testing.T) {
	store, _ := newTestStore(t)

	long := strings.Repeat("word ", 30)
	id, err := store.Save("", []session.Turn{userTurn(long)})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	conv, _ := store.Load(id)
	if got := len([]rune(conv.Title)); got > maxTitleLen+1 {
		t.Errorf("title too long: %d runes (%q)", got, conv.Title)
	}
	if !strings.HasSuffix(conv.Title, "…") {
		t.Errorf("expected ellipsis on truncated title, got %q", conv.Title)
	}
}

func TestSaveTitleSkipsAgentTurns(t *testing.T) {
	store, _ := newTestStore(t)

	id, _ := store.Save("", []session.Turn{agentTurn("welcome!"), userTurn("question")})
	conv, _ := store.Load(id)
	if conv.Title != "question" {
		t.Errorf("expected title from user turn, got %q", conv.Title)
	}
}

func TestSaveEmptyPrunes(t *testing.T) {
	store, _ := newTestStore(t)

	id, err := store.Save("", []session.Turn{userTurn("soon gone")})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := store.Save(id, nil); err != nil {
		t.Fatalf("empty save failed: %v", err)
	}
	if _, err := store.Load(id); err == nil {
		t.Error("expected conversation pruned after empty save")
	}

	// Empty save of an unknown ID is a no-op, not an error.
	if _, err := store.Save("missing", nil); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestSaveUpdatesExisting(t *testing.T) {
	store, _ := newTestStore(t)

	id, _ := store.Save("", []session.Turn{userTurn("first")})
	id2, err := store.Save(id, []session.Turn{userTurn("first"), agentTurn("reply")})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if id2 != id {
		t.Errorf("expected same ID on update, got %s vs %s", id2, id)
	}
	conv, _ := store.Load(id)
	if len(conv.Turns) != 2 {
		t.Errorf("expected 2 turns after update, got %d", len(conv.Turns))
	}
}

func TestListOrderPinnedFirst(t *testing.T) {
	store, _ := newTestStore(t)

	oldID, _ := store.Save("", []session.Turn{userTurn("old")})
	time.Sleep(5 * time.Millisecond)
	newID, _ := store.Save("", []session.Turn{userTurn("new")})

	if err := store.SetPinned(oldID, true); err != nil {
		t.Fatalf("pin failed: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
	if list[0].ID != oldID {
		t.Errorf("expected pinned conversation first, got %s", list[0].ID)
	}
	if list[1].ID != newID {
		t.Errorf("expected unpinned conversation second, got %s", list[1].ID)
	}
}

func TestDeleteAndReopen(t *testing.T) {
	store, path := newTestStore(t)

	keepID, _ := store.Save("", []session.Turn{userTurn("keep")})
	dropID, _ := store.Save("", []session.Turn{userTurn("drop")})
	if err := store.Delete(dropID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(dropID); err == nil {
		t.Error("expected error deleting twice")
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if _, err := reopened.Load(keepID); err != nil {
		t.Errorf("expected kept conversation after reopen: %v", err)
	}
	if _, err := reopened.Load(dropID); err == nil {
		t.Error("deleted conversation survived reopen")
	}
}

func TestSaveSnapshotsTurns(t *testing.T) {
	store, _ := newTestStore(t)

	turns := []session.Turn{userTurn("original")}
	id, _ := store.Save("", turns)
	turns[0].Text = "mutated"

	conv, _ := store.Load(id)
	if conv.Turns[0].Text != "original" {
		t.Error("store shares caller's turn slice")
	}
}
