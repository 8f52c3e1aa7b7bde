// Package session implements the live conversation engine: it owns the
// transport client, microphone capture and voice playback, assembles
// streaming transcription fragments into a coherent turn log, and
// dispatches tool calls requested by the model.
package session

import (
	"sync"
	"time"

	"github.com/sabia-ai/sabia/pkg/live"
)

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser is the human speaker.
	RoleUser Role = "user"
	// RoleAgent is the model.
	RoleAgent Role = "agent"
	// RoleSystem marks engine-generated notices such as tool activity.
	RoleSystem Role = "system"
)

// Turn is one entry in the conversation log.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`

	// GroundingChunks carries web sources attached to agent turns.
	GroundingChunks []live.GroundingChunk `json:"groundingChunks,omitempty"`

	// Read marks user turns the agent has started replying to.
	Read bool `json:"read"`
}

// TurnLog assembles streaming transcription fragments into turns.
//
// Input fragments accumulate on a single open user turn until the
// backend marks it finished. Output fragments accumulate on a single
// open agent turn until the turn completes. The log never reorders or
// rewrites closed turns.
type TurnLog struct {
	mu    sync.Mutex
	turns []Turn
	now   func() time.Time

	// OnChange is invoked after every mutation, outside the lock, with
	// a snapshot of the log. Set before use.
	OnChange func(turns []Turn)
}

// NewTurnLog creates an empty turn log.
func NewTurnLog() *TurnLog {
	return &TurnLog{now: time.Now}
}

// Turns returns a snapshot of the log.
func (l *TurnLog) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Len returns the number of turns.
func (l *TurnLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Replace loads turns wholesale, e.g. when resuming a saved conversation.
func (l *TurnLog) Replace(turns []Turn) {
	l.mu.Lock()
	l.turns = append([]Turn(nil), turns...)
	l.mu.Unlock()
	l.notify()
}

// Clear removes all turns.
func (l *TurnLog) Clear() {
	l.Replace(nil)
}

// AppendInput merges a user transcription fragment.
//
// Fragments append to the open user turn if one is at the tail. A
// fragment that exactly repeats the text of a just-finished user turn is
// the backend echoing the final transcript again and is dropped. Any
// other fragment opens a new user turn.
func (l *TurnLog) AppendInput(text string, isFinal bool) {
	if text == "" {
		return
	}

	l.mu.Lock()
	if last := l.lastLocked(); last != nil && last.Role == RoleUser {
		if !last.IsFinal {
			last.Text += text
			last.IsFinal = isFinal
			last.Timestamp = l.now()
			l.mu.Unlock()
			l.notify()
			return
		}
		if last.Text == text {
			l.mu.Unlock()
			return // duplicate echo of a finished turn
		}
	}
	l.turns = append(l.turns, Turn{
		Role:      RoleUser,
		Text:      text,
		IsFinal:   isFinal,
		Timestamp: l.now(),
	})
	l.mu.Unlock()
	l.notify()
}

// AppendOutput merges an agent transcription fragment. Opening a new
// agent turn marks the latest user turn as read.
func (l *TurnLog) AppendOutput(text string) {
	if text == "" {
		return
	}

	l.mu.Lock()
	if last := l.lastLocked(); last != nil && last.Role == RoleAgent && !last.IsFinal {
		last.Text += text
		last.Timestamp = l.now()
		l.mu.Unlock()
		l.notify()
		return
	}

	l.markLastUserReadLocked()
	l.turns = append(l.turns, Turn{
		Role:      RoleAgent,
		Text:      text,
		Timestamp: l.now(),
	})
	l.mu.Unlock()
	l.notify()
}

// AddGrounding attaches web sources to the open agent turn. Chunks
// accumulate; they never replace earlier ones. Without an agent turn at
// the tail the chunks are dropped.
func (l *TurnLog) AddGrounding(chunks []live.GroundingChunk) {
	if len(chunks) == 0 {
		return
	}

	l.mu.Lock()
	last := l.lastLocked()
	if last == nil || last.Role != RoleAgent {
		l.mu.Unlock()
		return
	}
	last.GroundingChunks = append(last.GroundingChunks, chunks...)
	l.mu.Unlock()
	l.notify()
}

// AddUserText appends a typed (not spoken) user message as a final turn.
func (l *TurnLog) AddUserText(text string) {
	l.mu.Lock()
	l.turns = append(l.turns, Turn{
		Role:      RoleUser,
		Text:      text,
		IsFinal:   true,
		Timestamp: l.now(),
	})
	l.mu.Unlock()
	l.notify()
}

// AddSystemTurn appends an engine-generated notice as a final turn.
func (l *TurnLog) AddSystemTurn(text string) {
	l.mu.Lock()
	l.turns = append(l.turns, Turn{
		Role:      RoleSystem,
		Text:      text,
		IsFinal:   true,
		Timestamp: l.now(),
	})
	l.mu.Unlock()
	l.notify()
}

// CompleteTurn closes whatever turn is open at the tail.
func (l *TurnLog) CompleteTurn() {
	l.mu.Lock()
	last := l.lastLocked()
	if last == nil || last.IsFinal {
		l.mu.Unlock()
		return
	}
	last.IsFinal = true
	l.mu.Unlock()
	l.notify()
}

func (l *TurnLog) lastLocked() *Turn {
	if len(l.turns) == 0 {
		return nil
	}
	return &l.turns[len(l.turns)-1]
}

func (l *TurnLog) markLastUserReadLocked() {
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i].Role == RoleUser {
			l.turns[i].Read = true
			return
		}
	}
}

func (l *TurnLog) snapshotLocked() []Turn {
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	for i := range out {
		if n := len(l.turns[i].GroundingChunks); n > 0 {
			out[i].GroundingChunks = append([]live.GroundingChunk(nil), l.turns[i].GroundingChunks...)
		}
	}
	return out
}

func (l *TurnLog) notify() {
	if l.OnChange == nil {
		return
	}
	l.OnChange(l.Turns())
}
