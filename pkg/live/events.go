package live

import (
	"sync"

	"github.com/sabia-ai/sabia/internal/log"
)

// signal is a typed observer list. Listen registers a callback and returns a
// disposer that removes exactly that registration, so handlers can be
// deterministically detached across reconnects.
type signal[T any] struct {
	mu   sync.Mutex
	next int
	ids  []int
	fns  map[int]func(T)
}

// listen registers fn and returns its disposer.
func (s *signal[T]) listen(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.ids = append(s.ids, id)
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
		for i, v := range s.ids {
			if v == id {
				s.ids = append(s.ids[:i], s.ids[i+1:]...)
				break
			}
		}
	}
}

// emit invokes registered callbacks in registration order. A panicking
// subscriber is recovered so it cannot take down the transport read loop.
func (s *signal[T]) emit(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.ids))
	for _, id := range s.ids {
		if fn, ok := s.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("live: event handler panicked", "panic", r)
				}
			}()
			fn(v)
		}()
	}
}

// Transcription is an incremental transcription delta.
type Transcription struct {
	Text    string
	IsFinal bool
}

// OnOpen registers a callback fired when the session handshake completes.
func (c *Client) OnOpen(fn func()) func() {
	return c.open.listen(func(struct{}) { fn() })
}

// OnClose registers a callback fired when the connection is torn down.
func (c *Client) OnClose(fn func()) func() {
	return c.closeSig.listen(func(struct{}) { fn() })
}

// OnError registers a callback for transport-level errors.
func (c *Client) OnError(fn func(err error)) func() {
	return c.errSig.listen(fn)
}

// OnAudio registers a callback for raw PCM16 audio chunks from the agent.
func (c *Client) OnAudio(fn func(pcm []byte)) func() {
	return c.audio.listen(fn)
}

// OnInterrupted registers a callback for remote barge-in: the user started
// speaking while agent audio was still streaming.
func (c *Client) OnInterrupted(fn func()) func() {
	return c.interrupted.listen(func(struct{}) { fn() })
}

// OnInputTranscription registers a callback for user-speech transcription
// deltas.
func (c *Client) OnInputTranscription(fn func(text string, isFinal bool)) func() {
	return c.inputTx.listen(func(t Transcription) { fn(t.Text, t.IsFinal) })
}

// OnOutputTranscription registers a callback for agent-speech transcription
// deltas.
func (c *Client) OnOutputTranscription(fn func(text string, isFinal bool)) func() {
	return c.outputTx.listen(func(t Transcription) { fn(t.Text, t.IsFinal) })
}

// OnContent registers a callback for server content carrying metadata such
// as grounding citations.
func (c *Client) OnContent(fn func(content ServerContent)) func() {
	return c.content.listen(fn)
}

// OnToolCall registers a callback for tool-call batches.
func (c *Client) OnToolCall(fn func(calls []FunctionCall)) func() {
	return c.toolCall.listen(fn)
}

// OnTurnComplete registers a callback fired when the agent finishes a turn.
func (c *Client) OnTurnComplete(fn func()) func() {
	return c.turnComplete.listen(func(struct{}) { fn() })
}
