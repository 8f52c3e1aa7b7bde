// Package dictionary looks up word definitions via the free Dictionary
// API (dictionaryapi.dev).
package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sabia-ai/sabia/internal/log"
)

const defaultBaseURL = "https://api.dictionaryapi.dev/api/v2/entries/en"

// ErrNotFound means the word has no entry.
var ErrNotFound = errors.New("dictionary: word not found")

// Entry is a condensed dictionary result.
type Entry struct {
	Word         string `json:"word"`
	Phonetic     string `json:"phonetic,omitempty"`
	PartOfSpeech string `json:"partOfSpeech,omitempty"`
	Definition   string `json:"definition"`
	Example      string `json:"example,omitempty"`

	// AudioURL points at a pronunciation recording when one exists.
	AudioURL string `json:"audioUrl,omitempty"`
}

// Client queries the Dictionary API.
type Client struct {
	client  *http.Client
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a dictionary client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiEntry mirrors the relevant parts of the Dictionary API response.
type apiEntry struct {
	Word      string `json:"word"`
	Phonetic  string `json:"phonetic"`
	Phonetics []struct {
		Text  string `json:"text"`
		Audio string `json:"audio"`
	} `json:"phonetics"`
	Meanings []struct {
		PartOfSpeech string `json:"partOfSpeech"`
		Definitions  []struct {
			Definition string `json:"definition"`
			Example    string `json:"example"`
		} `json:"definitions"`
	} `json:"meanings"`
}

// Define looks up word and returns its first definition.
func (c *Client) Define(ctx context.Context, word string) (*Entry, error) {
	word = strings.TrimSpace(strings.ToLower(word))
	if word == "" {
		return nil, fmt.Errorf("dictionary: empty word")
	}

	reqURL := c.baseURL + "/" + url.PathEscape(word)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dictionary: create request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dictionary: lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, word)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dictionary: status %d: %s", resp.StatusCode, body)
	}

	var entries []apiEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("dictionary: decode response: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, word)
	}

	entry := condense(&entries[0])
	log.Debug("dictionary: lookup",
		"word", word,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return entry, nil
}

// condense picks the first usable phonetic, audio and definition.
func condense(e *apiEntry) *Entry {
	out := &Entry{Word: e.Word, Phonetic: e.Phonetic}

	for _, p := range e.Phonetics {
		if out.Phonetic == "" && p.Text != "" {
			out.Phonetic = p.Text
		}
		if out.AudioURL == "" && p.Audio != "" {
			out.AudioURL = p.Audio
		}
	}

	for _, m := range e.Meanings {
		if len(m.Definitions) == 0 {
			continue
		}
		out.PartOfSpeech = m.PartOfSpeech
		out.Definition = m.Definitions[0].Definition
		out.Example = m.Definitions[0].Example
		break
	}
	return out
}
