// Package persona defines the selectable assistant profiles: a system
// prompt, a voice, a speaking rate, and the set of tools the profile is
// allowed to call. Personas are configuration, not behavior; the session
// engine reads the active persona at connect time and never mutates it.
package persona

import "time"

// ToolConfig is a tool declaration as stored on a persona. It carries
// client-side bookkeeping (Enabled, Scheduling) that must be stripped or
// conditionally applied before the declaration is sent over the wire; see
// SanitizeTools.
type ToolConfig struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`

	// Scheduling hints when the backend should run the tool relative to
	// speech. Only the live streaming API understands it.
	Scheduling string `json:"scheduling,omitempty"`

	// GoogleSearch marks this entry as the built-in search tool rather
	// than a function declaration.
	GoogleSearch bool `json:"googleSearch,omitempty"`

	// Enabled toggles the tool in the persona editor. Never serialized
	// to the backend.
	Enabled bool `json:"enabled"`
}

// Persona is one selectable assistant profile.
type Persona struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Icon         string       `json:"icon,omitempty"`
	Tagline      string       `json:"tagline,omitempty"`
	SystemPrompt string       `json:"systemPrompt"`
	Voice        string       `json:"voice"`
	SpeakingRate float64      `json:"speakingRate,omitempty"`
	Tools        []ToolConfig `json:"tools,omitempty"`
	BuiltIn      bool         `json:"builtIn,omitempty"`
	CreatedAt    time.Time    `json:"createdAt,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt,omitempty"`
}

// Defaults returns the built-in personas seeded into an empty store.
func Defaults() []*Persona {
	return []*Persona{
		{
			ID:      "english-teacher",
			Name:    "English Teacher",
			Icon:    "📚",
			Tagline: "Practice conversation and learn new words",
			SystemPrompt: "You are a friendly and patient English teacher. " +
				"Hold natural spoken conversations with the student, gently correct " +
				"mistakes, and when the student asks about a word, use the define_word " +
				"tool so they hear the pronunciation. Keep answers short and spoken.",
			Voice:        "Aoede",
			SpeakingRate: 0.9,
			BuiltIn:      true,
			Tools: []ToolConfig{
				{
					Name:        "define_word",
					Description: "Look up the definition, phonetics and pronunciation of an English word.",
					Parameters: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"word": map[string]any{
								"type":        "string",
								"description": "The word to define.",
							},
						},
						"required": []any{"word"},
					},
					Scheduling: "INTERRUPT",
					Enabled:    true,
				},
				{
					Name:        "read_web_page",
					Description: "Read the text content of a web page by URL.",
					Parameters: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"url": map[string]any{
								"type":        "string",
								"description": "The page URL to read.",
							},
						},
						"required": []any{"url"},
					},
					Enabled: true,
				},
			},
		},
		{
			ID:      "project-assistant",
			Name:    "Project Assistant",
			Icon:    "🗂️",
			Tagline: "Answers grounded in your knowledge base",
			SystemPrompt: "You are a concise project assistant. When the user asks " +
				"about project facts, decisions or documents, search the knowledge base " +
				"before answering and cite the source file you used.",
			Voice: "Charon",
			Tools: []ToolConfig{
				{
					Name:        "search_knowledge_base",
					Description: "Search the user's document folder for files matching a query and return their content.",
					Parameters: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"query": map[string]any{
								"type":        "string",
								"description": "Keywords to search for.",
							},
						},
						"required": []any{"query"},
					},
					Enabled: true,
				},
				{GoogleSearch: true, Enabled: true},
			},
			BuiltIn: true,
		},
	}
}
