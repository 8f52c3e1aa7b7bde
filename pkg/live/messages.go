package live

import "encoding/json"

// Part is one piece of a content turn: text or inline binary data.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inline_data,omitempty"`
}

// Blob carries base64-encoded binary data with its MIME type.
type Blob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Content is a single turn in the backend's content format.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// MediaChunk is one encoded realtime-input chunk (microphone audio).
type MediaChunk struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// FunctionDeclaration describes one callable tool on the wire. Client-only
// bookkeeping fields never appear here; see persona.SanitizeTools.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Scheduling  string         `json:"scheduling,omitempty"`
}

// ToolSet is one tool group in the session configuration.
type ToolSet struct {
	FunctionDeclarations []FunctionDeclaration `json:"function_declarations,omitempty"`
	GoogleSearch         map[string]any        `json:"google_search,omitempty"`
}

// FunctionCall is a backend-initiated tool invocation.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// FunctionResponse is the client's answer to one FunctionCall.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// WebSource is a single grounding citation.
type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingChunk wraps one citation; only web sources are produced today.
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// GroundingMetadata carries the citations attached to a model turn.
type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks"`
}

// ServerContent is the metadata surface of a serverContent frame exposed to
// subscribers. Audio, transcription and turn signals are delivered through
// their own typed events.
type ServerContent struct {
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// SessionConfig is the parameter bundle sent once at connection
// establishment. History is replayed right after the handshake to give the
// backend conversational memory across reconnects.
type SessionConfig struct {
	Model        string
	SystemPrompt string
	Voice        string
	SpeakingRate float64
	Tools        []ToolSet
	History      []Content
}

// Outgoing wire frames. The live endpoint accepts snake_case field names.

type setupFrame struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string            `json:"model"`
	GenerationConfig         *generationConfig `json:"generation_config,omitempty"`
	SystemInstruction        *Content          `json:"system_instruction,omitempty"`
	Tools                    []ToolSet         `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}         `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"output_audio_transcription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *speechConfig `json:"speech_config,omitempty"`
}

type speechConfig struct {
	SpeakingRate float64      `json:"speaking_rate,omitempty"`
	VoiceConfig  *voiceConfig `json:"voice_config,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuilt_voice_config"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voice_name"`
}

type realtimeInputFrame struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

type clientContentFrame struct {
	ClientContent clientContent `json:"client_content"`
}

type clientContent struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turn_complete"`
}

type toolResponseFrame struct {
	ToolResponse toolResponse `json:"tool_response"`
}

type toolResponse struct {
	FunctionResponses []FunctionResponse `json:"function_responses"`
}

// Incoming wire frames. The server emits camelCase field names.

type serverFrame struct {
	SetupComplete        json.RawMessage      `json:"setupComplete,omitempty"`
	ServerContent        *serverContentFrame  `json:"serverContent,omitempty"`
	ToolCall             *toolCallFrame       `json:"toolCall,omitempty"`
	ToolCallCancellation json.RawMessage      `json:"toolCallCancellation,omitempty"`
	Error                *serverErrorFrame    `json:"error,omitempty"`
	GoAway               json.RawMessage      `json:"goAway,omitempty"`
}

type serverContentFrame struct {
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	ModelTurn           *modelTurn         `json:"modelTurn,omitempty"`
	InputTranscription  *transcriptionPart `json:"inputTranscription,omitempty"`
	OutputTranscription *transcriptionPart `json:"outputTranscription,omitempty"`
	GroundingMetadata   *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

type modelTurn struct {
	Parts []serverPart `json:"parts"`
}

type serverPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *serverBlob `json:"inlineData,omitempty"`
}

type serverBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcriptionPart struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type toolCallFrame struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

type serverErrorFrame struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// TextContent builds a user content turn from plain text.
func TextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}
