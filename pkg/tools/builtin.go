package tools

import (
	"context"
	"fmt"

	"github.com/sabia-ai/sabia/internal/log"
	"github.com/sabia-ai/sabia/pkg/dictionary"
	"github.com/sabia-ai/sabia/pkg/drive"
	"github.com/sabia-ai/sabia/pkg/live"
)

// maxDocumentChars bounds knowledge-base content so a tool response
// stays inside backend request-size limits.
const maxDocumentChars = 8000

// DefinitionSource looks up a word definition.
type DefinitionSource interface {
	Define(ctx context.Context, word string) (*dictionary.Entry, error)
}

// DocumentStore is the narrow read-only view of the knowledge base.
type DocumentStore interface {
	FindFolderByName(ctx context.Context, name string) (string, error)
	SearchFiles(ctx context.Context, folderID, query string) ([]drive.File, error)
	DownloadContent(ctx context.Context, file drive.File) (string, error)
}

// NewDefineWordTool builds the define_word tool. pronounce, when set,
// receives the pronunciation audio URL; it runs fire-and-forget so the
// tool result never waits on playback.
func NewDefineWordTool(source DefinitionSource, pronounce func(audioURL string)) Tool {
	return Tool{
		Declaration: live.FunctionDeclaration{
			Name:        "define_word",
			Description: "Look up the definition, phonetic spelling and pronunciation of an English word.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"word": map[string]any{
						"type":        "string",
						"description": "The word to define.",
					},
				},
				"required": []string{"word"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			word, _ := args["word"].(string)
			if word == "" {
				return nil, fmt.Errorf("define_word requires a word argument")
			}

			entry, err := source.Define(ctx, word)
			if err != nil {
				return nil, err
			}

			if pronounce != nil && entry.AudioURL != "" {
				go pronounce(entry.AudioURL)
			}

			result := map[string]any{
				"word":       entry.Word,
				"phonetic":   entry.Phonetic,
				"definition": entry.Definition,
			}
			if entry.Example != "" {
				result["example"] = entry.Example
			}
			if entry.PartOfSpeech != "" {
				result["partOfSpeech"] = entry.PartOfSpeech
			}
			return result, nil
		},
	}
}

// NewKnowledgeBaseTool builds the search_knowledge_base tool. All
// lookups are scoped to the named folder; store failures surface as
// tool-result errors and never touch the session.
func NewKnowledgeBaseTool(store DocumentStore, folderName string) Tool {
	return Tool{
		Declaration: live.FunctionDeclaration{
			Name:        "search_knowledge_base",
			Description: "Search the project knowledge base and return the content of the best-matching document.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search terms matched against document names and content.",
					},
				},
				"required": []string{"query"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("search_knowledge_base requires a query argument")
			}

			folderID, err := store.FindFolderByName(ctx, folderName)
			if err != nil {
				return nil, fmt.Errorf("knowledge base folder %q is not accessible, connect Google Drive first: %w", folderName, err)
			}

			files, err := store.SearchFiles(ctx, folderID, query)
			if err != nil {
				return nil, fmt.Errorf("knowledge base search failed: %w", err)
			}
			if len(files) == 0 {
				return nil, fmt.Errorf("no documents matched %q", query)
			}

			file := files[0]
			content, err := store.DownloadContent(ctx, file)
			if err != nil {
				return nil, fmt.Errorf("could not read %q: %w", file.Name, err)
			}
			if len(content) > maxDocumentChars {
				content = content[:maxDocumentChars]
				log.Debug("tools: knowledge base content truncated", "file", file.Name)
			}

			return map[string]any{
				"content": content,
				"sourceFile": map[string]any{
					"id":   file.ID,
					"name": file.Name,
					"link": file.WebLink,
				},
			}, nil
		},
	}
}

// NewReadWebPageTool builds the read_web_page placeholder. The
// capability is declared so the model can ask for it, but fetching
// arbitrary pages is not implemented; the handler says so.
func NewReadWebPageTool() Tool {
	return Tool{
		Declaration: live.FunctionDeclaration{
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
				"required": []string{"url"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("reading web pages is not available, use search instead")
		},
	}
}
