// Package drive gives tools read access to a Google Drive knowledge
// base: folder lookup, file search and content download, behind a
// user-consented OAuth flow.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/sabia-ai/sabia/internal/log"
)

// ErrNotAuthenticated means no valid OAuth token is available.
var ErrNotAuthenticated = errors.New("drive: not authenticated")

// ErrFolderNotFound means the requested folder does not exist or is not
// visible to the authenticated account.
var ErrFolderNotFound = errors.New("drive: folder not found")

const folderMimeType = "application/vnd.google-apps.folder"

// googleDocExportTypes maps Workspace document types to a plain-text
// export format. Binary uploads are downloaded as-is.
var googleDocExportTypes = map[string]string{
	"application/vnd.google-apps.document":     "text/plain",
	"application/vnd.google-apps.spreadsheet":  "text/csv",
	"application/vnd.google-apps.presentation": "text/plain",
}

// Config configures the Drive client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// TokenPath stores the refresh token between runs.
	TokenPath string
}

// File is a lightweight Drive file reference.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	WebLink  string `json:"webViewLink,omitempty"`
}

// Client wraps the Drive v3 API.
type Client struct {
	config    *oauth2.Config
	tokenPath string

	mu      sync.RWMutex
	token   *oauth2.Token
	service *drive.Service
}

// NewClient creates a Drive client and loads any saved token.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("drive: client ID and secret are required")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8787/api/drive/callback"
	}
	if cfg.TokenPath == "" {
		home, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(home, ".sabia", "google_token.json")
	}

	c := &Client{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/drive.readonly",
			},
			Endpoint: google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
	}

	if err := c.loadToken(); err == nil {
		if err := c.initService(); err != nil {
			c.token = nil
		}
	}
	return c, nil
}

// IsAuthenticated reports whether a usable token is loaded.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service != nil
}

// AuthURL returns the consent URL to start the OAuth flow.
func (c *Client) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code and stores the token.
func (c *Client) HandleCallback(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("drive: code exchange failed: %w", err)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	if err := c.saveToken(); err != nil {
		log.Warn("drive: token not persisted", "err", err)
	}
	return c.initService()
}

// Disconnect drops the credentials and removes the stored token.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.token = nil
	c.service = nil
	c.mu.Unlock()

	if err := os.Remove(c.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("drive: remove token: %w", err)
	}
	return nil
}

// FindFolderByName returns the ID of the first non-trashed folder with
// the given name.
func (c *Client) FindFolderByName(ctx context.Context, name string) (string, error) {
	svc, err := c.serviceOrErr()
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(name), folderMimeType)
	list, err := svc.Files.List().Context(ctx).
		Q(query).
		Fields("files(id, name)").
		PageSize(1).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive: folder lookup: %w", err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("%w: %q", ErrFolderNotFound, name)
	}
	return list.Files[0].Id, nil
}

// SearchFiles returns files inside folderID whose name or content
// matches the query.
func (c *Client) SearchFiles(ctx context.Context, folderID, query string) ([]File, error) {
	svc, err := c.serviceOrErr()
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
	if query = strings.TrimSpace(query); query != "" {
		q += fmt.Sprintf(" and (name contains '%s' or fullText contains '%s')",
			escapeQuery(query), escapeQuery(query))
	}

	list, err := svc.Files.List().Context(ctx).
		Q(q).
		Fields("files(id, name, mimeType, webViewLink)").
		PageSize(10).
		Do()
	if err != nil {
		return nil, fmt.Errorf("drive: file search: %w", err)
	}

	files := make([]File, 0, len(list.Files))
	for _, f := range list.Files {
		files = append(files, File{
			ID:       f.Id,
			Name:     f.Name,
			MimeType: f.MimeType,
			WebLink:  f.WebViewLink,
		})
	}
	return files, nil
}

// DownloadContent fetches a file's content as text. Workspace documents
// are exported to a plain-text format; other files are downloaded raw.
func (c *Client) DownloadContent(ctx context.Context, file File) (string, error) {
	svc, err := c.serviceOrErr()
	if err != nil {
		return "", err
	}

	var resp io.ReadCloser
	if exportType, ok := googleDocExportTypes[file.MimeType]; ok {
		r, err := svc.Files.Export(file.ID, exportType).Context(ctx).Download()
		if err != nil {
			return "", fmt.Errorf("drive: export %s: %w", file.Name, err)
		}
		resp = r.Body
	} else {
		r, err := svc.Files.Get(file.ID).Context(ctx).Download()
		if err != nil {
			return "", fmt.Errorf("drive: download %s: %w", file.Name, err)
		}
		resp = r.Body
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return "", fmt.Errorf("drive: read %s: %w", file.Name, err)
	}
	return string(data), nil
}

func (c *Client) serviceOrErr() (*drive.Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.service == nil {
		return nil, ErrNotAuthenticated
	}
	return c.service, nil
}

func (c *Client) initService() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return ErrNotAuthenticated
	}

	ctx := context.Background()
	httpClient := c.config.Client(ctx, c.token)
	svc, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("drive: init service: %w", err)
	}
	c.service = svc
	return nil
}

func (c *Client) loadToken() error {
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("drive: parse token: %w", err)
	}

	c.mu.Lock()
	c.token = &token
	c.mu.Unlock()
	return nil
}

func (c *Client) saveToken() error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return os.WriteFile(c.tokenPath, data, 0o600)
}

// escapeQuery escapes single quotes for Drive query strings.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
