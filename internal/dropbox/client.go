// Package dropbox is a minimal client for the Dropbox HTTP API covering
// what the photo organizer needs: listing a folder, downloading photos or
// thumbnails and copying or moving files.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

const (
	defaultAPIBase     = "https://api.dropboxapi.com/2"
	defaultContentBase = "https://content.dropboxapi.com/2"

	maxRetryElapsed = 2 * time.Minute
)

// imageExtensions lists the photo extensions ListImages keeps.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".heic": true,
}

// ErrConflict is returned by Copy and Move when the destination already
// exists.
var ErrConflict = errors.New("destination already exists")

// APIError is a non-2xx Dropbox response.
type APIError struct {
	Status  int
	Summary string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox api: status %d: %s", e.Status, e.Summary)
}

// Entry is one file in a Dropbox folder listing.
type Entry struct {
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// Client talks to the Dropbox API with a single access token.
type Client struct {
	token  string
	client *http.Client
	log    logr.Logger

	apiBase     string
	contentBase string
}

// NewClient creates a Dropbox client with the given access token.
func NewClient(token string, log logr.Logger) *Client {
	return &Client{
		token:       token,
		client:      &http.Client{Timeout: 60 * time.Second},
		log:         log.WithName("dropbox"),
		apiBase:     defaultAPIBase,
		contentBase: defaultContentBase,
	}
}

// do sends one request and retries rate limits and transient server
// errors, honoring Retry-After when present.
func (c *Client) do(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxRetryElapsed

	var resp *http.Response
	err := backoff.Retry(func() error {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			retryErr := fmt.Errorf("status %d", resp.StatusCode)
			if after := resp.Header.Get("Retry-After"); after != "" {
				if secs, err := strconv.Atoi(after); err == nil {
					c.log.Info("rate limited, waiting", "seconds", secs)
					resp.Body.Close()
					select {
					case <-time.After(time.Duration(secs) * time.Second):
					case <-ctx.Done():
						return backoff.Permanent(ctx.Err())
					}
					return retryErr
				}
			}
			resp.Body.Close()
			return retryErr
		}
		return nil
	}, backoff.WithContext(policy, ctx))

	return resp, err
}

// postJSON issues one RPC-style API call and decodes the JSON response
// into out. Package-level because methods cannot carry type parameters.
func postJSON[T any](ctx context.Context, c *Client, endpoint string, payload any) (*T, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req, data)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return &out, nil
}

// download issues one content-endpoint call, passing the arguments in the
// Dropbox-API-Arg header, and returns the raw body.
func (c *Client) download(ctx context.Context, endpoint string, arg any) ([]byte, error) {
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentBase+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Dropbox-API-Arg", string(argJSON))

	resp, err := c.do(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var envelope struct {
		Summary string `json:"error_summary"`
	}
	_ = json.Unmarshal(data, &envelope)
	summary := envelope.Summary
	if summary == "" {
		summary = strings.TrimSpace(string(data))
	}
	return &APIError{Status: resp.StatusCode, Summary: summary}
}

// VerifyConnection checks the token by fetching the account it belongs
// to. Returns the account display name.
func (c *Client) VerifyConnection(ctx context.Context) (string, error) {
	out, err := postJSON[struct {
		Name struct {
			DisplayName string `json:"display_name"`
		} `json:"name"`
		Email string `json:"email"`
	}](ctx, c, "/users/get_current_account", nil)
	if err != nil {
		return "", err
	}
	return out.Name.DisplayName, nil
}

type listFolderResponse struct {
	Entries []struct {
		Tag string `json:".tag"`
		Entry
	} `json:"entries"`
	Cursor  string `json:"cursor"`
	HasMore bool   `json:"has_more"`
}

// ListImages returns all photo files directly inside a folder, following
// pagination cursors.
func (c *Client) ListImages(ctx context.Context, folder string) ([]Entry, error) {
	var images []Entry
	collect := func(resp *listFolderResponse) {
		for _, e := range resp.Entries {
			if e.Tag != "file" {
				continue
			}
			if imageExtensions[strings.ToLower(path.Ext(e.Name))] {
				images = append(images, e.Entry)
			}
		}
	}

	resp, err := postJSON[listFolderResponse](ctx, c, "/files/list_folder", map[string]any{
		"path":      folder,
		"recursive": false,
	})
	if err != nil {
		return nil, err
	}
	collect(resp)

	for resp.HasMore {
		resp, err = postJSON[listFolderResponse](ctx, c, "/files/list_folder/continue", map[string]string{
			"cursor": resp.Cursor,
		})
		if err != nil {
			return nil, err
		}
		collect(resp)
	}

	return images, nil
}

// Download fetches the full-size file at the given path.
func (c *Client) Download(ctx context.Context, filePath string) ([]byte, error) {
	return c.download(ctx, "/files/download", map[string]string{"path": filePath})
}

// Thumbnail fetches a JPEG thumbnail of the photo at the given path. Size
// is a Dropbox size name like "w256h256".
func (c *Client) Thumbnail(ctx context.Context, filePath, size string) ([]byte, error) {
	return c.download(ctx, "/files/get_thumbnail_v2", map[string]any{
		"resource": map[string]string{".tag": "path", "path": filePath},
		"format":   map[string]string{".tag": "jpeg"},
		"size":     map[string]string{".tag": size},
	})
}

// Copy copies a file. Returns ErrConflict when the destination exists.
func (c *Client) Copy(ctx context.Context, fromPath, toPath string) error {
	return c.relocate(ctx, "/files/copy_v2", fromPath, toPath)
}

// Move moves a file. Returns ErrConflict when the destination exists.
func (c *Client) Move(ctx context.Context, fromPath, toPath string) error {
	return c.relocate(ctx, "/files/move_v2", fromPath, toPath)
}

func (c *Client) relocate(ctx context.Context, endpoint, fromPath, toPath string) error {
	_, err := postJSON[struct {
		Metadata Entry `json:"metadata"`
	}](ctx, c, endpoint, map[string]any{
		"from_path":  fromPath,
		"to_path":    toPath,
		"autorename": false,
	})

	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Summary, "conflict") {
		return ErrConflict
	}
	return err
}
