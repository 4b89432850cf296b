package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/ollamaup/internal/models"
)

// DefaultBaseURL is where a stock Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

// Client communicates with a local Ollama instance over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given Ollama base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Pulls stream for minutes; per-call deadlines come from contexts.
			Timeout: 0,
		},
	}
}

// BaseURL returns the endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// tagsResponse mirrors the JSON returned by GET /api/tags.
type tagsResponse struct {
	Models []tagEntry `json:"models"`
}

type tagEntry struct {
	Name   string `json:"name"`
	Model  string `json:"model"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// modelsResponse mirrors the JSON returned by GET /v1/models.
type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// IsRunning returns true if the Ollama server responds to GET /api/tags with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListTags returns the locally present models with their digests.
func (c *Client) ListTags(ctx context.Context) ([]models.InstalledModel, error) {
	var tags tagsResponse
	if err := c.getJSON(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}

	out := make([]models.InstalledModel, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		out = append(out, models.InstalledModel{Name: name, Digest: m.Digest})
	}
	return out, nil
}

// ModelIDs returns the model identifiers exposed on the OpenAI-compatible endpoint.
func (c *Client) ModelIDs(ctx context.Context) ([]string, error) {
	var list modelsResponse
	if err := c.getJSON(ctx, "/v1/models", &list); err != nil {
		return nil, err
	}
	ids := make([]string, len(list.Data))
	for i, m := range list.Data {
		ids[i] = m.ID
	}
	return ids, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// pullRequest is the JSON body for POST /api/pull.
type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullRecord is one line of the streamed pull response. Total is zero for
// phase-only records.
type PullRecord struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RemoteError is an error record sent by the server inside the pull stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "server: " + e.Message
}

const pullChunkSize = 32 << 10

// Pull downloads a model, handing every decoded record to onRecord.
// The body is consumed chunk by chunk; each chunk may hold several records
// and a trailing partial line is held back until the next chunk completes it.
// When ctx is cancelled the stream is closed and ctx.Err() is returned.
func (c *Client) Pull(ctx context.Context, name string, onRecord func(PullRecord)) error {
	body, err := json.Marshal(pullRequest{Name: name, Stream: true})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("pulling model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("pull %s: unexpected status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var split lineSplitter
	buf := make([]byte, pullChunkSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range split.Feed(buf[:n]) {
				if err := handlePullLine(line, onRecord); err != nil {
					return err
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading pull progress: %w", readErr)
		}
	}

	if rest := split.Rest(); len(rest) > 0 {
		if err := handlePullLine(rest, onRecord); err != nil {
			return err
		}
	}
	return nil
}

func handlePullLine(line []byte, onRecord func(PullRecord)) error {
	var rec PullRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return fmt.Errorf("decoding pull record %q: %w", line, err)
	}
	if rec.Error != "" {
		return &RemoteError{Message: rec.Error}
	}
	if onRecord != nil {
		onRecord(rec)
	}
	return nil
}
