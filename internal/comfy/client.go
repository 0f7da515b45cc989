package comfy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxErrorBodyBytes caps how much of an error body is read.
const maxErrorBodyBytes = 64 * 1024

// promptPreviewRunes is how much of a prompt is logged on submission.
const promptPreviewRunes = 80

// ErrNoPromptID is returned when ComfyUI accepts the request but does not return a prompt id.
var ErrNoPromptID = errors.New("response has no prompt_id")

// QueueRequest is the body of POST /prompt.
type QueueRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
}

// QueueResponse is the body ComfyUI returns for an accepted prompt.
type QueueResponse struct {
	PromptID   string `json:"prompt_id"`
	Number     int    `json:"number"`
	NodeErrors any    `json:"node_errors"`
}

// APIError is returned for non-2xx answers from ComfyUI.
type APIError struct {
	StatusCode int
	Message    string
	NodeErrors map[string]any
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("comfyui returned status %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.NodeErrors) > 0 {
		msg += fmt.Sprintf(" (%d node errors)", len(e.NodeErrors))
	}
	return msg
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL is the ComfyUI root, e.g. http://127.0.0.1:8188.
	BaseURL string
	// ClientID correlates every submission of this process; must be a UUID.
	ClientID string

	Checkpoint     string
	FilenamePrefix string

	HTTPClient *http.Client
	Timeout    time.Duration
	Seeds      SeedSource
}

// Client submits workflows to a ComfyUI server
type Client struct {
	baseURL        string
	clientID       string
	checkpoint     string
	filenamePrefix string
	httpClient     *http.Client
	seeds          SeedSource
}

// NewClient creates a new ComfyUI client
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := uuid.Parse(opts.ClientID); err != nil {
		return nil, fmt.Errorf("invalid client id %q: %w", opts.ClientID, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	seeds := opts.Seeds
	if seeds == nil {
		seeds = NewRandomSeeds(nil)
	}
	checkpoint := opts.Checkpoint
	if checkpoint == "" {
		checkpoint = DefaultCheckpoint
	}
	prefix := opts.FilenamePrefix
	if prefix == "" {
		prefix = DefaultFilenamePrefix
	}

	log.Info().
		Str("comfy_url", opts.BaseURL).
		Str("client_id", opts.ClientID).
		Str("checkpoint", checkpoint).
		Msg("ComfyUI client initialized")

	return &Client{
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		clientID:       opts.ClientID,
		checkpoint:     checkpoint,
		filenamePrefix: prefix,
		httpClient:     httpClient,
		seeds:          seeds,
	}, nil
}

// ClientID returns the session identifier sent with every submission.
func (c *Client) ClientID() string {
	return c.clientID
}

// Workflow builds the default workflow for positivePrompt with a fresh seed.
func (c *Client) Workflow(positivePrompt string) Workflow {
	return BuildWorkflow(WorkflowParams{
		PositivePrompt: positivePrompt,
		Seed:           c.seeds.Seed(),
		Checkpoint:     c.checkpoint,
		FilenamePrefix: c.filenamePrefix,
	})
}

// Submit builds the default workflow around positivePrompt and queues it.
func (c *Client) Submit(ctx context.Context, positivePrompt string) (*QueueResponse, error) {
	wf := c.Workflow(positivePrompt)

	log.Debug().
		Int64("seed", wf.Seed()).
		Str("prompt_preview", preview(positivePrompt, promptPreviewRunes)).
		Msg("Submitting workflow")

	return c.QueuePrompt(ctx, wf)
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// QueuePrompt posts wf to /prompt once. No retry.
func (c *Client) QueuePrompt(ctx context.Context, wf Workflow) (*QueueResponse, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	data, err := sonic.ConfigStd.Marshal(QueueRequest{Prompt: wf, ClientID: c.clientID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp)
		log.Error().
			Int("status", apiErr.StatusCode).
			Str("error", apiErr.Message).
			Int("node_errors", len(apiErr.NodeErrors)).
			Msg("ComfyUI rejected prompt")
		return nil, apiErr
	}

	var out QueueResponse
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode prompt response: %w", err)
	}
	if out.PromptID == "" {
		return nil, ErrNoPromptID
	}

	log.Info().
		Str("prompt_id", out.PromptID).
		Int("number", out.Number).
		Msg("Prompt queued in ComfyUI")

	return &out, nil
}

// decodeAPIError reads a ComfyUI error body. The "error" field is either a
// string or an object with a "message".
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var payload struct {
		Error      any `json:"error"`
		NodeErrors any `json:"node_errors"`
	}
	if err := sonic.ConfigStd.Unmarshal(body, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	switch e := payload.Error.(type) {
	case string:
		apiErr.Message = e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			apiErr.Message = m
		}
		if d, ok := e["details"].(string); ok && d != "" {
			apiErr.Message += ": " + d
		}
	}
	if ne, ok := payload.NodeErrors.(map[string]any); ok {
		apiErr.NodeErrors = ne
	}
	return apiErr
}
