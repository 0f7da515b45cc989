package llm

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"
)

// maxErrorBodyBytes caps how much of a non-200 body is kept for the error message.
const maxErrorBodyBytes = 2048

// maxResponseLogBytes is the max length of a model response to log in full.
const maxResponseLogBytes = 4096

// Client wraps the Ollama API client used for prompt refinement
type Client struct {
	model string
	api   *api.Client
}

// NewClient creates a new Ollama client for baseURL (e.g. http://localhost:11434).
// httpClient may be nil; a client with the given timeout is created then (zero means no timeout).
func NewClient(baseURL, model string, httpClient *http.Client, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	next := httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	wrapped := *httpClient
	wrapped.Transport = &statusRoundTripper{next: next}

	log.Info().
		Str("ollama_url", base.String()).
		Str("model", model).
		Dur("timeout", wrapped.Timeout).
		Msg("Ollama client initialized")

	return &Client{
		model: model,
		api:   api.NewClient(base, &wrapped),
	}, nil
}

// StatusError is returned when Ollama answers with anything but 200 OK.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama returned status %d: %s", e.StatusCode, e.Body)
}

// statusRoundTripper turns every non-200 response into a *StatusError.
// The ollama client only reports statuses it finds in a non-empty body.
// Redirects are passed through so the http.Client can follow them.
type statusRoundTripper struct {
	next http.RoundTripper
}

func (s *statusRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK || isRedirect(resp) {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil, &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func isRedirect(resp *http.Response) bool {
	return resp.StatusCode >= 300 && resp.StatusCode < 400 && resp.Header.Get("Location") != ""
}

// statusCode extracts the HTTP status from errors produced by either the
// status round tripper or the ollama client itself.
func statusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	var ae api.StatusError
	if errors.As(err, &ae) {
		return ae.StatusCode, true
	}
	return 0, false
}

// logModelResponse logs a model response, truncating if over maxResponseLogBytes.
func logModelResponse(caller, raw string) {
	if len(raw) <= maxResponseLogBytes {
		log.Debug().Str("caller", caller).Str("model_response", raw).Msg("Model response")
		return
	}
	log.Debug().
		Str("caller", caller).
		Str("model_response", raw[:maxResponseLogBytes]+"... [truncated]").
		Int("model_response_len", len(raw)).
		Msg("Model response")
}
