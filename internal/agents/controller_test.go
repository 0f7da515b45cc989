package agents_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snappy-loop/artist/internal/agents"
	"github.com/snappy-loop/artist/internal/comfy"
	"github.com/snappy-loop/artist/internal/llm"
)

type mockRefiner struct {
	refine func(ctx context.Context, idea string) (string, error)
}

func (m *mockRefiner) Refine(ctx context.Context, idea string) (string, error) {
	return m.refine(ctx, idea)
}

type mockSubmitter struct {
	calls  []string
	submit func(ctx context.Context, prompt string) (*comfy.QueueResponse, error)
}

func (m *mockSubmitter) Submit(ctx context.Context, prompt string) (*comfy.QueueResponse, error) {
	m.calls = append(m.calls, prompt)
	return m.submit(ctx, prompt)
}

func setupController(t *testing.T, out *bytes.Buffer, opts ...func(*agents.Config)) *agents.Controller {
	t.Helper()

	cfg := &agents.Config{
		Refiner: &mockRefiner{refine: func(ctx context.Context, idea string) (string, error) {
			return "refined " + idea, nil
		}},
		Submitter: &mockSubmitter{submit: func(ctx context.Context, prompt string) (*comfy.QueueResponse, error) {
			return &comfy.QueueResponse{PromptID: "abc-123"}, nil
		}},
		Out: out,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c, err := agents.NewController(cfg)
	require.NoError(t, err)
	return c
}

func TestNewController(t *testing.T) {
	refiner := &mockRefiner{}
	submitter := &mockSubmitter{}

	tests := []struct {
		name    string
		cfg     *agents.Config
		wantErr bool
	}{
		{name: "valid", cfg: &agents.Config{Refiner: refiner, Submitter: submitter}},
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "missing refiner", cfg: &agents.Config{Submitter: submitter}, wantErr: true},
		{name: "missing submitter", cfg: &agents.Config{Refiner: refiner}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := agents.NewController(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, c)
			}
		})
	}
}

func TestController_Run_Success(t *testing.T) {
	var out bytes.Buffer
	submitter := &mockSubmitter{submit: func(ctx context.Context, prompt string) (*comfy.QueueResponse, error) {
		return &comfy.QueueResponse{PromptID: "abc-123"}, nil
	}}
	c := setupController(t, &out, func(cfg *agents.Config) { cfg.Submitter = submitter })

	result, err := c.Run(context.Background(), strings.NewReader("neon cat\n"))
	require.NoError(t, err)

	assert.Equal(t, "neon cat", result.Idea)
	assert.Equal(t, "refined neon cat", result.Prompt)
	assert.Equal(t, "abc-123", result.PromptID)
	assert.Equal(t, []string{"refined neon cat"}, submitter.calls)

	assert.Contains(t, out.String(), ">> Describe the image you want: ")
	assert.Contains(t, out.String(), "--> Generated Prompt: refined neon cat")
	assert.Contains(t, out.String(), "Prompt ID: abc-123")
}

func TestController_Run_ReadsLastLineWithoutNewline(t *testing.T) {
	var out bytes.Buffer
	c := setupController(t, &out)

	result, err := c.Run(context.Background(), strings.NewReader("neon cat\r"))
	require.NoError(t, err)
	assert.Equal(t, "neon cat", result.Idea)
}

func TestController_Run_EmptyIdeaPassesThrough(t *testing.T) {
	var out bytes.Buffer
	var seen []string
	c := setupController(t, &out, func(cfg *agents.Config) {
		cfg.Refiner = &mockRefiner{refine: func(ctx context.Context, idea string) (string, error) {
			seen = append(seen, idea)
			return "", nil
		}}
	})

	_, err := c.Run(context.Background(), strings.NewReader("\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{""}, seen)
}

func TestController_Run_NoInput(t *testing.T) {
	var out bytes.Buffer
	c := setupController(t, &out)

	result, err := c.Run(context.Background(), strings.NewReader(""))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, out.String(), "Could not read your idea")
}

func TestController_Run_SubmitError(t *testing.T) {
	var out bytes.Buffer
	c := setupController(t, &out, func(cfg *agents.Config) {
		cfg.Submitter = &mockSubmitter{submit: func(ctx context.Context, prompt string) (*comfy.QueueResponse, error) {
			return nil, assert.AnError
		}}
	})

	result, err := c.Run(context.Background(), strings.NewReader("neon cat\n"))
	require.ErrorIs(t, err, assert.AnError)
	require.NotNil(t, result)
	assert.Empty(t, result.PromptID)
	assert.Contains(t, out.String(), "--> Error connecting to ComfyUI: "+assert.AnError.Error())
}

func TestController_Run_RefineFailure(t *testing.T) {
	failing := &mockRefiner{refine: func(ctx context.Context, idea string) (string, error) {
		return "Error: 500", &llm.RefineError{Kind: llm.FailureStatus, StatusCode: 500, Err: assert.AnError}
	}}

	t.Run("placeholder is submitted", func(t *testing.T) {
		var out bytes.Buffer
		submitter := &mockSubmitter{submit: func(ctx context.Context, prompt string) (*comfy.QueueResponse, error) {
			return &comfy.QueueResponse{PromptID: "abc-123"}, nil
		}}
		c := setupController(t, &out, func(cfg *agents.Config) {
			cfg.Refiner = failing
			cfg.Submitter = submitter
		})

		result, err := c.Run(context.Background(), strings.NewReader("neon cat\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"Error: 500"}, submitter.calls)
		assert.Error(t, result.RefineErr)
		assert.Equal(t, "abc-123", result.PromptID)
	})

	t.Run("strict mode stops", func(t *testing.T) {
		var out bytes.Buffer
		submitter := &mockSubmitter{}
		c := setupController(t, &out, func(cfg *agents.Config) {
			cfg.Refiner = failing
			cfg.Submitter = submitter
			cfg.StrictRefine = true
		})

		result, err := c.Run(context.Background(), strings.NewReader("neon cat\n"))
		require.Error(t, err)
		assert.Empty(t, submitter.calls)
		assert.Empty(t, result.PromptID)
		assert.Contains(t, out.String(), "--> Refinement failed:")
	})
}

// TestController_Run_EndToEnd drives the real clients against fake Ollama and ComfyUI servers.
func TestController_Run_EndToEnd(t *testing.T) {
	tests := []struct {
		name         string
		ollamaStatus int
		ollamaBody   string
		wantPrompt   string
	}{
		{
			name:         "refined prompt",
			ollamaStatus: http.StatusOK,
			ollamaBody:   `{"model":"llama3","response":" a neon cat ","done":true}`,
			wantPrompt:   "a neon cat",
		},
		{
			name:         "refinement failure becomes the prompt",
			ollamaStatus: http.StatusInternalServerError,
			ollamaBody:   `{"error":"boom"}`,
			wantPrompt:   "Error: 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var submitted struct {
				Prompt   map[string]map[string]any `json:"prompt"`
				ClientID string                    `json:"client_id"`
			}
			var generated struct {
				Model  string `json:"model"`
				Prompt string `json:"prompt"`
			}

			r := mux.NewRouter()
			r.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&generated))
				w.WriteHeader(tt.ollamaStatus)
				_, _ = w.Write([]byte(tt.ollamaBody))
			}).Methods(http.MethodPost)
			r.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
				_, _ = w.Write([]byte(`{"prompt_id":"abc-123","number":0,"node_errors":{}}`))
			}).Methods(http.MethodPost)
			srv := httptest.NewServer(r)
			defer srv.Close()

			refiner, err := llm.NewClient(srv.URL, "llama3", nil, 0)
			require.NoError(t, err)
			sessionID := uuid.New().String()
			submitter, err := comfy.NewClient(comfy.ClientOptions{
				BaseURL:  srv.URL,
				ClientID: sessionID,
				Seeds:    comfy.FixedSeed(99),
			})
			require.NoError(t, err)

			var out bytes.Buffer
			c, err := agents.NewController(&agents.Config{Refiner: refiner, Submitter: submitter, Out: &out})
			require.NoError(t, err)

			result, err := c.Run(context.Background(), strings.NewReader("neon cat\n"))
			require.NoError(t, err)
			assert.Equal(t, "abc-123", result.PromptID)
			assert.Contains(t, out.String(), "abc-123")

			assert.Equal(t, "llama3", generated.Model)
			assert.Contains(t, generated.Prompt, "based on this idea: 'neon cat'.")

			inputs := submitted.Prompt[comfy.NodePositive]["inputs"].(map[string]any)
			assert.Equal(t, tt.wantPrompt, inputs["text"])
			assert.Equal(t, sessionID, submitted.ClientID)
		})
	}
}

func TestController_Run_ComfyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	submitter, err := comfy.NewClient(comfy.ClientOptions{BaseURL: url, ClientID: uuid.New().String()})
	require.NoError(t, err)

	var out bytes.Buffer
	c := setupController(t, &out, func(cfg *agents.Config) { cfg.Submitter = submitter })

	_, err = c.Run(context.Background(), strings.NewReader("neon cat\n"))
	require.Error(t, err)
	assert.Contains(t, out.String(), "--> Error connecting to ComfyUI:")
	assert.Contains(t, out.String(), "connect")
}
