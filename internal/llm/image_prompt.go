package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"
)

// instructionTemplate asks the model for a single Stable Diffusion prompt.
var instructionTemplate = prompts.PromptTemplate{
	Template: "Write a highly detailed text-to-image prompt for Stable Diffusion based on this idea: '{idea}'. " +
		"Mention lighting, style, and resolution. Output ONLY the prompt text, no intro.",
	InputVariables: []string{"idea"},
	TemplateFormat: prompts.TemplateFormatFString,
}

// BuildInstruction wraps a user idea in the refinement instruction. The idea is not validated.
func BuildInstruction(idea string) (string, error) {
	return instructionTemplate.Format(map[string]any{"idea": idea})
}

// FailureKind classifies a refinement failure.
type FailureKind string

const (
	FailureStatus    FailureKind = "status"
	FailureTransport FailureKind = "transport"
)

// RefineError reports why a refinement did not produce model text.
type RefineError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *RefineError) Error() string {
	if e.Kind == FailureStatus {
		return fmt.Sprintf("prompt refinement failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("prompt refinement failed: %v", e.Err)
}

func (e *RefineError) Unwrap() error {
	return e.Err
}

// Placeholder is the text the original flow uses as the prompt when refinement fails.
func (e *RefineError) Placeholder() string {
	if e.Kind == FailureStatus {
		return fmt.Sprintf("Error: %d", e.StatusCode)
	}
	return fmt.Sprintf("Refiner error: %v", e.Err)
}

// Refine asks the model to expand idea into a detailed image generation prompt.
//
// On success it returns the trimmed model text. On failure it returns the
// placeholder text together with a *RefineError, so callers that keep the
// legacy behaviour can submit the placeholder and strict callers can stop.
func (c *Client) Refine(ctx context.Context, idea string) (string, error) {
	log.Debug().
		Str("model", c.model).
		Int("idea_length", len(idea)).
		Msg("Refining image prompt")

	instruction, err := BuildInstruction(idea)
	if err != nil {
		return "", fmt.Errorf("failed to build instruction: %w", err)
	}

	stream := false
	req := &api.GenerateRequest{
		Model:  c.model,
		Prompt: instruction,
		Stream: &stream,
	}

	var out strings.Builder
	err = c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		rerr := &RefineError{Kind: FailureTransport, Err: err}
		if code, ok := statusCode(err); ok {
			rerr.Kind = FailureStatus
			rerr.StatusCode = code
		}
		log.Error().Err(err).
			Str("kind", string(rerr.Kind)).
			Int("status", rerr.StatusCode).
			Msg("Ollama prompt refinement failed")
		return rerr.Placeholder(), rerr
	}

	logModelResponse("Refine", out.String())

	prompt := strings.TrimSpace(out.String())
	log.Info().
		Int("prompt_length", len(prompt)).
		Msg("Image prompt refinement complete")

	return prompt, nil
}
