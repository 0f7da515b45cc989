package agents

import (
	"context"

	"github.com/snappy-loop/artist/internal/comfy"
)

// PromptRefiner expands a short idea into a detailed image prompt.
// On failure it may still return placeholder text alongside the error.
type PromptRefiner interface {
	Refine(ctx context.Context, idea string) (string, error)
}

// JobSubmitter queues an image generation job for a positive prompt.
type JobSubmitter interface {
	Submit(ctx context.Context, positivePrompt string) (*comfy.QueueResponse, error)
}
