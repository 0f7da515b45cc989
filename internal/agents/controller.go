package agents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// Config wires a Controller.
type Config struct {
	Refiner   PromptRefiner
	Submitter JobSubmitter
	// Out receives the user-facing progress lines.
	Out io.Writer
	// StrictRefine stops before submission when refinement fails. When false
	// the refiner's placeholder text is submitted as the prompt.
	StrictRefine bool
}

// Result describes one run.
type Result struct {
	Idea      string
	Prompt    string
	PromptID  string
	RefineErr error
}

// Controller runs read idea -> refine -> submit -> report, once.
type Controller struct {
	refiner   PromptRefiner
	submitter JobSubmitter
	out       io.Writer
	strict    bool
}

func NewController(cfg *Config) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.Refiner == nil {
		return nil, errors.New("refiner is required")
	}
	if cfg.Submitter == nil {
		return nil, errors.New("submitter is required")
	}
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}

	return &Controller{
		refiner:   cfg.Refiner,
		submitter: cfg.Submitter,
		out:       out,
		strict:    cfg.StrictRefine,
	}, nil
}

// Run reads one idea from in and takes it through refinement and submission.
// Every failure is reported on the output writer and returned; the returned
// Result holds whatever was produced before the failure.
func (c *Controller) Run(ctx context.Context, in io.Reader) (*Result, error) {
	fmt.Fprintln(c.out, "\n--- DGX MULTI-MODAL AGENT ---")
	fmt.Fprint(c.out, ">> Describe the image you want: ")

	idea, err := readIdea(in)
	if err != nil {
		fmt.Fprintf(c.out, "\n--> Could not read your idea: %v\n", err)
		return nil, fmt.Errorf("failed to read idea: %w", err)
	}
	result := &Result{Idea: idea}

	fmt.Fprintln(c.out, "\n[Brain] Refining prompt with Ollama...")
	fmt.Fprintf(c.out, "   (Consulting Ollama to refine: '%s')...\n", idea)

	prompt, err := c.refiner.Refine(ctx, idea)
	if err != nil {
		result.RefineErr = err
		if c.strict {
			log.Error().Err(err).Msg("Refinement failed, not submitting")
			fmt.Fprintf(c.out, "--> Refinement failed: %v\n", err)
			return result, err
		}
		log.Warn().Err(err).Str("placeholder", prompt).Msg("Refinement failed, submitting placeholder prompt")
	}
	result.Prompt = prompt
	fmt.Fprintf(c.out, "--> Generated Prompt: %s\n", prompt)

	fmt.Fprintln(c.out, "\n[Artist] Sending to ComfyUI...")
	resp, err := c.submitter.Submit(ctx, prompt)
	if err != nil {
		log.Error().Err(err).Msg("Job submission failed")
		fmt.Fprintf(c.out, "--> Error connecting to ComfyUI: %v\n", err)
		return result, fmt.Errorf("failed to submit job: %w", err)
	}
	result.PromptID = resp.PromptID

	fmt.Fprintf(c.out, "--> Success! Image queued. Prompt ID: %s\n", resp.PromptID)
	fmt.Fprintln(c.out, "--> Check your ComfyUI Output folder in a moment!")

	return result, nil
}

// readIdea reads a single line. A final line without a newline is accepted;
// end of input before any text is an error.
func readIdea(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
