package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Text generation (Ollama)
	OllamaURL   string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel string `envconfig:"OLLAMA_MODEL" default:"llama3"`

	// Image generation (ComfyUI)
	ComfyAddr           string `envconfig:"COMFY_ADDR" default:"127.0.0.1:8188"`
	ComfyCheckpoint     string `envconfig:"COMFY_CHECKPOINT" default:"Realistic_Vision_V6.0_NV_B1.safetensors"`
	ComfyFilenamePrefix string `envconfig:"COMFY_FILENAME_PREFIX" default:"DGX_Agent_Gen"`

	// HTTPTimeout applies to both outbound clients; zero means no timeout.
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"0"`

	// StrictRefine stops the run before submission when the prompt refinement failed.
	StrictRefine bool `envconfig:"STRICT_REFINE" default:"false"`
}

// Load loads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.OllamaURL == "" {
		return errors.New("OLLAMA_URL is required")
	}
	u, err := url.Parse(c.OllamaURL)
	if err != nil {
		return fmt.Errorf("OLLAMA_URL is invalid: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("OLLAMA_URL must be an absolute URL, got %q", c.OllamaURL)
	}
	if c.OllamaModel == "" {
		return errors.New("OLLAMA_MODEL is required")
	}
	if c.ComfyAddr == "" {
		return errors.New("COMFY_ADDR is required")
	}
	if c.HTTPTimeout < 0 {
		return errors.New("HTTP_TIMEOUT must not be negative")
	}

	return nil
}

// ComfyBaseURL returns the ComfyUI base URL built from COMFY_ADDR (host:port).
func (c *Config) ComfyBaseURL() string {
	return "http://" + c.ComfyAddr
}
