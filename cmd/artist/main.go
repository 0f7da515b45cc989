package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/artist/internal/agents"
	"github.com/snappy-loop/artist/internal/comfy"
	"github.com/snappy-loop/artist/internal/config"
	"github.com/snappy-loop/artist/internal/llm"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// One session id per process, shared by every submission.
	sessionID := uuid.New().String()
	log.Debug().Str("client_id", sessionID).Msg("Starting artist")

	refiner, err := llm.NewClient(cfg.OllamaURL, cfg.OllamaModel, nil, cfg.HTTPTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Ollama client")
	}

	submitter, err := comfy.NewClient(comfy.ClientOptions{
		BaseURL:        cfg.ComfyBaseURL(),
		ClientID:       sessionID,
		Checkpoint:     cfg.ComfyCheckpoint,
		FilenamePrefix: cfg.ComfyFilenamePrefix,
		Timeout:        cfg.HTTPTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ComfyUI client")
	}

	controller, err := agents.NewController(&agents.Config{
		Refiner:      refiner,
		Submitter:    submitter,
		Out:          os.Stdout,
		StrictRefine: cfg.StrictRefine,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create controller")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stdin reads are not cancellable; exit on interrupt.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Warn().Msg("Interrupted")
		cancel()
		os.Exit(130)
	}()

	if _, err := controller.Run(ctx, os.Stdin); err != nil {
		log.Debug().Err(err).Msg("Run failed")
		cancel()
		os.Exit(1)
	}
}
