// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the API responds without any completion.
var ErrNoChoices = errors.New("inference API returned no choices")

// ChatConfig configures the guarded chat-completion client.
type ChatConfig struct {
	// APIKey authenticates against the inference API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a local gateway.
	BaseURL string

	// Model is the completion model. Default: "gpt-4o-mini"
	Model string

	// Guard configures rate limiting and retry.
	Guard GuardConfig
}

// completionAPI is the slice of the OpenAI client the chat client uses.
// Mockable in tests.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatClient wraps the remote chat-completion API behind a Guard.
//
// Thread Safety: Safe for concurrent use.
type ChatClient struct {
	api    completionAPI
	model  string
	guard  *Guard
	logger *slog.Logger
}

// NewChatClient creates a guarded chat client.
func NewChatClient(cfg ChatConfig, logger *slog.Logger) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "inference_chat"))

	guard, err := NewGuard(cfg.Guard, logger)
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &ChatClient{
		api:    openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		guard:  guard,
		logger: logger,
	}, nil
}

// Complete sends a system+user prompt pair and returns the first
// choice's content. The call is rate-limited and retried by the guard.
func (c *ChatClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	var content string
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return ErrNoChoices
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		c.logger.Error("inference call failed", slog.String("error", err.Error()))
		return "", err
	}
	return content, nil
}
