package scaffold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var (
	// ErrEmptyPrompt indicates no application description was given
	ErrEmptyPrompt = errors.New("application description is required")

	// ErrNoAPIKey indicates the generator has no credentials
	ErrNoAPIKey = errors.New("ANTHROPIC_API_KEY is not set")

	// ErrEmptyReply indicates the model returned no text
	ErrEmptyReply = errors.New("model returned no text")
)

// Defaults for the Anthropic generator
const (
	DefaultModel     = "claude-3-7-sonnet-20250219"
	DefaultMaxTokens = 4096
)

// Generator turns a prompt into model text
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AnthropicConfig configures AnthropicGenerator
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	// Options are passed to the client after the API key, e.g. a base URL
	Options []option.RequestOption
}

// AnthropicGenerator calls the Anthropic Messages API
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

var _ Generator = (*AnthropicGenerator)(nil)

// NewAnthropicGenerator creates a generator from cfg
func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	return &AnthropicGenerator{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

// Generate sends prompt as a single user message and returns the text
// blocks of the reply joined together.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyReply
	}
	return b.String(), nil
}

// Result is one scaffold run
type Result struct {
	Reply  string // full model reply
	SQL    string // body of the <sql> block
	Found  bool   // whether the reply had a <sql> block
	Script string // SQL rendered with the text/html domain
}

// Scaffolder drives a Generator for application descriptions
type Scaffolder struct {
	gen    Generator
	logger *slog.Logger
}

// New creates a Scaffolder
func New(gen Generator, logger *slog.Logger) *Scaffolder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scaffolder{gen: gen, logger: logger}
}

// Scaffold asks the generator for a script for app. A reply without a
// <sql> block is not an error; Found reports it and Script carries only
// the domain prefix.
func (s *Scaffolder) Scaffold(ctx context.Context, app string) (*Result, error) {
	prompt, err := BuildPrompt(app)
	if err != nil {
		return nil, err
	}

	s.logger.Info("generating sql scaffold", "app", app)
	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	sql, found := ExtractSQL(reply)
	if !found {
		s.logger.Warn("reply contained no <sql> block", "reply_bytes", len(reply))
	}

	return &Result{
		Reply:  reply,
		SQL:    sql,
		Found:  found,
		Script: Render(sql),
	}, nil
}
