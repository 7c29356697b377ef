// Package openai adapts OpenAI-compatible embedding and chat completion
// endpoints to the embedder and answer generator ports.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/infrastructure/llm/prompt"
	"github.com/Autopsias/raglite/internal/infrastructure/resilience"
)

const embedBatchMax = 64

type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	Dimensions     int
}

type Client struct {
	api      *openai.Client
	cfg      Config
	executor *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg, executor: executor}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, batch := range lo.Chunk(texts, embedBatchMax) {
		req := openai.EmbeddingRequest{
			Input:      batch,
			Model:      openai.EmbeddingModel(e.client.cfg.EmbeddingModel),
			Dimensions: e.client.cfg.Dimensions,
		}
		var resp openai.EmbeddingResponse
		err := e.client.run(ctx, "embed", func(ctx context.Context) error {
			var err error
			resp, err = e.client.api.CreateEmbeddings(ctx, req)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("openai embed returned %d vectors for %d inputs", len(resp.Data), len(batch))
		}
		vectors := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, fmt.Errorf("openai embed returned index %d out of range", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		out = append(out, vectors...)
		slog.Debug("openai_embed", "inputs", len(batch), "prompt_tokens", resp.Usage.PromptTokens)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, evidence []domain.EvidenceItem) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.client.cfg.ChatModel,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt.BuildAnswerPrompt(question, evidence)},
		},
	}
	var resp openai.ChatCompletionResponse
	err := g.client.run(ctx, "chat", func(ctx context.Context) error {
		var err error
		resp, err = g.client.api.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := c.executor.Execute(ctx, "openai."+operation, fn, classifyOpenAIError)
	if err == nil {
		return nil
	}
	if wrapped := resilience.WrapTemporary("openai "+operation, err, classifyOpenAIError); wrapped != err {
		return wrapped
	}
	return fmt.Errorf("openai %s: %w", operation, err)
}

// classifyOpenAIError reads the status code off the SDK's error types and
// leaves the rest to the shared transport rules.
func classifyOpenAIError(err error) resilience.ErrorClassification {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status > 0 && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		if resilience.IsRetryableStatus(status) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{}
	}
	return resilience.ClassifyTransport(err, nil)
}
