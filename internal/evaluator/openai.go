package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sqotel "github.com/timvw/sisqo/internal/otel"
	"github.com/timvw/sisqo/internal/prompt"
)

// OpenAIEvaluator classifies prompts using an OpenAI-compatible Chat
// Completions API. Works with OpenAI, Azure OpenAI, and any
// OpenAI-compatible endpoint.
type OpenAIEvaluator struct {
	client    openai.Client
	model     string
	maxTokens int64
	metrics   *sqotel.Metrics
}

// NewOpenAIEvaluator creates a new OpenAI-compatible evaluator.
func NewOpenAIEvaluator(cfg Config) *OpenAIEvaluator {
	var opts []option.RequestOption

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &OpenAIEvaluator{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.maxTokens(),
		metrics:   cfg.Metrics,
	}
}

// Provider returns "openai".
func (e *OpenAIEvaluator) Provider() string {
	return "openai"
}

// Model returns the model name.
func (e *OpenAIEvaluator) Model() string {
	return e.model
}

// Classify sends the bottom of the login output to an OpenAI-compatible API.
func (e *OpenAIEvaluator) Classify(ctx context.Context, text string) (*prompt.Result, error) {
	msg := userMessage(text)

	ctx, span := evalTracer.Start(ctx, "chat "+e.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", "openai"),
			attribute.String("gen_ai.request.model", e.model),
			attribute.Int64("gen_ai.request.max_tokens", e.maxTokens),
		),
	)
	defer span.End()

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(msg),
		},
		MaxCompletionTokens: openai.Int(e.maxTokens),
	})
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("openai API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("openai API returned empty response")
	}

	rawText := resp.Choices[0].Message.Content
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.id", resp.ID),
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
	)
	if resp.Choices[0].FinishReason != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.Choices[0].FinishReason)}))
	}
	if out, err := json.Marshal([]map[string]string{{"role": "assistant", "content": rawText}}); err == nil {
		span.SetAttributes(attribute.String("gen_ai.output.messages", string(out)))
	}
	e.metrics.RecordTokens(ctx, e.Provider(), e.model,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
		resp.Usage.PromptTokensDetails.CachedTokens, 0)

	res, err := parseVerdict(rawText, e.Provider())
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "parse_error"))
		return nil, err
	}
	span.SetAttributes(attribute.String("sisqo.prompt.kind", string(res.Kind)))
	e.metrics.RecordClassification(ctx, e.Provider())
	return res, nil
}
