package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sqotel "github.com/timvw/sisqo/internal/otel"
	"github.com/timvw/sisqo/internal/prompt"
)

// AnthropicEvaluator classifies prompts using the Anthropic Messages API.
// Works with both direct Anthropic API and Azure AI Foundry.
type AnthropicEvaluator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	metrics   *sqotel.Metrics
}

// NewAnthropicEvaluator creates a new Anthropic evaluator.
func NewAnthropicEvaluator(cfg Config) *AnthropicEvaluator {
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

	return &AnthropicEvaluator{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.maxTokens(),
		metrics:   cfg.Metrics,
	}
}

// Provider returns "anthropic".
func (e *AnthropicEvaluator) Provider() string {
	return "anthropic"
}

// Model returns the model name.
func (e *AnthropicEvaluator) Model() string {
	return e.model
}

// Classify sends the bottom of the login output to the Anthropic API.
func (e *AnthropicEvaluator) Classify(ctx context.Context, text string) (*prompt.Result, error) {
	msg := userMessage(text)

	// GenAI semantic conventions: span name is "{operation} {model}".
	ctx, span := evalTracer.Start(ctx, "chat "+e.model,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", "anthropic"),
			attribute.String("gen_ai.request.model", e.model),
			attribute.Int64("gen_ai.request.max_tokens", e.maxTokens),
		),
	)
	defer span.End()

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg),
			),
		},
	})
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}
	if len(resp.Content) == 0 {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("anthropic API returned empty response")
	}

	rawText := resp.Content[0].Text
	span.SetAttributes(
		attribute.String("gen_ai.response.model", string(resp.Model)),
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	if string(resp.StopReason) != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.StopReason)}))
	}
	if out, err := json.Marshal([]map[string]string{{"role": "assistant", "content": rawText}}); err == nil {
		span.SetAttributes(attribute.String("gen_ai.output.messages", string(out)))
	}
	e.metrics.RecordTokens(ctx, e.Provider(), e.model,
		resp.Usage.InputTokens, resp.Usage.OutputTokens,
		resp.Usage.CacheReadInputTokens, resp.Usage.CacheCreationInputTokens)

	res, err := parseVerdict(rawText, e.Provider())
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "parse_error"))
		return nil, err
	}
	span.SetAttributes(attribute.String("sisqo.prompt.kind", string(res.Kind)))
	e.metrics.RecordClassification(ctx, e.Provider())
	return res, nil
}
