package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/dhintech/translate-gateway/internal/config"
	"github.com/dhintech/translate-gateway/internal/observability"
	"github.com/dhintech/translate-gateway/internal/resilience"
)

// OpenAI calls a chat-completion endpoint for translation and language
// detection. Calls are wrapped in a circuit breaker and bounded retry.
type OpenAI struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	retryConfig *resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	logger      zerolog.Logger
}

// NewOpenAI builds an engine client from config. The base URL may point at
// any OpenAI-compatible inference service.
func NewOpenAI(cfg *config.Config) (*OpenAI, error) {
	if cfg.EngineAPIKey == "" {
		return nil, fmt.Errorf("engine API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.EngineAPIKey)}
	if cfg.EngineBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.EngineBaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAI{
		client:  &client,
		model:   cfg.EngineModel,
		timeout: cfg.EngineCallTimeout(),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.EngineMaxAttempts,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		breaker: resilience.NewCircuitBreaker(
			"translation-engine",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.WithComponent("engine"),
	}, nil
}

// Translate implements Engine.
func (o *OpenAI) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	system := fmt.Sprintf(
		"You are a translation engine. Translate the user's text from %s to %s. "+
			"Reply with the translation only, no explanations.",
		langOrAuto(srcLang), tgtLang,
	)

	out, err := o.complete(ctx, system, text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DetectLanguage implements Engine.
func (o *OpenAI) DetectLanguage(ctx context.Context, text string) (string, error) {
	system := "Identify the language of the user's text. " +
		"Reply with the ISO 639-1 code only, for example: en"

	out, err := o.complete(ctx, system, text)
	if err != nil {
		return LangUnknown, err
	}

	code := strings.ToLower(strings.TrimSpace(out))
	if len(code) < 2 || len(code) > 5 {
		o.logger.Warn().Str("reply", out).Msg("Unparseable language detection reply")
		return LangUnknown, nil
	}
	return code, nil
}

// complete runs one chat completion with retry and circuit breaking. Each
// attempt gets its own deadline so a slow attempt cannot consume the whole
// retry budget.
func (o *OpenAI) complete(ctx context.Context, system, user string) (string, error) {
	var result string

	err := o.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()

			start := time.Now()
			resp, err := o.client.Chat.Completions.New(attemptCtx, openai.ChatCompletionNewParams{
				Model: o.model,
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(system),
					openai.UserMessage(user),
				},
				Temperature: openai.Float(0),
			})
			observability.RecordEngineLatency(time.Since(start))
			if err != nil {
				if attemptCtx.Err() != nil && ctx.Err() == nil {
					return ErrTimeout
				}
				return fmt.Errorf("%w: %v", ErrModel, err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("%w: empty response", ErrModel)
			}
			result = resp.Choices[0].Message.Content
			return nil
		}, o.retryConfig, isRetryable)
	})

	observability.UpdateCircuitBreakerState("translation-engine", int(o.breaker.GetState()))
	if err != nil {
		observability.RecordError("engine_call", "engine")
		return "", err
	}
	return result, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func langOrAuto(lang string) string {
	if lang == "" || lang == LangUnknown {
		return "the detected source language"
	}
	return lang
}
