package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/voice-chat/internal/config"
	"github.com/lexiqai/voice-chat/internal/observability"
	"github.com/lexiqai/voice-chat/internal/resilience"
)

// OpenAIProvider streams chat completions from the OpenAI API. Model, temperature
// and token limit come from server configuration only.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int

	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// NewOpenAIProvider creates a provider from configuration.
func NewOpenAIProvider(cfg *config.Config, logger zerolog.Logger) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}

	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = cfg.RetryMaxAttempts
	retryConfig.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.CompletionModel,
		temperature: cfg.CompletionTemperature,
		maxTokens:   cfg.CompletionMaxTokens,
		circuitBreaker: resilience.NewCircuitBreaker(
			"openai",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		retryConfig: retryConfig,
		logger:      logger.With().Str("component", "openai").Logger(),
	}
}

// Stream opens a chat completion stream. Opening is retried on transient
// failures; once tokens flow nothing is retried.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toOpenAIMessages(req.Conversation()),
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Stream:      true,
	}

	var stream *openai.ChatCompletionStream
	err := resilience.RetryContext(ctx, func() error {
		return p.circuitBreaker.Call(func() error {
			s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
			if err != nil {
				return err
			}
			stream = s
			return nil
		})
	}, p.retryConfig, isRetryableOpenAIError)

	name := p.circuitBreaker.Name()
	observability.UpdateCircuitBreakerState(name, int(p.circuitBreaker.GetState()))
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(name)
		}
		p.logger.Warn().Err(err).Int("messages", len(chatReq.Messages)).Msg("Failed to open completion stream")
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	return &openAIStream{stream: stream, breaker: p.circuitBreaker, logger: p.logger}, nil
}

// Check reports readiness: the provider is not ready while its breaker is open.
// The error carries the breaker's failure statistics.
func (p *OpenAIProvider) Check(_ context.Context) (bool, error) {
	state, requests, failures, rate := p.circuitBreaker.GetStats()
	if state == resilience.StateOpen {
		return false, fmt.Errorf("%w: %s failed %d of %d requests (%.1f%%)",
			resilience.ErrCircuitOpen, p.circuitBreaker.Name(), failures, requests, rate)
	}
	return true, nil
}

type openAIStream struct {
	stream  *openai.ChatCompletionStream
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// Recv skips chunks without content such as the initial role delta. A stream
// that breaks off counts against the breaker; a cancelled one does not.
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			if !errors.Is(err, context.Canceled) {
				s.breaker.RecordResult(false)
				observability.UpdateCircuitBreakerState(s.breaker.Name(), int(s.breaker.GetState()))
				observability.IncrementCircuitBreakerFailures(s.breaker.Name())
				s.logger.Warn().Err(err).Msg("Completion stream broke off")
			}
			return "", fmt.Errorf("receive completion chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *openAIStream) Close() {
	s.stream.Close()
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// isRetryableOpenAIError retries rate limiting, upstream 5xx and network errors.
func isRetryableOpenAIError(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return resilience.IsRetryableNetworkError(err)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
