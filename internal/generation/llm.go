package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/clinicpulse/internal/config"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

const defaultHTTPTimeout = 60 * time.Second

// Model is the part of a langchaingo model the adapter uses.
type Model interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LLMConfig tunes the adapter.
type LLMConfig struct {
	Temperature   float64
	MaxTokens     int
	MaxRetries    int
	RetryBackoff  time.Duration
	HistoryTokens int
	MaxToolRounds int

	// CriticStages run on the critic model.
	CriticStages map[string]bool
}

// LLM drives a chat model through the JSON reply protocol, running
// requested tools between rounds.
type LLM struct {
	worker  Model
	critic  Model
	counter *TokenCounter
	limiter *rate.Limiter
	cfg     LLMConfig
	logger  *logging.Logger
}

var _ Generator = (*LLM)(nil)

// NewLLM builds the adapter from explicit models. A nil critic reuses the
// worker.
func NewLLM(worker, critic Model, counter *TokenCounter, limiter *rate.Limiter, cfg LLMConfig, logger *logging.Logger) *LLM {
	if critic == nil {
		critic = worker
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.MaxToolRounds < 1 {
		cfg.MaxToolRounds = 1
	}
	return &LLM{
		worker:  worker,
		critic:  critic,
		counter: counter,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.Named("generation"),
	}
}

// NewOpenAI builds the adapter against an OpenAI-compatible endpoint.
// Requests go through an otelhttp transport.
func NewOpenAI(gc config.GenerationConfig, criticStages []string, logger *logging.Logger) (*LLM, error) {
	httpClient := &http.Client{
		Timeout:   defaultHTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	build := func(model string) (Model, error) {
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithHTTPClient(httpClient),
		}
		token := gc.APIKey.Value()
		if token == "" {
			// langchaingo requires a token; local endpoints ignore it
			token = "unused"
		}
		opts = append(opts, openai.WithToken(token))
		if gc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(gc.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client for %s: %w", model, err)
		}
		return llm, nil
	}

	worker, err := build(gc.WorkerModel)
	if err != nil {
		return nil, err
	}
	critic := worker
	if gc.CriticModel != "" && gc.CriticModel != gc.WorkerModel {
		if critic, err = build(gc.CriticModel); err != nil {
			return nil, err
		}
	}

	counter, err := NewTokenCounter(gc.WorkerModel)
	if err != nil {
		return nil, fmt.Errorf("create token counter: %w", err)
	}

	stages := make(map[string]bool, len(criticStages))
	for _, s := range criticStages {
		stages[s] = true
	}

	limiter := rate.NewLimiter(rate.Limit(gc.RequestsPerMinute/60.0), gc.Burst)
	if logger != nil {
		logger.Info(context.Background(), "openai generation configured",
			zap.String("worker_model", gc.WorkerModel),
			zap.String("critic_model", gc.CriticModel),
			zap.String("base_url", gc.BaseURL),
			logging.Secret("api_key", gc.APIKey),
		)
	}
	return NewLLM(worker, critic, counter, limiter, LLMConfig{
		Temperature:   gc.Temperature,
		MaxTokens:     gc.MaxTokens,
		MaxRetries:    gc.MaxRetries,
		RetryBackoff:  gc.RetryBackoff.Duration(),
		HistoryTokens: gc.HistoryTokens,
		MaxToolRounds: gc.MaxToolRounds,
		CriticStages:  stages,
	}, logger), nil
}

// Generate runs up to MaxToolRounds model calls. Each round either
// requests tools, whose results feed the next round, or answers.
func (l *LLM) Generate(ctx context.Context, req Request) (Response, error) {
	model := l.worker
	if l.cfg.CriticStages[req.Stage] {
		model = l.critic
	}

	messages := l.buildMessages(req)
	var calls []tools.Result

	for round := 1; round <= l.cfg.MaxToolRounds; round++ {
		content, err := l.complete(ctx, model, messages)
		if err != nil {
			return Response{ToolCalls: calls}, err
		}

		r := parseReply(content)
		if len(r.ToolCalls) == 0 || req.Tools == nil {
			return Response{
				Value:     r.value(),
				Pause:     r.Pause,
				Reply:     r.Reply,
				ToolCalls: calls,
			}, nil
		}

		results := make([]tools.Result, 0, len(r.ToolCalls))
		for _, tc := range r.ToolCalls {
			results = append(results, req.Tools.Call(ctx, tc.Name, tc.Arguments))
		}
		calls = append(calls, results...)
		l.logger.Debug(ctx, "tool round complete", zap.Int("round", round), zap.Int("calls", len(results)))

		messages = append(messages,
			llms.TextParts(schema.ChatMessageTypeAI, content),
			llms.TextParts(schema.ChatMessageTypeHuman, toolResultsMessage(results)),
		)
	}

	return Response{ToolCalls: calls}, fmt.Errorf("%w: %d", ErrToolRoundsExceeded, l.cfg.MaxToolRounds)
}

func (l *LLM) buildMessages(req Request) []llms.MessageContent {
	msgs := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt(req)),
	}
	for _, turn := range TrimHistory(req.History, l.cfg.HistoryTokens, l.counter) {
		msgs = append(msgs,
			llms.TextParts(schema.ChatMessageTypeHuman, turn.Message),
			llms.TextParts(schema.ChatMessageTypeAI, turn.Response),
		)
	}
	return append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, req.Message))
}

// complete makes one model call with rate limiting and exponential
// backoff. Context errors are never retried.
func (l *LLM) complete(ctx context.Context, model Model, messages []llms.MessageContent) (string, error) {
	var opts []llms.CallOption
	if l.cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(l.cfg.Temperature))
	}
	if l.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(l.cfg.MaxTokens))
	}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := l.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}

		resp, err := model.GenerateContent(ctx, messages, opts...)
		if err == nil {
			if resp == nil || len(resp.Choices) == 0 {
				return "", ErrEmptyResponse
			}
			return resp.Choices[0].Content, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		lastErr = err
		l.logger.Warn(ctx, "model call failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}
