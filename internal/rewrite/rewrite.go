// Package rewrite shortens a devotional draft into push-notification copy
// with a chat-completion model.
package rewrite

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"versecast/internal/message"
	logx "versecast/pkg/logx"
)

// ChatClient is the part of *openai.Client the rewriter uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// MaxChars is the upper bound on the rewritten body, counted in runes.
	MaxChars int
	Timeout  time.Duration
	Breaker  BreakerConfig
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 80
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 130
	}
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	return c
}

// Rewriter makes exactly one model call per Rewrite. Retrying is the caller's policy.
type Rewriter struct {
	client  ChatClient
	cfg     Config
	log     logx.Logger
	breaker *breaker
}

func New(client ChatClient, cfg Config, log logx.Logger) *Rewriter {
	cfg = cfg.withDefaults()
	return &Rewriter{
		client:  client,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "rewrite")),
		breaker: newBreaker(cfg.Breaker),
	}
}

// Circuit reports the breaker state. A disabled breaker is always closed.
func (r *Rewriter) Circuit() CircuitState { return r.breaker.state() }

// Rewrite returns d with its body replaced by the model's rewrite. The
// title is never changed. On failure it returns d unchanged and a *Error.
func (r *Rewriter) Rewrite(ctx context.Context, d message.Draft) (message.Draft, error) {
	if ok, until := r.breaker.allow(); !ok {
		return d, &Error{Kind: KindCircuitOpen, Err: fmt.Errorf("open until %s", until.Format(time.RFC3339))}
	}
	out, err := r.call(ctx, d)
	r.breaker.record(err)
	if err != nil {
		return d, err
	}
	return out, nil
}

func (r *Rewriter) call(ctx context.Context, d message.Draft) (message.Draft, *Error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(d)},
		},
	})
	if err != nil {
		return d, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return d, &Error{Kind: KindEmpty, Err: errNoChoices}
	}

	text := Normalize(resp.Choices[0].Message.Content)
	if text == "" {
		return d, &Error{Kind: KindEmpty, Err: errBlank}
	}
	if n := utf8.RuneCountInString(text); n > r.cfg.MaxChars {
		return d, &Error{Kind: KindTooLong, Output: text, Err: tooLong(n, r.cfg.MaxChars)}
	}

	r.log.Debug("rewrite ok",
		logx.String("model", r.cfg.Model),
		logx.Int("chars", utf8.RuneCountInString(text)),
		logx.Int("tokens", resp.Usage.TotalTokens),
		logx.Duration("took", time.Since(start)),
	)
	return d.WithBody(text), nil
}

// NewOpenAIClient builds the chat client. baseURL may point at any
// OpenAI-compatible gateway; empty keeps the default endpoint.
func NewOpenAIClient(apiKey, baseURL string, httpTimeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if u := strings.TrimSpace(baseURL); u != "" {
		cfg.BaseURL = strings.TrimRight(u, "/")
	}
	if httpTimeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: httpTimeout}
	}
	return openai.NewClientWithConfig(cfg)
}
