// Package interpreter wraps the last-resort language model that answers a
// turn when no scenario, booking step or knowledge source could.
//
// The model is only ever asked for the words to say next. It never writes
// facts; whatever it returns is treated as untrusted response text.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/voxgov/internal/config"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

var (
	// ErrEmptyReply indicates the model produced no usable text.
	ErrEmptyReply = errors.New("interpreter returned an empty reply")

	// ErrRetriesExhausted wraps the last error after every attempt failed.
	ErrRetriesExhausted = errors.New("interpreter retries exhausted")
)

// Interpreter produces a reply for input given the conversation so far.
type Interpreter interface {
	Interpret(ctx context.Context, window session.ContextWindow, input string) (string, error)
}

const instruction = `You are the voice receptionist for a small business, speaking on a live phone call.
Reply with only the exact words to say next to the caller. No labels, no quotes, no stage directions.
Keep it to at most %d short sentences. Never invent prices, times, policies or appointments.
If you are unsure, ask one short clarifying question.`

// Options tunes an LLMInterpreter.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	RateLimit    float64
	Burst        int
	MaxSentences int
	MaxTokens    int
	Temperature  float64
}

// OptionsFrom converts the daemon's interpreter section.
func OptionsFrom(cfg config.InterpreterConfig) Options {
	return Options{
		Timeout:      cfg.Timeout.Duration(),
		MaxRetries:   cfg.MaxRetries,
		BaseBackoff:  50 * time.Millisecond,
		MaxBackoff:   cfg.MaxBackoff.Duration(),
		RateLimit:    cfg.RateLimit,
		Burst:        cfg.Burst,
		MaxSentences: 2,
		MaxTokens:    120,
		Temperature:  0.2,
	}
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 1500 * time.Millisecond
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 50 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 400 * time.Millisecond
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.MaxSentences <= 0 {
		o.MaxSentences = 2
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 120
	}
}

// LLMInterpreter calls a langchaingo model with a strict reply-only
// instruction, a hard timeout, a shared rate limit and capped exponential
// backoff between a fixed number of attempts.
type LLMInterpreter struct {
	model   llms.Model
	opts    Options
	limiter *rate.Limiter
	logger  *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewLLMInterpreter wraps model. A zero RateLimit disables rate limiting.
func NewLLMInterpreter(model llms.Model, opts Options, logger *logging.Logger) *LLMInterpreter {
	opts.applyDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &LLMInterpreter{
		model:   model,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger.Named("interpreter"),
		sleep:   sleepCtx,
	}
}

// Interpret implements Interpreter.
func (i *LLMInterpreter) Interpret(ctx context.Context, window session.ContextWindow, input string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	if err := i.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	msgs := i.messages(window, input)
	var lastErr error
	for attempt := 0; attempt <= i.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := i.sleep(ctx, i.backoff(attempt)); err != nil {
				return "", err
			}
		}
		reply, err := i.generate(ctx, msgs)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		i.logger.Debug(ctx, "interpreter attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, i.opts.MaxRetries+1, lastErr)
}

func (i *LLMInterpreter) backoff(attempt int) time.Duration {
	d := i.opts.BaseBackoff << (attempt - 1)
	if d > i.opts.MaxBackoff || d <= 0 {
		d = i.opts.MaxBackoff
	}
	return d
}

func (i *LLMInterpreter) generate(ctx context.Context, msgs []llms.MessageContent) (string, error) {
	resp, err := i.model.GenerateContent(ctx, msgs,
		llms.WithMaxTokens(i.opts.MaxTokens),
		llms.WithTemperature(i.opts.Temperature),
	)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply := CleanReply(resp.Choices[0].Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func (i *LLMInterpreter) messages(w session.ContextWindow, input string) []llms.MessageContent {
	var sys strings.Builder
	fmt.Fprintf(&sys, instruction, i.opts.MaxSentences)
	fmt.Fprintf(&sys, "\nConversation phase: %s.", w.Phase)
	if len(w.Facts) > 0 {
		keys := make([]string, 0, len(w.Facts))
		for k := range w.Facts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sys.WriteString("\nKnown about the caller:")
		for _, k := range keys {
			fmt.Fprintf(&sys, "\n- %s: %v", k, w.Facts[k])
		}
	}
	if len(w.MissingRequired) > 0 {
		fmt.Fprintf(&sys, "\nStill needed from the caller: %s.", strings.Join(w.MissingRequired, ", "))
	}

	msgs := []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeSystem, sys.String())}
	for _, e := range w.Entries {
		if e.Text == "" {
			continue
		}
		role := schema.ChatMessageTypeHuman
		if e.Role == session.RoleAgent {
			role = schema.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, e.Text))
	}
	return append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, input))
}

var replyPrefixes = []string{"agent:", "receptionist:", "assistant:", "ai:"}

// CleanReply strips speaker labels, wrapping quotes and extra whitespace.
func CleanReply(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range replyPrefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	s = strings.Trim(s, "\"“”")
	return strings.Join(strings.Fields(s), " ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
