package cascade

import (
	"context"
	"math/rand"
	"regexp"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
)

// PostProcessor rewrites a winning response before it is returned.
type PostProcessor interface {
	Process(ctx context.Context, req Request, response string) string
}

// PostProcessorFunc adapts a function to PostProcessor.
type PostProcessorFunc func(ctx context.Context, req Request, response string) string

func (f PostProcessorFunc) Process(ctx context.Context, req Request, response string) string {
	return f(ctx, req, response)
}

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)`)
)

// StyleProcessor adapts text responses for speech: it normalizes
// whitespace, caps the sentence count and sometimes prefixes a short
// acknowledgement. Randomness comes from the injected source so tests can
// seed it.
type StyleProcessor struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewStyleProcessor uses rng for acknowledgement selection. A nil rng
// disables acknowledgements.
func NewStyleProcessor(rng *rand.Rand) *StyleProcessor {
	return &StyleProcessor{rng: rng}
}

// Process implements PostProcessor using req.Style.
func (p *StyleProcessor) Process(_ context.Context, req Request, response string) string {
	if req.Style == nil {
		return strings.TrimSpace(spaceRun.ReplaceAllString(response, " "))
	}
	return p.Apply(*req.Style, response)
}

// Apply shapes text according to style.
func (p *StyleProcessor) Apply(style governance.Style, text string) string {
	text = strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
	if text == "" {
		return text
	}
	if style.MaxSentences > 0 {
		text = truncateSentences(text, style.MaxSentences)
	}
	if ack := p.pickAck(style); ack != "" && !startsWithAny(text, style.Acknowledgments) {
		text = ack + " " + text
	}
	return text
}

// Pick returns one of options chosen with the injected source, or the
// first option when no source is configured.
func (p *StyleProcessor) Pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	if p == nil || p.rng == nil {
		return options[0]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return options[p.rng.Intn(len(options))]
}

func (p *StyleProcessor) pickAck(style governance.Style) string {
	if p.rng == nil || style.AckRate <= 0 || len(style.Acknowledgments) == 0 {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng.Float64() >= style.AckRate {
		return ""
	}
	return style.Acknowledgments[p.rng.Intn(len(style.Acknowledgments))]
}

func truncateSentences(text string, limit int) string {
	ends := sentenceEnd.FindAllStringIndex(text, -1)
	if len(ends) < limit {
		return text
	}
	cut := ends[limit-1][1]
	if cut >= len(text) {
		return text
	}
	return strings.TrimSpace(text[:cut])
}

func startsWithAny(text string, prefixes []string) bool {
	lower := strings.ToLower(text)
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimRight(p, ".!,"))
		if p != "" && strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
