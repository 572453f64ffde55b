package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/voxgov/internal/cascade"
)

// Scenario is one scripted answer in a scenario pack.
type Scenario struct {
	ID        string   `toml:"id"`
	Keywords  []string `toml:"keywords"`
	Patterns  []string `toml:"patterns"`
	Responses []string `toml:"responses"`
}

// Picker chooses one response template. cascade.StyleProcessor
// implements it with a seedable random source.
type Picker = cascade.Picker

type firstPicker struct{}

func (firstPicker) Pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[0]
}

type compiledScenario struct {
	Scenario
	keywords map[string]struct{}
	patterns []*regexp.Regexp
}

// ScenarioSource matches utterances against scripted scenarios.
//
// Confidence blends a pattern hit with keyword overlap: a pattern hit
// scores 0.7 plus up to 0.3 for keywords, a keyword-only match scores up
// to 0.75. Two distinct keyword hits count as full overlap.
type ScenarioSource struct {
	scenarios []compiledScenario
	picker    Picker
}

// NewScenarioSource validates and compiles scenarios. A nil picker always
// uses the first response template.
func NewScenarioSource(scenarios []Scenario, picker Picker) (*ScenarioSource, error) {
	if picker == nil {
		picker = firstPicker{}
	}
	s := &ScenarioSource{picker: picker}
	seen := map[string]struct{}{}
	for i, sc := range scenarios {
		if sc.ID == "" {
			return nil, fmt.Errorf("%w: scenario %d has no id", ErrInvalidPack, i)
		}
		if _, dup := seen[sc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate scenario id %q", ErrInvalidPack, sc.ID)
		}
		seen[sc.ID] = struct{}{}
		if len(sc.Keywords) == 0 {
			return nil, fmt.Errorf("%w: scenario %q has no keywords", ErrInvalidPack, sc.ID)
		}
		if len(sc.Responses) == 0 {
			return nil, fmt.Errorf("%w: scenario %q has no responses", ErrInvalidPack, sc.ID)
		}
		cs := compiledScenario{Scenario: sc, keywords: map[string]struct{}{}}
		for _, kw := range sc.Keywords {
			for _, tok := range tokens(kw) {
				cs.keywords[tok] = struct{}{}
			}
		}
		for _, p := range sc.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("%w: scenario %q: %v", ErrMalformedPattern, sc.ID, err)
			}
			cs.patterns = append(cs.patterns, re)
		}
		s.scenarios = append(s.scenarios, cs)
	}
	return s, nil
}

// Keywords returns every scenario keyword.
func (s *ScenarioSource) Keywords(context.Context) ([]string, error) {
	var out []string
	for _, sc := range s.scenarios {
		out = append(out, sc.Keywords...)
	}
	return out, nil
}

// Query returns the highest scoring scenario. Ties keep declaration order.
func (s *ScenarioSource) Query(ctx context.Context, query string) (cascade.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return cascade.Candidate{}, err
	}
	qTokens := tokens(query)

	var (
		best      *compiledScenario
		bestScore float64
		bestHow   string
	)
	for i := range s.scenarios {
		sc := &s.scenarios[i]
		score, how := sc.score(query, qTokens)
		if score > bestScore {
			best, bestScore, bestHow = sc, score, how
		}
	}
	if best == nil {
		return cascade.Candidate{}, nil
	}
	cand := cascade.Candidate{
		Confidence: bestScore,
		Response:   s.picker.Pick(best.Responses),
		Metadata:   map[string]string{"scenario_id": best.ID, "match": bestHow},
	}
	if len(best.Responses) > 1 {
		cand.Alternatives = best.Responses
	}
	return cand, nil
}

func (sc *compiledScenario) score(query string, qTokens []string) (float64, string) {
	hits := map[string]struct{}{}
	for _, tok := range qTokens {
		if _, ok := sc.keywords[tok]; ok {
			hits[tok] = struct{}{}
		}
	}
	overlap := float64(len(hits)) / 2
	if overlap > 1 {
		overlap = 1
	}
	for _, re := range sc.patterns {
		if re.MatchString(query) {
			return 0.7 + 0.3*overlap, "pattern"
		}
	}
	if overlap == 0 {
		return 0, ""
	}
	return 0.75 * overlap, "keywords"
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
