// Package redact scrubs call transcripts before they are archived.
//
// Two passes run over every string: the gitleaks rule set catches
// credentials a caller might read out (API keys, tokens), then PII
// patterns mask phone numbers, card numbers, emails and SSNs. Matches of
// the tenant-wide allowlist, such as the business's own phone number, are
// kept verbatim.
package redact

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fyrsmithlabs/voxgov/internal/config"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Kinds of findings.
const (
	KindSecret = "secret"
	KindPII    = "pii"
)

// Finding is one redacted span.
type Finding struct {
	Kind string `json:"kind"`
	Rule string `json:"rule"`
}

// Result is redacted text plus what was removed.
type Result struct {
	Text     string    `json:"text"`
	Findings []Finding `json:"findings,omitempty"`
}

type piiRule struct {
	name string
	re   *regexp.Regexp
}

// Order matters: cards are tried before phones so a 16 digit card is not
// reported as a phone number.
var piiRules = []piiRule{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"card", regexp.MustCompile(`\b\d(?:[ -]?\d){12,15}\b`)},
	{"phone", regexp.MustCompile(`\+?\(?\d[\d\s().-]{8,}\d`)},
}

// Allowlist holds content patterns that are never redacted.
type Allowlist struct {
	Regexes []string `toml:"regexes"`
}

// LoadAllowlist reads an allowlist TOML file:
//
//	[allowlist]
//	regexes = ['\+1 \(415\) 555-0100']
//
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	var doc struct {
		Allowlist Allowlist `toml:"allowlist"`
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &Allowlist{}, nil
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, p := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: invalid content pattern '%s' in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}
	return &doc.Allowlist, nil
}

// Redactor redacts strings. It is safe for concurrent use.
type Redactor struct {
	enabled bool
	allow   []*regexp.Regexp

	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Redactor from the daemon's redaction section.
func New(cfg config.RedactionConfig) (*Redactor, error) {
	if !cfg.Enabled {
		return &Redactor{}, nil
	}
	al, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	return NewWithAllowlist(al)
}

// NewWithAllowlist builds an enabled Redactor.
func NewWithAllowlist(al *Allowlist) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	r := &Redactor{enabled: true, detector: detector}
	if al != nil && len(al.Regexes) > 0 {
		global := &gitleaksConfig.Allowlist{Description: "voxgov transcript allowlist"}
		for _, p := range al.Regexes {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, p, err)
			}
			r.allow = append(r.allow, re)
			global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, global)
	}
	return r, nil
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled
}

// Text redacts one string.
func (r *Redactor) Text(s string) Result {
	if !r.Enabled() || s == "" {
		return Result{Text: s}
	}
	res := Result{Text: s}

	for _, f := range r.detectSecrets(s) {
		if f.Secret == "" || r.allowed(f.Secret) {
			continue
		}
		res.Text = strings.ReplaceAll(res.Text, f.Secret, "[REDACTED:"+f.RuleID+"]")
		res.Findings = append(res.Findings, Finding{Kind: KindSecret, Rule: f.RuleID})
	}

	for _, rule := range piiRules {
		res.Text = rule.re.ReplaceAllStringFunc(res.Text, func(m string) string {
			if r.allowed(m) {
				return m
			}
			res.Findings = append(res.Findings, Finding{Kind: KindPII, Rule: rule.name})
			return "[REDACTED:" + rule.name + "]"
		})
	}
	return res
}

// Value redacts strings inside fact values; other scalars pass through.
func (r *Redactor) Value(v any) any {
	if s, ok := v.(string); ok {
		return r.Text(s).Text
	}
	return v
}

// Summary counts findings per rule.
func Summary(findings []Finding) map[string]int {
	out := make(map[string]int, len(findings))
	for _, f := range findings {
		out[f.Rule]++
	}
	return out
}

// Rules lists the rules that fired, sorted.
func Rules(findings []Finding) []string {
	seen := Summary(findings)
	out := make([]string, 0, len(seen))
	for rule := range seen {
		out = append(out, rule)
	}
	sort.Strings(out)
	return out
}

func (r *Redactor) detectSecrets(s string) []reportFinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := r.detector.DetectString(s)
	out := make([]reportFinding, 0, len(found))
	for _, f := range found {
		out = append(out, reportFinding{RuleID: f.RuleID, Secret: f.Secret})
	}
	return out
}

type reportFinding struct {
	RuleID string
	Secret string
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
