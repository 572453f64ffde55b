package cascade

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
)

// Status is the terminal state of a cascade run.
type Status string

const (
	StatusMatched       Status = "MATCHED"
	StatusNoMatch       Status = "NO_MATCH"
	StatusErrorFallback Status = "ERROR_FALLBACK"
)

// AttemptStatus describes what happened to one source.
type AttemptStatus string

const (
	AttemptMatched          AttemptStatus = "matched"
	AttemptBelowThreshold   AttemptStatus = "below_threshold"
	AttemptSkippedPrefilter AttemptStatus = "skipped_prefilter"
	AttemptNotAllowed       AttemptStatus = "not_allowed"
	AttemptError            AttemptStatus = "error"
	AttemptTimeout          AttemptStatus = "timeout"
	AttemptPanic            AttemptStatus = "panic"
)

// DefaultSafeResponse is spoken when the cascade cannot run at all.
const DefaultSafeResponse = "I'm sorry, I didn't quite catch that. Could you say it another way?"

// Candidate is a source's best answer for a query.
type Candidate struct {
	Confidence float64 `json:"confidence"`
	Response   string  `json:"response"`
	// Alternatives are equivalent phrasings of Response. A cached
	// candidate is re-phrased from them on every hit.
	Alternatives []string          `json:"alternatives,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Picker chooses one of several phrasings.
type Picker interface {
	Pick(options []string) string
}

// Source is one queryable knowledge source.
//
// Implementations must honour ctx cancellation; the cascade abandons a
// query once its timeout elapses.
type Source interface {
	// Keywords returns the tokens the pre-filter matches queries against.
	// An empty result means the source can never match.
	Keywords(ctx context.Context) ([]string, error)
	// Query returns the best candidate for query.
	Query(ctx context.Context, query string) (Candidate, error)
}

// Resolver returns a tenant's source descriptors in declaration order.
// governance.CachedProvider satisfies it.
type Resolver interface {
	Sources(ctx context.Context, tenantID string) ([]governance.SourceDescriptor, error)
}

// Request is one cascade invocation.
type Request struct {
	TenantID string
	Query    string
	// Allow, when set, vetoes sources the caller's governance state
	// forbids. Vetoed sources are recorded as not_allowed.
	Allow func(governance.SourceDescriptor) bool
	// Style shapes the winning response; nil leaves it untouched apart
	// from whitespace normalization.
	Style *governance.Style
}

// Attempt is one entry of the attempt trace.
type Attempt struct {
	SourceID   string        `json:"source_id"`
	Priority   int           `json:"priority"`
	Threshold  float64       `json:"threshold"`
	Confidence float64       `json:"confidence"`
	Elapsed    time.Duration `json:"elapsed"`
	Status     AttemptStatus `json:"status"`
	Cached     bool          `json:"cached,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Outcome is the result of Run.
type Outcome struct {
	Status     Status            `json:"status"`
	SourceID   string            `json:"source_id,omitempty"`
	Confidence float64           `json:"confidence"`
	Response   string            `json:"response,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Attempts   []Attempt         `json:"attempts"`
	Elapsed    time.Duration     `json:"elapsed"`
	Error      string            `json:"error,omitempty"`
}

// Matched reports whether a source answered.
func (o Outcome) Matched() bool {
	return o.Status == StatusMatched
}
