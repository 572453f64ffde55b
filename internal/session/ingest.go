package session

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
)

// DefaultConfidence is the confidence assumed for a source when an
// upstream payload omits it or sends something unusable.
var DefaultConfidence = map[FactSource]float64{
	SourceConfirmed:      1.0,
	SourceExternalID:     0.95,
	SourceBooking:        0.9,
	SourceSelfIdentified: 0.8,
	SourceExtracted:      0.6,
	SourceTriage:         0.5,
}

// IngestReport lists what IngestFacts committed and refused.
type IngestReport struct {
	Committed []string                `json:"committed"`
	Rejected  map[string]RejectReason `json:"rejected,omitempty"`
}

// IngestFacts maps an arbitrary upstream extraction payload onto governed
// facts, committing on behalf of handler. Each entry is either a bare
// scalar (source "extracted") or an object {value, confidence, source}.
//
// The boundary fails closed: unknown sources, nested structures and
// non-finite numbers are rejected per entry. A missing or non-numeric
// confidence falls back to DefaultConfidence for the source; a numeric one
// outside [0,1] is clamped. Keys are processed in sorted order.
func (s *Session) IngestFacts(handler governance.Handler, payload map[string]any) IngestReport {
	rep := IngestReport{Committed: []string{}, Rejected: map[string]RejectReason{}}

	ids := make([]string, 0, len(payload))
	for id := range payload {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		value, source, conf, reason := normalizeEntry(payload[id])
		if reason != "" {
			rep.Rejected[id] = reason
			continue
		}
		res := s.CommitFactAs(handler, id, value, source, conf)
		if !res.Success {
			rep.Rejected[id] = res.Reason
			continue
		}
		rep.Committed = append(rep.Committed, id)
	}
	return rep
}

func normalizeEntry(raw any) (value any, source FactSource, conf float64, reason RejectReason) {
	source = SourceExtracted
	obj, isObj := raw.(map[string]any)
	if !isObj {
		value = raw
	} else {
		var ok bool
		if value, ok = obj["value"]; !ok {
			return nil, "", 0, RejectUnsupportedValue
		}
		if src, ok := obj["source"]; ok {
			str, isStr := src.(string)
			if !isStr || !FactSource(str).Valid() {
				return nil, "", 0, RejectInvalidSource
			}
			source = FactSource(str)
		}
	}

	value, ok := scalar(value)
	if !ok || value == nil {
		return nil, "", 0, RejectUnsupportedValue
	}

	conf = DefaultConfidence[source]
	if isObj {
		if c, ok := number(obj["confidence"]); ok {
			conf = math.Max(0, math.Min(1, c))
		}
	}
	return value, source, conf, ""
}

// scalar normalizes decoded JSON scalars. json.Number becomes float64.
func scalar(v any) (any, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case string, bool, int, int64, nil:
		return x, true
	}
	return nil, false
}

func number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(x, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
