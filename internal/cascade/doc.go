// Package cascade routes a caller utterance through a tenant's ranked
// knowledge sources.
//
// Sources are tried in ascending priority order. Each source is first
// checked against a cached keyword index; a source whose index shares no
// token with the query is skipped without being queried. Otherwise the
// source is queried through a normalized-query result cache under a hard
// per-source timeout, and the first candidate whose confidence clears the
// source's own threshold wins.
//
// Run never returns an error. A failing source is recorded in the attempt
// trace with zero confidence and the cascade moves on; a tenant whose
// sources cannot be resolved at all gets an ERROR_FALLBACK outcome carrying
// a safe generic response.
//
//	c := cascade.New(provider, registry, cascade.WithLogger(logger))
//	out := c.Run(ctx, cascade.Request{TenantID: "acme_dental", Query: text})
//	if out.Status == cascade.StatusMatched {
//		reply = out.Response
//	}
package cascade
