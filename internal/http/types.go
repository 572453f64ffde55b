package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// InvalidateResponse is the response body for the source invalidation
// endpoint.
type InvalidateResponse struct {
	TenantID string `json:"tenant_id"`
	SourceID string `json:"source_id"`
	Reloaded bool   `json:"reloaded"`
}
