package analyzer

import (
	"context"
	"encoding/json"
)

// NoOpProvider answers with a canned result. Used in development when no
// analysis backend is configured.
type NoOpProvider struct{}

func (p *NoOpProvider) Analyze(ctx context.Context, req Request) (Result, error) {
	payload, _ := json.Marshal(map[string]any{
		"report_type": req.ReportType,
		"summary":     "Simulated analysis result.",
		"score":       100,
		"findings":    []any{},
	})
	return Result{Payload: payload}, nil
}
