package analyzer

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrUnavailable covers transport failures and non-2xx answers from the
	// analysis backend.
	ErrUnavailable = errors.New("analysis_unavailable")
	// ErrTimeout is returned when the backend did not answer within the
	// configured deadline.
	ErrTimeout = errors.New("analysis_timeout")
)

type MediaRef struct {
	Kind string `json:"kind"`
	Path string `json:"-"`
	MIME string `json:"mime_type"`
}

type Request struct {
	ReportID   string     `json:"report_id"`
	ReportType string     `json:"report_type"`
	Make       string     `json:"vehicle_make"`
	Model      string     `json:"vehicle_model"`
	Year       int        `json:"vehicle_year"`
	Plate      string     `json:"vehicle_plate,omitempty"`
	Mileage    int        `json:"mileage,omitempty"`
	Media      []MediaRef `json:"media"`
}

type Result struct {
	// Payload is stored verbatim as the report result document.
	Payload json.RawMessage
}

type Provider interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}
