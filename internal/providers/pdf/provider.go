package pdf

import (
	"bytes"
	"context"
	"io"
)

type Provider interface {
	GenerateReport(ctx context.Context, data ReportData) (io.Reader, error)
}

type ReportData struct {
	ReportNumber string
	ReportType   string
	GeneratedAt  string
	Status       string

	OwnerName  string
	OwnerEmail string

	VehicleMake  string
	VehicleModel string
	VehicleYear  string
	VehiclePlate string
	Mileage      string

	CostCredits string

	Findings []Finding
	Summary  string
}

type Finding struct {
	Title    string
	Severity string
	Detail   string
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReport(ctx context.Context, data ReportData) (io.Reader, error) {
	return bytes.NewReader(nil), nil
}
