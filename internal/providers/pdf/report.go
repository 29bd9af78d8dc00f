package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateReport(ctx context.Context, data ReportData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(15,
		text.NewCol(8, "Mivvo Expertiz", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Vehicle Inspection Report", props.Text{
			Size:  10,
			Align: align.Right,
			Top:   6,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Report number: "+data.ReportNumber, props.Text{Top: 0}),
			text.New("Report type: "+data.ReportType, props.Text{Top: 4}),
			text.New("Generated: "+data.GeneratedAt, props.Text{Top: 8}),
			text.New("Status: "+data.Status, props.Text{Top: 12}),
		),
		col.New(6).Add(
			text.New("Prepared for", props.Text{Style: fontstyle.Bold}),
			text.New(data.OwnerName, props.Text{Top: 5}),
			text.New(data.OwnerEmail, props.Text{Top: 9}),
		),
	)

	m.AddRow(10,
		text.NewCol(12, "Vehicle", props.Text{
			Size:  12,
			Style: fontstyle.Bold,
		}),
	)
	m.AddRow(20,
		col.New(6).Add(
			text.New("Make: "+data.VehicleMake, props.Text{Top: 0}),
			text.New("Model: "+data.VehicleModel, props.Text{Top: 4}),
			text.New("Year: "+data.VehicleYear, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Plate: "+data.VehiclePlate, props.Text{Top: 0}),
			text.New("Mileage: "+data.Mileage, props.Text{Top: 4}),
			text.New("Cost: "+data.CostCredits+" credits", props.Text{Top: 8}),
		),
	)

	if data.Summary != "" {
		m.AddRow(10,
			text.NewCol(12, "Summary", props.Text{
				Size:  12,
				Style: fontstyle.Bold,
			}),
		)
		m.AddRow(20,
			text.NewCol(12, data.Summary, props.Text{Size: 9}),
		)
	}

	if len(data.Findings) > 0 {
		m.AddRow(10,
			text.NewCol(6, "Finding", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(2, "Severity", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(4, "Detail", props.Text{Style: fontstyle.Bold, Size: 9}),
		)
		for _, finding := range data.Findings {
			m.AddRow(12,
				text.NewCol(6, finding.Title, props.Text{Size: 9}),
				text.NewCol(2, finding.Severity, props.Text{Size: 9}),
				text.NewCol(4, finding.Detail, props.Text{Size: 9}),
			)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
