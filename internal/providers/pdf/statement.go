package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is one affiliate's share of one paid run. All fields
// arrive formatted for display.
type StatementData struct {
	ShopName   string
	ShopDomain string

	AffiliateName   string
	AffiliateEmail  string
	AffiliateNumber string
	PayoutMethod    string
	PayoutReference string

	StatementNumber string
	PeriodStart     string
	PeriodEnd       string
	PaidAt          string
	Provider        string
	BatchReference  string

	Lines []StatementLine

	TotalPaid string
}

type StatementLine struct {
	Description string
	Date        string
	Amount      string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Payout statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	settled := data.Provider
	if data.BatchReference != "" {
		settled += " (" + data.BatchReference + ")"
	}

	// Statement meta
	m.AddRow(22,
		col.New(7).Add(
			text.New("Statement number: "+data.StatementNumber, props.Text{Top: 0}),
			text.New("Period: "+data.PeriodStart+" to "+data.PeriodEnd, props.Text{Top: 4}),
			text.New("Date paid: "+data.PaidAt, props.Text{Top: 8}),
			text.New("Settled via: "+settled, props.Text{Top: 12}),
		),
		col.New(5),
	)

	payTo := data.PayoutMethod
	if data.PayoutReference != "" {
		payTo += ": " + data.PayoutReference
	}

	// Parties
	m.AddRow(34,
		col.New(6).Add(
			text.New(data.ShopName, props.Text{Style: fontstyle.Bold}),
			text.New(data.ShopDomain, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Pay to", props.Text{Style: fontstyle.Bold}),
			text.New(data.AffiliateName+" (#"+data.AffiliateNumber+")", props.Text{Top: 5}),
			text.New(data.AffiliateEmail, props.Text{Top: 9}),
			text.New(payTo, props.Text{Top: 13}),
		),
	)

	m.AddRow(14,
		text.NewCol(12, "Total paid: "+data.TotalPaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   4,
		}),
	)

	// Table header
	m.AddRow(10,
		text.NewCol(6, "Commission", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Date", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, line := range data.Lines {
		m.AddRow(8,
			text.NewCol(6, line.Description, props.Text{Size: 9}),
			text.NewCol(3, line.Date, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, line.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	// Footer totals
	m.AddRow(10,
		text.NewCol(6, fmt.Sprintf("%d commissions", len(data.Lines)), props.Text{Size: 9, Top: 2}),
		text.NewCol(3, "Total", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 2}),
		text.NewCol(3, data.TotalPaid, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 2}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
