package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

const timeLayout = "2006-01-02 15:04:05 MST"

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateCertificate(ctx context.Context, data CertificateData) (io.Reader, error) {
	if data.EnvelopeID == "" || len(data.Signers) == 0 {
		return nil, errors.New("certificate requires an envelope and at least one signer")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Certificate of Completion", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(28,
		col.New(12).Add(
			text.New("Document: "+data.Title, props.Text{Top: 0}),
			text.New("Envelope ID: "+data.EnvelopeID, props.Text{Top: 5}),
			text.New("Sent: "+formatTime(data.SentAt), props.Text{Top: 10}),
			text.New("Completed: "+formatTime(data.CompletedAt), props.Text{Top: 15}),
			text.New(fmt.Sprintf("Digest (%s): %s", data.DigestAlgorithm, data.DigestValue), props.Text{Top: 20, Size: 8}),
		),
	)

	m.AddRow(10,
		text.NewCol(12, "Signers", props.Text{Size: 14, Style: fontstyle.Bold, Top: 3}),
	)
	m.AddRow(8,
		text.NewCol(1, "#", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Signer", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Signed at", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Algorithm", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "IP address", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(1, line.NewCol(12))

	for _, signer := range data.Signers {
		m.AddRow(12,
			text.NewCol(1, fmt.Sprintf("%d", signer.Sequence), props.Text{Size: 9}),
			col.New(4).Add(
				text.New(signer.Name, props.Text{Size: 9}),
				text.New(signer.Email, props.Text{Size: 8, Top: 4}),
			),
			text.NewCol(3, formatTime(signer.SignedAt), props.Text{Size: 9}),
			col.New(2).Add(
				text.New(signer.SignatureAlgorithm, props.Text{Size: 9}),
				text.New(signer.KeyID, props.Text{Size: 7, Top: 4}),
			),
			text.NewCol(2, signer.IPAddress, props.Text{Size: 9, Align: align.Right}),
		)
	}

	if len(data.Events) > 0 {
		m.AddRow(10,
			text.NewCol(12, "Audit trail", props.Text{Size: 14, Style: fontstyle.Bold, Top: 3}),
		)
		m.AddRow(1, line.NewCol(12))
		for _, event := range data.Events {
			m.AddRow(6,
				text.NewCol(4, formatTime(event.At), props.Text{Size: 8}),
				text.NewCol(4, event.Type, props.Text{Size: 8}),
				text.NewCol(4, event.Actor, props.Text{Size: 8, Align: align.Right}),
			)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}
