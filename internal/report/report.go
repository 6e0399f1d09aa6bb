// Package report renders monthly attendance reports as PDF documents.
package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/BTreeMap/CareLedger/internal/ledger"
)

// Renderer builds the PDF handed to Pro users on request.
type Renderer struct{}

// NewRenderer creates a report renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderMonthly produces a one-page summary of the month plus the recent
// daily marks.
func (r *Renderer) RenderMonthly(sum ledger.Summary, days []ledger.DayMark) ([]byte, string, string, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("CareLedger Monthly Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "CareLedger Monthly Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, "Month: "+sum.Month, "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Attendance", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	writeRow(pdf, "Attended sessions", fmt.Sprintf("%d", sum.Attended))
	writeRow(pdf, "Missed sessions", fmt.Sprintf("%d", sum.Cancelled))
	writeRow(pdf, "Remaining", fmt.Sprintf("%d", sum.Remaining))
	pdf.Ln(4)

	if sum.HasConfig {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Billing", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		writeRow(pdf, "Paid sessions", fmt.Sprintf("%d", sum.PaidSessions))
		writeRow(pdf, "Carried forward", fmt.Sprintf("%d", sum.CarryForward))
		writeRow(pdf, "Cost per session", fmt.Sprintf("%d", sum.CostPerSession))
		writeRow(pdf, "Amount used", fmt.Sprintf("%d", sum.AmountUsed))
		writeRow(pdf, "Amount wasted", fmt.Sprintf("%d", sum.AmountWasted))
		writeRow(pdf, "Total due", fmt.Sprintf("%d", sum.TotalDue))
		pdf.Ln(4)
	}

	if len(days) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Recent days", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		for _, d := range days {
			writeRow(pdf, fmt.Sprintf("%s (%s)", d.Date, d.Weekday.String()[:3]), dayMarkLabel(d))
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", "", fmt.Errorf("render monthly report: %w", err)
	}
	filename := "careledger-report-" + sum.Month + ".pdf"
	return buf.Bytes(), filename, "application/pdf", nil
}

func writeRow(pdf *fpdf.Fpdf, label, value string) {
	pdf.CellFormat(70, 7, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
}

func dayMarkLabel(d ledger.DayMark) string {
	switch {
	case d.Attended > 0 && d.Cancelled > 0:
		return fmt.Sprintf("%d attended, %d missed", d.Attended, d.Cancelled)
	case d.Attended > 0:
		return fmt.Sprintf("%d attended", d.Attended)
	case d.Cancelled > 0:
		return fmt.Sprintf("%d missed", d.Cancelled)
	case d.Holiday:
		return "holiday"
	default:
		return "no log"
	}
}
