package audit

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorAccent      = [3]int{46, 204, 113}
	colorDanger      = [3]int{231, 76, 60}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorTableHeader = [3]int{30, 58, 95}
	colorTableAlt    = [3]int{241, 245, 249}
	colorGridLine    = [3]int{220, 220, 220}
)

// Column widths for the decision table, in mm. They sum to the printable
// width of an A4 page with 20mm margins.
var decisionColumns = []struct {
	title string
	width float64
}{
	{"Account", 22},
	{"Tier", 32},
	{"Capability", 36},
	{"Allowed", 16},
	{"Reason", 32},
	{"Grant Ends", 32},
}

// PDFRenderer renders a report as a paginated PDF.
type PDFRenderer struct{}

// NewPDFRenderer creates a PDF renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render implements Renderer.
func (r *PDFRenderer) Render(report *Report) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetTitle("Entitlement Audit "+report.RunID, true)

	pdf.AddPage()
	r.addPageHeader(pdf, report, "Summary")
	r.writeSummary(pdf, report)

	pdf.AddPage()
	r.addPageHeader(pdf, report, "Decisions")
	r.writeDecisions(pdf, report)

	r.addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) addPageHeader(pdf *fpdf.Fpdf, report *Report, section string) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetDrawColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.SetLineWidth(0.5)
	pdf.Line(20, 15, pageWidth-20, 15)

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 9)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 5, "ENTITLEMENT AUDIT", "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, report.RunID, "", 1, "R", false, 0, "")

	pdf.SetY(30)
	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, section, "", 1, "L", false, 0, "")
	pdf.Ln(5)
}

func (r *PDFRenderer) writeSummary(pdf *fpdf.Fpdf, report *Report) {
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Evaluated at %s with policy %s",
		report.At.Format("Jan 2, 2006 15:04 MST"), report.PolicyVersion), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated "+report.GeneratedAt.Format(time.RFC3339), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	stats := []struct {
		label string
		value int
		color [3]int
	}{
		{"Accounts", report.Summary.Accounts, colorTextDark},
		{"Allowed", report.Summary.Allowed, colorAccent},
		{"Denied", report.Summary.Denied, colorDanger},
	}
	for _, s := range stats {
		pdf.SetFont("Arial", "", 11)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(50, 8, s.label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(s.color[0], s.color[1], s.color[2])
		pdf.CellFormat(0, 8, fmt.Sprintf("%d", s.value), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(80, 7, "Reason", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 7, "Decisions", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	for i, reason := range entitlements.AllReasons {
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.CellFormat(80, 6, string(reason), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", report.Summary.ByReason[reason]), "1", 1, "R", fill, 0, "")
	}
}

func (r *PDFRenderer) writeDecisions(pdf *fpdf.Fpdf, report *Report) {
	if len(report.Rows) == 0 {
		pdf.SetFont("Arial", "I", 11)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 10, "No accounts were found.", "", 1, "L", false, 0, "")
		return
	}

	r.writeTableHeader(pdf)
	_, pageHeight := pdf.GetPageSize()
	for i, row := range report.Rows {
		if pdf.GetY() > pageHeight-35 {
			pdf.AddPage()
			r.addPageHeader(pdf, report, "Decisions (continued)")
			r.writeTableHeader(pdf)
		}

		endsAt := "-"
		if row.GrantEndsAt != nil {
			endsAt = row.GrantEndsAt.Format("2006-01-02 15:04")
		}
		allowed := "no"
		if row.Allowed {
			allowed = "yes"
		}
		cells := []string{row.AccountID, row.Tier.DisplayName(), string(row.Capability), allowed, string(row.Reason), endsAt}

		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.SetFont("Arial", "", 8)
		for c, col := range decisionColumns {
			if c == 3 {
				if row.Allowed {
					pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
				} else {
					pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
				}
			} else {
				pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
			}
			ln := 0
			if c == len(decisionColumns)-1 {
				ln = 1
			}
			pdf.CellFormat(col.width, 6, cells[c], "1", ln, "L", fill, 0, "")
		}
	}
}

func (r *PDFRenderer) writeTableHeader(pdf *fpdf.Fpdf) {
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.SetFont("Arial", "B", 8)
	for i, col := range decisionColumns {
		ln := 0
		if i == len(decisionColumns)-1 {
			ln = 1
		}
		pdf.CellFormat(col.width, 7, col.title, "1", ln, "C", true, 0, "")
	}
}

func (r *PDFRenderer) addPageNumbers(pdf *fpdf.Fpdf) {
	pdf.SetAutoPageBreak(false, 0)

	totalPages := pdf.PageCount()
	for i := 1; i <= totalPages; i++ {
		pdf.SetPage(i)
		pageWidth, pageHeight := pdf.GetPageSize()

		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i, totalPages), "", 0, "C", false, 0, "")

		pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
		pdf.SetLineWidth(0.3)
		pdf.Line(20, pageHeight-20, pageWidth-20, pageHeight-20)
	}
}
