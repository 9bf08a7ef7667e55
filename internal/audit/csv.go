package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

// CSVRenderer writes a report as CSV with commented header and summary
// sections followed by one row per decision.
type CSVRenderer struct{}

// NewCSVRenderer creates a CSV renderer.
func NewCSVRenderer() *CSVRenderer {
	return &CSVRenderer{}
}

// Render implements Renderer.
func (r *CSVRenderer) Render(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := r.writeHeader(w, report); err != nil {
		return nil, fmt.Errorf("write CSV header section: %w", err)
	}
	if err := r.writeSummary(w, report); err != nil {
		return nil, fmt.Errorf("write CSV summary section: %w", err)
	}
	if err := r.writeRows(w, report); err != nil {
		return nil, fmt.Errorf("write CSV data section: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *CSVRenderer) writeHeader(w *csv.Writer, report *Report) error {
	headers := [][]string{
		{"# Entitlement Audit"},
		{"# Run ID:", report.RunID},
		{"# Evaluated At:", report.At.Format(time.RFC3339)},
		{"# Generated:", report.GeneratedAt.Format(time.RFC3339)},
		{"# Policy Version:", report.PolicyVersion},
		{"# Accounts:", strconv.Itoa(report.Summary.Accounts)},
		{""},
	}
	for _, row := range headers {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write header row %q: %w", row[0], err)
		}
	}
	return nil
}

func (r *CSVRenderer) writeSummary(w *csv.Writer, report *Report) error {
	if err := w.Write([]string{"# SUMMARY"}); err != nil {
		return fmt.Errorf("write summary section heading: %w", err)
	}
	if err := w.Write([]string{"Reason", "Count"}); err != nil {
		return fmt.Errorf("write summary column headers: %w", err)
	}
	for _, reason := range entitlements.AllReasons {
		if err := w.Write([]string{string(reason), strconv.Itoa(report.Summary.ByReason[reason])}); err != nil {
			return fmt.Errorf("write summary row %q: %w", reason, err)
		}
	}
	return w.Write([]string{""})
}

func (r *CSVRenderer) writeRows(w *csv.Writer, report *Report) error {
	if err := w.Write([]string{"# DECISIONS"}); err != nil {
		return fmt.Errorf("write data section heading: %w", err)
	}
	if err := w.Write([]string{"account_id", "tier", "capability", "allowed", "reason", "grant_ends_at"}); err != nil {
		return fmt.Errorf("write data column headers: %w", err)
	}
	for _, row := range report.Rows {
		endsAt := ""
		if row.GrantEndsAt != nil {
			endsAt = row.GrantEndsAt.Format(time.RFC3339)
		}
		record := []string{
			row.AccountID,
			string(row.Tier),
			string(row.Capability),
			strconv.FormatBool(row.Allowed),
			string(row.Reason),
			endsAt,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write decision row for account %s: %w", row.AccountID, err)
		}
	}
	return nil
}
