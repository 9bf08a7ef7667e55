// Package audit replays entitlement decisions for every stored account at a
// chosen instant and renders the results.
package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

// Format is an output format for a Report.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatCSV, FormatJSON, FormatPDF:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported audit format %q", raw)
	}
}

// Row is one account/capability decision.
type Row struct {
	AccountID   string                  `json:"account_id"`
	Tier        entitlements.Tier       `json:"tier"`
	Capability  entitlements.Capability `json:"capability"`
	Allowed     bool                    `json:"allowed"`
	Reason      entitlements.Reason     `json:"reason"`
	GrantEndsAt *time.Time              `json:"grant_ends_at,omitempty"`
}

// Summary aggregates a report's rows.
type Summary struct {
	Accounts int                         `json:"accounts"`
	Allowed  int                         `json:"allowed"`
	Denied   int                         `json:"denied"`
	ByReason map[entitlements.Reason]int `json:"by_reason"`
}

// Report is the result of one audit run.
type Report struct {
	RunID         string                    `json:"run_id"`
	At            time.Time                 `json:"at"`
	GeneratedAt   time.Time                 `json:"generated_at"`
	PolicyVersion string                    `json:"policy_version"`
	Capabilities  []entitlements.Capability `json:"capabilities"`
	Rows          []Row                     `json:"rows"`
	Summary       Summary                   `json:"summary"`
}

func summarize(accounts int, rows []Row) Summary {
	s := Summary{
		Accounts: accounts,
		ByReason: make(map[entitlements.Reason]int, len(entitlements.AllReasons)),
	}
	for _, reason := range entitlements.AllReasons {
		s.ByReason[reason] = 0
	}
	for _, row := range rows {
		if row.Allowed {
			s.Allowed++
		} else {
			s.Denied++
		}
		s.ByReason[row.Reason]++
	}
	return s
}

// Renderer turns a Report into bytes.
type Renderer interface {
	Render(report *Report) ([]byte, error)
}

// RendererFor returns the renderer for format.
func RendererFor(format Format) (Renderer, error) {
	switch format {
	case FormatCSV:
		return NewCSVRenderer(), nil
	case FormatJSON:
		return NewJSONRenderer(), nil
	case FormatPDF:
		return NewPDFRenderer(), nil
	default:
		return nil, fmt.Errorf("unsupported audit format %q", format)
	}
}

// ContentType returns the MIME type for format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatJSON:
		return "application/json"
	default:
		return "text/csv"
	}
}
