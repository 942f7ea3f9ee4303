// Package sink writes adjudication reports and persists claim records.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"claimflow/internal/logging"
	jsonx "claimflow/internal/shared/json"
)

// Report keys returned by ReportWriter.Write.
const (
	JSONReport = "json_report"
	TextReport = "text_report"
)

// Report is the adjudication summary for one claim.
type Report struct {
	ClaimID      string         `json:"claim_id"`
	RunID        string         `json:"run_id"`
	Decision     string         `json:"decision"`
	Reasons      string         `json:"reasons"`
	ClaimDetails map[string]any `json:"claim_details"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ReportWriter renders reports into a directory.
type ReportWriter struct {
	dir    string
	now    func() time.Time
	logger logging.Logger
}

// NewReportWriter writes under dir, creating it on first use.
func NewReportWriter(dir string) *ReportWriter {
	if dir == "" {
		dir = "reports"
	}
	return &ReportWriter{
		dir:    dir,
		now:    time.Now,
		logger: logging.NewComponentLogger("reports"),
	}
}

// Dir returns the output directory.
func (w *ReportWriter) Dir() string {
	return w.dir
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Write renders report_<claim_id>.json and report_<claim_id>.txt and
// returns their paths keyed by JSONReport and TextReport.
func (w *ReportWriter) Write(ctx context.Context, report Report) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if report.ClaimID == "" {
		report.ClaimID = "unknown"
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = w.now().UTC()
	}
	if report.ClaimDetails == nil {
		report.ClaimDetails = map[string]any{}
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}

	base := "report_" + unsafeIDChars.ReplaceAllString(report.ClaimID, "_")
	jsonPath := filepath.Join(w.dir, base+".json")
	textPath := filepath.Join(w.dir, base+".txt")

	data, err := jsonx.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write json report: %w", err)
	}

	text, err := renderText(report)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(textPath, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("write text report: %w", err)
	}

	logging.FromContext(ctx, w.logger).Info("Generated reports for claim %s", report.ClaimID)
	return map[string]string{JSONReport: jsonPath, TextReport: textPath}, nil
}

func renderText(report Report) (string, error) {
	details, err := jsonx.MarshalIndent(report.ClaimDetails, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode claim details: %w", err)
	}
	var b strings.Builder
	b.WriteString("ADJUDICATION REPORT\n")
	b.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&b, "Claim ID: %s\n", report.ClaimID)
	fmt.Fprintf(&b, "Run ID: %s\n", report.RunID)
	fmt.Fprintf(&b, "Decision: %s\n", report.Decision)
	fmt.Fprintf(&b, "Timestamp: %s\n\n", report.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Reasons:\n%s\n\n", report.Reasons)
	fmt.Fprintf(&b, "Details:\n%s\n", details)
	return b.String(), nil
}
