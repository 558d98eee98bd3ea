package report

import (
	"fmt"
	"time"
)

// BuildCycleSummaryBody builds the HTML body for the reconciliation report
func BuildCycleSummaryBody(s CycleSummary) string {
	status := "completed"
	if s.Aborted {
		status = fmt.Sprintf("aborted (%s)", s.Reason)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 20px;">Nightly inventory reconciliation</h1>
	<table style="width: 100%%; border-collapse: collapse;">
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Status</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%s</td></tr>
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Started</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%s</td></tr>
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Duration</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%s</td></tr>
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Products checked</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%d</td></tr>
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Drift corrections enqueued</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%d</td></tr>
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Skipped (missing from snapshot)</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%d</td></tr>
	</table>
</body>
</html>`,
		status,
		s.StartedAt.UTC().Format(time.RFC3339),
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
		s.Checked,
		s.Drifted,
		s.Skipped,
	)
}

// BuildImportSummaryBody builds the HTML body for the import report
func BuildImportSummaryBody(s ImportSummary) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="font-size: 20px;">Bulk inventory import</h1>
	<p style="font-family: monospace; color: #666;">file %s</p>
	<table style="width: 100%%; border-collapse: collapse;">
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Products created</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%d</td></tr>
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Products updated</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%d</td></tr>
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Quantity changes enqueued</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%d</td></tr>
		<tr><td style="padding: 8px; border-bottom: 1px solid #eee;">Rows rejected</td><td style="padding: 8px; border-bottom: 1px solid #eee; text-align: right;">%d</td></tr>
	</table>
</body>
</html>`,
		shortChecksum(s.Checksum),
		s.Created,
		s.Updated,
		s.Enqueued,
		s.Rejected,
	)
}
