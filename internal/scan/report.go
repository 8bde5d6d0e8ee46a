package scan

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ChokorKassem/web-client-detector/internal/audit"
	"github.com/ChokorKassem/web-client-detector/internal/platform"
)

// InlineThreshold is the largest result set rendered inline; anything
// bigger degrades to an export file.
const InlineThreshold = 300

// WriteExport materializes rows as a delimited export file in the working
// directory and returns its path. The caller deletes the file after
// delivery.
func WriteExport(rows []Row) (string, error) {
	path := fmt.Sprintf("scan_%d.csv", time.Now().Unix())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"userId", "tag", "displayName", "platforms", "joinedAt"}); err != nil {
		return "", fmt.Errorf("failed to write export header: %w", err)
	}
	for _, r := range rows {
		joined := ""
		if !r.JoinedAt.IsZero() {
			joined = r.JoinedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.FormatInt(r.UserID, 10),
			r.Tag,
			r.DisplayName,
			platform.Join(r.Platforms, "|"),
			joined,
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush export: %w", err)
	}
	return path, nil
}

// Reporter delivers scan results to the audit log, inline or as an export
// file depending on cardinality.
type Reporter struct {
	audit     *audit.Logger
	Threshold int
}

func NewReporter(auditLog *audit.Logger) *Reporter {
	return &Reporter{audit: auditLog, Threshold: InlineThreshold}
}

// Report sends the result set. Returns whether the export-file path was
// taken. The export file is deleted after delivery.
func (r *Reporter) Report(ctx context.Context, rows []Row) (bool, error) {
	if len(rows) <= r.Threshold {
		r.audit.Emit(ctx, inlineReport(rows))
		return false, nil
	}

	path, err := WriteExport(rows)
	if err != nil {
		return true, err
	}
	defer os.Remove(path)
	r.audit.EmitFile(ctx, fmt.Sprintf("Bulk scan completed: %d members — export attached.", len(rows)), path)
	return true, nil
}

func inlineReport(rows []Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bulk scan completed (%d members):\n", len(rows))
	b.WriteString("user | server nickname | id | mention | platform(s)")
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%s | %s | %d | <@%d> | %s",
			r.Tag, r.DisplayName, r.UserID, r.UserID, platform.Join(r.Platforms, ", "))
	}
	return b.String()
}
