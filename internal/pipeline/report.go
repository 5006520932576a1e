package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// Summary renders a one-invoice console report.
func Summary(r *model.PipelineResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Invoice %s\n", r.InvoiceID)
	fmt.Fprintf(&b, "  document:    %s (quality %s)\n", r.Document.Filename, r.Document.Quality)
	fmt.Fprintf(&b, "  extraction:  %.2f confidence\n", r.ExtractionConfidence)

	if r.Matching.MatchedPO != "" {
		fmt.Fprintf(&b, "  matched PO:  %s via %s (%.2f confidence)\n",
			r.Matching.MatchedPO, r.Matching.MatchMethod, r.Matching.POMatchConfidence)
	} else {
		fmt.Fprintf(&b, "  matched PO:  none\n")
	}

	if len(r.Discrepancies) > 0 {
		fmt.Fprintf(&b, "  discrepancies (%d):\n", len(r.Discrepancies))
		for _, d := range r.Discrepancies {
			fmt.Fprintf(&b, "    [%s] %s: %s\n", d.Severity, d.Type, d.Details)
		}
	} else {
		fmt.Fprintf(&b, "  discrepancies: none\n")
	}

	fmt.Fprintf(&b, "  action:      %s (risk %s, confidence %.2f)\n", r.RecommendedAction, r.RiskLevel, r.Confidence)
	if r.Error != "" {
		fmt.Fprintf(&b, "  error:       %s\n", r.Error)
	}

	return b.String()
}

// BatchTally aggregates outcomes across a batch run.
type BatchTally struct {
	Processed    int
	AutoApproved int
	Flagged      int
	Escalated    int
	Errors       int
	TotalCostUSD float64
}

// Add records one finished invoice.
func (t *BatchTally) Add(r *model.PipelineResult) {
	t.Processed++
	t.TotalCostUSD += r.Usage.CostUSD
	if r.Error != "" {
		t.Errors++
	}
	switch r.RecommendedAction {
	case model.ActionAutoApprove:
		t.AutoApproved++
	case model.ActionFlagForReview:
		t.Flagged++
	case model.ActionEscalateToHuman:
		t.Escalated++
	}
}

// String renders the batch summary block.
func (t *BatchTally) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d invoice(s)\n", t.Processed)
	fmt.Fprintf(&b, "  auto-approved:   %d\n", t.AutoApproved)
	fmt.Fprintf(&b, "  flagged:         %d\n", t.Flagged)
	fmt.Fprintf(&b, "  escalated:       %d\n", t.Escalated)
	fmt.Fprintf(&b, "  errors:          %d\n", t.Errors)
	fmt.Fprintf(&b, "  estimated cost:  $%.4f\n", t.TotalCostUSD)
	return b.String()
}
