package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/reconcile-cli/internal/model"
)

func TestSummaryMatchedInvoice(t *testing.T) {
	r := &model.PipelineResult{
		InvoiceID:            "INV-1",
		Document:             model.InvoiceDocument{Filename: "invoice_1.pdf", Quality: model.QualityGood},
		ExtractionConfidence: 0.92,
		Matching: model.MatchResult{
			MatchedPO:         "PO-1",
			MatchMethod:       model.MatchExactPOReference,
			POMatchConfidence: 0.98,
		},
		Discrepancies: []model.Discrepancy{
			{Type: model.DiscrepancyPriceMismatch, Severity: model.SeverityMedium, Details: "unit price variance of 10.0%"},
		},
		RecommendedAction: model.ActionFlagForReview,
		RiskLevel:         model.RiskMedium,
		Confidence:        0.90,
	}

	out := Summary(r)
	assert.Contains(t, out, "INV-1")
	assert.Contains(t, out, "PO-1")
	assert.Contains(t, out, "exact_po_reference")
	assert.Contains(t, out, "[medium] price_mismatch")
	assert.Contains(t, out, "flag_for_review")
}

func TestSummaryNoMatchAndError(t *testing.T) {
	r := &model.PipelineResult{
		InvoiceID:         "INV-2",
		Matching:          model.MatchResult{MatchMethod: model.MatchNone},
		RecommendedAction: model.ActionEscalateToHuman,
		RiskLevel:         model.RiskCritical,
		Error:             "extraction timed out",
	}

	out := Summary(r)
	assert.Contains(t, out, "matched PO:  none")
	assert.Contains(t, out, "discrepancies: none")
	assert.Contains(t, out, "extraction timed out")
}

func TestBatchTally(t *testing.T) {
	var tally BatchTally
	tally.Add(&model.PipelineResult{RecommendedAction: model.ActionAutoApprove, Usage: model.LLMUsage{CostUSD: 0.01}})
	tally.Add(&model.PipelineResult{RecommendedAction: model.ActionFlagForReview, Usage: model.LLMUsage{CostUSD: 0.02}})
	tally.Add(&model.PipelineResult{RecommendedAction: model.ActionEscalateToHuman, Error: "boom"})
	tally.Add(&model.PipelineResult{RecommendedAction: model.ActionEscalateToHuman})

	assert.Equal(t, 4, tally.Processed)
	assert.Equal(t, 1, tally.AutoApproved)
	assert.Equal(t, 1, tally.Flagged)
	assert.Equal(t, 2, tally.Escalated)
	assert.Equal(t, 1, tally.Errors)
	assert.InDelta(t, 0.03, tally.TotalCostUSD, 1e-9)

	out := tally.String()
	assert.Contains(t, out, "Processed 4")
	assert.Contains(t, out, "auto-approved:   1")
	assert.Contains(t, out, "escalated:       2")
}
