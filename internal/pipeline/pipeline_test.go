package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/cost"
	"github.com/sells-group/reconcile-cli/internal/extraction"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/pkg/anthropic"
)

// stubExtractor returns a canned extraction result or error.
type stubExtractor struct {
	result *extraction.Result
	err    error
}

func (s *stubExtractor) Extract(ctx context.Context, pdfPath string) (*extraction.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Thresholds: testThresholds(),
		Reasoning:  config.ReasoningConfig{Provider: "template"},
		Anthropic:  config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 4096},
	}
}

func cleanExtraction(conf float64) *extraction.Result {
	return &extraction.Result{
		Invoice: model.ExtractedInvoice{
			InvoiceNumber: "INV-2024-0042",
			InvoiceDate:   "2024-05-28",
			SupplierName:  "Acme Chemicals Ltd",
			POReference:   "PO-2024-001",
			LineItems: []model.LineItem{
				{Description: "Sodium Hydroxide 25kg bags", Quantity: 10, UnitPrice: 120.00, LineTotal: 1200.00},
			},
			Subtotal: 1200.00,
			Total:    1200.00,
		},
		Confidence: conf,
		Document:   model.InvoiceDocument{Filename: "invoice_42.pdf", Quality: model.QualityExcellent, PageCount: 1},
		Usage:      anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
		CostUSD:    0.006,
	}
}

func newTestPipeline(t *testing.T, ext extraction.Extractor) *Pipeline {
	t.Helper()
	return New(ext, testCatalog(t), nil, cost.NewCalculator(cost.DefaultRates()), testConfig())
}

func traceStages(r *model.PipelineResult) []string {
	var out []string
	for _, tr := range r.Trace {
		out = append(out, tr.Stage)
	}
	return out
}

func TestRunHappyPathAutoApproves(t *testing.T) {
	p := newTestPipeline(t, &stubExtractor{result: cleanExtraction(0.95)})

	res := p.Run(context.Background(), "/invoices/invoice_42.pdf")

	assert.Equal(t, "INV-2024-0042", res.InvoiceID)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, model.ActionAutoApprove, res.RecommendedAction)
	assert.Equal(t, model.RiskNone, res.RiskLevel)
	assert.Empty(t, res.Discrepancies)
	assert.Equal(t, "PO-2024-001", res.Matching.MatchedPO)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.NotEmpty(t, res.AgentReasoning)
	assert.Empty(t, res.Error)

	assert.Equal(t, []string{StageExtraction, StageMatching, StageDiscrepancy, StageResolution}, traceStages(res))
	for _, tr := range res.Trace {
		assert.True(t, tr.Succeeded, tr.Stage)
		assert.Equal(t, model.StageComplete, tr.Status, tr.Stage)
	}

	assert.Equal(t, int64(1000), res.Usage.InputTokens)
	assert.InDelta(t, 0.006, res.Usage.CostUSD, 1e-9)
}

func TestRunLowExtractionConfidenceEscalatesEarly(t *testing.T) {
	p := newTestPipeline(t, &stubExtractor{result: cleanExtraction(0.60)})

	res := p.Run(context.Background(), "/invoices/invoice_42.pdf")

	assert.Equal(t, model.ActionEscalateToHuman, res.RecommendedAction)
	assert.Equal(t, model.RiskCritical, res.RiskLevel)
	assert.InDelta(t, 0.60, res.Confidence, 1e-9)
	assert.Equal(t, model.MatchNone, res.Matching.MatchMethod)
	assert.Empty(t, res.Discrepancies)
	assert.Contains(t, res.AgentReasoning, "below the 0.70 processing gate")

	// Matching and later stages never ran.
	require.Len(t, res.Trace, 1)
	assert.Equal(t, StageExtraction, res.Trace[0].Stage)
	assert.Equal(t, model.StageEscalated, res.Trace[0].Status)
	assert.Empty(t, res.Trace[0].Error)
}

func TestRunExtractionGateBoundary(t *testing.T) {
	// Exactly 0.70 passes the gate.
	p := newTestPipeline(t, &stubExtractor{result: cleanExtraction(0.70)})
	res := p.Run(context.Background(), "/invoices/invoice_42.pdf")
	assert.Len(t, res.Trace, 4)
	assert.NotEqual(t, model.RiskCritical, res.RiskLevel)
}

func TestRunExtractionFailureIsRecovered(t *testing.T) {
	p := newTestPipeline(t, &stubExtractor{err: &extraction.Error{Invoice: "invoice_42.pdf", Err: eris.New("ocr exploded")}})

	res := p.Run(context.Background(), "/invoices/invoice_42.pdf")

	assert.Equal(t, "invoice_42", res.InvoiceID)
	assert.Equal(t, model.ActionEscalateToHuman, res.RecommendedAction)
	assert.Equal(t, model.RiskCritical, res.RiskLevel)
	assert.Zero(t, res.Confidence)
	assert.Contains(t, res.Error, "ocr exploded")
	assert.Contains(t, res.AgentReasoning, "Extraction failed")
	assert.Equal(t, model.QualityUnknown, res.Document.Quality)

	require.Len(t, res.Trace, 1)
	assert.Equal(t, model.StageFailed, res.Trace[0].Status)
	assert.False(t, res.Trace[0].Succeeded)
	assert.NotEmpty(t, res.Trace[0].Error)
}

func TestRunDiscrepanciesFlagForReview(t *testing.T) {
	ext := cleanExtraction(0.95)
	// 10% over the PO unit price lands in the medium band.
	ext.Invoice.LineItems[0].UnitPrice = 132.00
	ext.Invoice.LineItems[0].LineTotal = 1320.00
	ext.Invoice.Total = 1320.00
	ext.Invoice.Subtotal = 1320.00
	p := newTestPipeline(t, &stubExtractor{result: ext})

	res := p.Run(context.Background(), "/invoices/invoice_42.pdf")

	assert.Equal(t, model.ActionFlagForReview, res.RecommendedAction)
	assert.Equal(t, model.RiskMedium, res.RiskLevel)
	require.NotEmpty(t, res.Discrepancies)
	assert.Equal(t, model.DiscrepancyPriceMismatch, res.Discrepancies[0].Type)
	assert.Less(t, res.Confidence, 0.96)
	require.NotNil(t, res.TotalVariance)
	assert.False(t, res.TotalVariance.WithinTolerance)
}

func TestRunEscalationMarksResolutionTrace(t *testing.T) {
	ext := cleanExtraction(0.95)
	ext.Invoice.POReference = ""
	ext.Invoice.SupplierName = "Totally Unknown Vendor"
	ext.Invoice.LineItems = []model.LineItem{{Description: "Mystery item", Quantity: 1, UnitPrice: 10, LineTotal: 10}}
	ext.Invoice.Total = 10
	p := newTestPipeline(t, &stubExtractor{result: ext})

	res := p.Run(context.Background(), "/invoices/mystery.pdf")

	assert.Equal(t, model.ActionEscalateToHuman, res.RecommendedAction)
	last := res.Trace[len(res.Trace)-1]
	assert.Equal(t, StageResolution, last.Stage)
	assert.Equal(t, model.StageEscalated, last.Status)
}

func TestRunResultSerializesWithContractFields(t *testing.T) {
	p := newTestPipeline(t, &stubExtractor{result: cleanExtraction(0.95)})
	res := p.Run(context.Background(), "/invoices/invoice_42.pdf")

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"invoice_id", "processing_timestamp", "extraction_confidence",
		"matching_results", "discrepancies", "recommended_action",
		"confidence", "agent_reasoning", "execution_trace",
	} {
		assert.Contains(t, raw, key)
	}

	trace, ok := raw["execution_trace"].([]any)
	require.True(t, ok)
	assert.Len(t, trace, 4)
}

func TestRunNeverReturnsNil(t *testing.T) {
	p := newTestPipeline(t, &stubExtractor{err: &extraction.TimeoutError{Invoice: "slow.pdf"}})
	res := p.Run(context.Background(), "/invoices/slow.pdf")
	require.NotNil(t, res)
	assert.Equal(t, model.ActionEscalateToHuman, res.RecommendedAction)
	assert.Contains(t, res.Error, "timed out")
}
