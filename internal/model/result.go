package model

import "time"

// MatchMethod describes how an invoice was associated with a PO.
type MatchMethod string

const (
	MatchExactPOReference    MatchMethod = "exact_po_reference"
	MatchFuzzySupplierProduct MatchMethod = "fuzzy_supplier_product_match"
	MatchProductOnly         MatchMethod = "product_only_match"
	MatchNone                MatchMethod = "no_match"
)

// Action is the recommended handling for a processed invoice.
type Action string

const (
	ActionAutoApprove     Action = "auto_approve"
	ActionFlagForReview   Action = "flag_for_review"
	ActionEscalateToHuman Action = "escalate_to_human"
)

// RiskLevel summarizes how risky the recommended action is.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity is the ordinal rank of a discrepancy.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so they can be compared. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MaxSeverity returns the highest severity present, or "" for an empty list.
func MaxSeverity(discrepancies []Discrepancy) Severity {
	var max Severity
	for _, d := range discrepancies {
		if d.Severity.Rank() > max.Rank() {
			max = d.Severity
		}
	}
	return max
}

// DiscrepancyType classifies a mismatch between invoice and PO.
type DiscrepancyType string

const (
	DiscrepancyPriceMismatch      DiscrepancyType = "price_mismatch"
	DiscrepancyQuantityMismatch   DiscrepancyType = "quantity_mismatch"
	DiscrepancyTotalMismatch      DiscrepancyType = "total_mismatch"
	DiscrepancyTotalVariance      DiscrepancyType = "total_variance"
	DiscrepancyMissingPOReference DiscrepancyType = "missing_po_reference"
	DiscrepancyUnmatchedLineItem  DiscrepancyType = "unmatched_line_item"
)

// LineItemMatch records a correspondence between an invoice line and a PO line.
type LineItemMatch struct {
	InvoiceIndex int     `json:"invoice_index"`
	POIndex      int     `json:"po_index"`
	Score        float64 `json:"score"`
}

// AlternativeMatch is a runner-up PO candidate surfaced for reviewers.
type AlternativeMatch struct {
	PONumber      string  `json:"po_number"`
	Supplier      string  `json:"supplier"`
	SupplierScore float64 `json:"supplier_match_score"`
	ItemMatchRate float64 `json:"item_match_rate"`
}

// MatchResult is the outcome of the matching stage.
type MatchResult struct {
	POMatchConfidence  float64            `json:"po_match_confidence"`
	MatchedPO          string             `json:"matched_po,omitempty"`
	MatchMethod        MatchMethod        `json:"match_method"`
	SupplierSimilarity float64            `json:"supplier_similarity,omitempty"`
	DateVarianceDays   *int               `json:"date_variance_days,omitempty"`
	LineItemsMatched   int                `json:"line_items_matched"`
	LineItemsTotal     int                `json:"line_items_total"`
	MatchRate          float64            `json:"match_rate"`
	LineItemMatches    []LineItemMatch    `json:"line_item_matches,omitempty"`
	Alternatives       []AlternativeMatch `json:"alternative_matches,omitempty"`

	// PO carries the matched catalog record for downstream stages. It is
	// not serialized; the matched_po field identifies it on the wire.
	PO *PurchaseOrder `json:"-"`
}

// Discrepancy is a typed, severity-scored mismatch. The stored values and
// variance are sufficient to re-derive the severity.
type Discrepancy struct {
	Type               DiscrepancyType `json:"type"`
	Severity           Severity        `json:"severity"`
	LineItemIndex      *int            `json:"line_item_index,omitempty"`
	Field              string          `json:"field,omitempty"`
	InvoiceValue       any             `json:"invoice_value,omitempty"`
	POValue            any             `json:"po_value,omitempty"`
	VariancePercentage *float64        `json:"variance_percentage,omitempty"`
	Details            string          `json:"details"`
	RecommendedAction  Action          `json:"recommended_action"`
	Confidence         float64         `json:"confidence"`
}

// TotalVariance compares the invoice total against the matched PO total.
type TotalVariance struct {
	Amount          float64 `json:"amount"`
	Percentage      float64 `json:"percentage"`
	WithinTolerance bool    `json:"within_tolerance"`
}

// ResolutionResult is the outcome of the resolution stage.
type ResolutionResult struct {
	RecommendedAction Action        `json:"recommended_action"`
	Confidence        float64       `json:"confidence"`
	RiskLevel         RiskLevel     `json:"risk_level"`
	Reasoning         string        `json:"agent_reasoning"`
	Discrepancies     []Discrepancy `json:"discrepancies_considered,omitempty"`
}

// StageStatus is the terminal state of a pipeline stage.
type StageStatus string

const (
	StageComplete  StageStatus = "complete"
	StageFailed    StageStatus = "failed"
	StageEscalated StageStatus = "escalated"
)

// StageTrace is one entry in the per-run execution trace.
type StageTrace struct {
	Stage      string      `json:"stage"`
	DurationMS int64       `json:"duration_ms"`
	Succeeded  bool        `json:"succeeded"`
	Status     StageStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
}

// LLMUsage aggregates token consumption and estimated cost for a run.
type LLMUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"estimated_cost_usd"`
}

// PipelineResult is the final record emitted for one invoice. Field names
// are a compatibility contract for downstream consumers.
type PipelineResult struct {
	InvoiceID            string            `json:"invoice_id"`
	RunID                string            `json:"run_id"`
	ProcessingTimestamp  time.Time         `json:"processing_timestamp"`
	DurationSeconds      float64           `json:"processing_duration_seconds"`
	Document             InvoiceDocument   `json:"document_info"`
	ExtractionConfidence float64           `json:"extraction_confidence"`
	Invoice              *ExtractedInvoice `json:"extracted_data,omitempty"`
	Matching             MatchResult       `json:"matching_results"`
	Discrepancies        []Discrepancy     `json:"discrepancies"`
	TotalVariance        *TotalVariance    `json:"total_variance,omitempty"`
	RecommendedAction    Action            `json:"recommended_action"`
	RiskLevel            RiskLevel         `json:"risk_level"`
	Confidence           float64           `json:"confidence"`
	AgentReasoning       string            `json:"agent_reasoning"`
	Trace                []StageTrace      `json:"execution_trace"`
	Usage                LLMUsage          `json:"llm_usage"`
	Error                string            `json:"error,omitempty"`
}
