package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/pkg/anthropic"
)

// Reasoner produces the human-readable justification attached to a result.
type Reasoner interface {
	Explain(ctx context.Context, in ReasonInput) string
}

// ReasonInput is the evidence a reasoner may cite.
type ReasonInput struct {
	InvoiceID            string
	ExtractionConfidence float64
	Match                *model.MatchResult
	Discrepancies        []model.Discrepancy
	Resolution           *model.ResolutionResult
}

// NewReasoner selects the configured reasoning backend.
func NewReasoner(cfg config.ReasoningConfig, client anthropic.Client, acfg config.AnthropicConfig, onUsage func(anthropic.TokenUsage)) Reasoner {
	if cfg.Provider == "llm" && client != nil {
		return &LLMReasoner{
			client:   client,
			model:    acfg.Model,
			maxTok:   int64(acfg.MaxTokens),
			fallback: TemplateReasoner{},
			onUsage:  onUsage,
		}
	}
	return TemplateReasoner{}
}

// TemplateReasoner renders a deterministic explanation that always names
// the deciding factor for the recommended action.
type TemplateReasoner struct{}

func (TemplateReasoner) Explain(_ context.Context, in ReasonInput) string {
	var b strings.Builder

	switch in.Match.MatchMethod {
	case model.MatchExactPOReference:
		fmt.Fprintf(&b, "Invoice matched to %s by its PO reference (confidence %.2f). ", in.Match.MatchedPO, in.Match.POMatchConfidence)
	case model.MatchFuzzySupplierProduct:
		fmt.Fprintf(&b, "Invoice matched to %s on supplier and product similarity (confidence %.2f, %d/%d line items paired). ",
			in.Match.MatchedPO, in.Match.POMatchConfidence, in.Match.LineItemsMatched, in.Match.LineItemsTotal)
	case model.MatchProductOnly:
		fmt.Fprintf(&b, "Invoice matched to %s on product evidence alone (confidence %.2f); supplier name was unusable. ",
			in.Match.MatchedPO, in.Match.POMatchConfidence)
	default:
		b.WriteString("No purchase order could be matched to this invoice. ")
	}

	if n := len(in.Discrepancies); n == 0 {
		b.WriteString("No discrepancies were found. ")
	} else {
		fmt.Fprintf(&b, "%d discrepanc%s found; the worst is %s: %s. ",
			n, pluralY(n), model.MaxSeverity(in.Discrepancies), worstDetail(in.Discrepancies))
	}

	switch in.Resolution.RecommendedAction {
	case model.ActionAutoApprove:
		fmt.Fprintf(&b, "Recommending automatic approval with confidence %.2f.", in.Resolution.Confidence)
	case model.ActionFlagForReview:
		fmt.Fprintf(&b, "Recommending review with confidence %.2f.", in.Resolution.Confidence)
	default:
		reason := "the findings require human judgment"
		if in.Match.POMatchConfidence < 0.50 {
			reason = "the PO match is too unreliable to trust any comparison"
		}
		fmt.Fprintf(&b, "Escalating to a human because %s (confidence %.2f).", reason, in.Resolution.Confidence)
	}

	return b.String()
}

func worstDetail(discrepancies []model.Discrepancy) string {
	worst := discrepancies[0]
	for _, d := range discrepancies[1:] {
		if d.Severity.Rank() > worst.Severity.Rank() {
			worst = d
		}
	}
	return worst.Details
}

func pluralY(n int) string {
	if n == 1 {
		return "y was"
	}
	return "ies were"
}

const reasoningPrompt = `You are the reviewer-facing voice of an invoice reconciliation system.
Given the structured findings for one invoice, write a short factual paragraph
(2-4 sentences) explaining the recommended action. Cite the match method,
the worst discrepancy, and the confidence. Do not invent facts or soften
findings. Respond with the paragraph only.`

// LLMReasoner asks the model for the explanation and falls back to the
// template when the call fails. Reasoning must never fail a run.
type LLMReasoner struct {
	client   anthropic.Client
	model    string
	maxTok   int64
	fallback TemplateReasoner
	onUsage  func(anthropic.TokenUsage)
}

func (r *LLMReasoner) Explain(ctx context.Context, in ReasonInput) string {
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: r.maxTok,
		System:    []anthropic.SystemBlock{{Text: reasoningPrompt}},
		Messages: []anthropic.Message{
			{Role: "user", Content: r.renderFindings(in)},
		},
	})
	if err != nil {
		zap.L().Warn("reasoning call failed, using template",
			zap.String("invoice", in.InvoiceID),
			zap.Error(err),
		)
		return r.fallback.Explain(ctx, in)
	}

	if r.onUsage != nil {
		r.onUsage(resp.Usage)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return r.fallback.Explain(ctx, in)
	}
	return text
}

func (r *LLMReasoner) renderFindings(in ReasonInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "invoice: %s\n", in.InvoiceID)
	fmt.Fprintf(&b, "extraction_confidence: %.2f\n", in.ExtractionConfidence)
	fmt.Fprintf(&b, "match_method: %s\nmatched_po: %s\npo_match_confidence: %.2f\n",
		in.Match.MatchMethod, in.Match.MatchedPO, in.Match.POMatchConfidence)
	fmt.Fprintf(&b, "recommended_action: %s\nrisk_level: %s\nconfidence: %.2f\n",
		in.Resolution.RecommendedAction, in.Resolution.RiskLevel, in.Resolution.Confidence)
	for _, d := range in.Discrepancies {
		fmt.Fprintf(&b, "discrepancy: %s severity=%s %s\n", d.Type, d.Severity, d.Details)
	}
	return b.String()
}
