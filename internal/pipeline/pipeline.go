// Package pipeline runs the four-stage invoice reconciliation flow:
// extraction, PO matching, discrepancy detection, and resolution.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/catalog"
	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/cost"
	"github.com/sells-group/reconcile-cli/internal/extraction"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/pkg/anthropic"
)

// Stage names as they appear in the execution trace.
const (
	StageExtraction  = "extraction"
	StageMatching    = "matching"
	StageDiscrepancy = "discrepancy_detection"
	StageResolution  = "resolution"
)

// Pipeline reconciles invoices against a fixed PO catalog. It is safe for
// concurrent use: per-run state lives entirely in the result being built.
type Pipeline struct {
	extractor extraction.Extractor
	catalog   *catalog.Catalog
	client    anthropic.Client
	calc      *cost.Calculator
	th        config.Thresholds
	reasonCfg config.ReasoningConfig
	anthCfg   config.AnthropicConfig
}

// New assembles a pipeline from its collaborators.
func New(ext extraction.Extractor, cat *catalog.Catalog, client anthropic.Client, calc *cost.Calculator, cfg *config.Config) *Pipeline {
	return &Pipeline{
		extractor: ext,
		catalog:   cat,
		client:    client,
		calc:      calc,
		th:        cfg.Thresholds,
		reasonCfg: cfg.Reasoning,
		anthCfg:   cfg.Anthropic,
	}
}

// Run reconciles one invoice document. It always returns a complete result:
// extraction failures and timeouts are recovered into an escalated result
// rather than surfaced as errors.
func (p *Pipeline) Run(ctx context.Context, pdfPath string) *model.PipelineResult {
	started := time.Now()
	result := &model.PipelineResult{
		InvoiceID:           strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath)),
		RunID:               uuid.NewString(),
		ProcessingTimestamp: started.UTC(),
		Discrepancies:       []model.Discrepancy{},
		Trace:               []model.StageTrace{},
	}

	log := zap.L().With(zap.String("invoice", result.InvoiceID), zap.String("run_id", result.RunID))

	trackStage := func(stage string, fn func() (model.StageStatus, error)) bool {
		stageStart := time.Now()
		status, err := fn()
		trace := model.StageTrace{
			Stage:      stage,
			DurationMS: time.Since(stageStart).Milliseconds(),
			Succeeded:  err == nil,
			Status:     status,
		}
		if err != nil {
			trace.Error = err.Error()
		}
		result.Trace = append(result.Trace, trace)
		log.Info("stage finished",
			zap.String("stage", stage),
			zap.String("status", string(status)),
			zap.Int64("duration_ms", trace.DurationMS),
			zap.Error(err),
		)
		return err == nil && status == model.StageComplete
	}

	defer func() {
		result.DurationSeconds = time.Since(started).Seconds()
	}()

	// Stage 1: extraction. The only stage that can fail; failures are
	// recovered into the result.
	var extRes *extraction.Result
	ok := trackStage(StageExtraction, func() (model.StageStatus, error) {
		var err error
		extRes, err = p.extractor.Extract(ctx, pdfPath)
		if err != nil {
			return model.StageFailed, err
		}
		if extRes.Confidence < p.th.ExtractionMinConfidence {
			return model.StageEscalated, nil
		}
		return model.StageComplete, nil
	})

	if extRes != nil {
		result.Document = extRes.Document
		result.ExtractionConfidence = extRes.Confidence
		result.Invoice = &extRes.Invoice
		result.Usage = model.LLMUsage{
			InputTokens:  extRes.Usage.InputTokens,
			OutputTokens: extRes.Usage.OutputTokens,
			CostUSD:      extRes.CostUSD,
		}
		if extRes.Invoice.InvoiceNumber != "" {
			result.InvoiceID = extRes.Invoice.InvoiceNumber
		}
	}

	if !ok {
		p.finishEarly(result, extRes, pdfPath)
		return result
	}

	// Stage 2: matching. Pure; a no-match outcome is still a completed stage.
	trackStage(StageMatching, func() (model.StageStatus, error) {
		result.Matching = MatchInvoice(&extRes.Invoice, p.catalog, p.th)
		return model.StageComplete, nil
	})

	// Stage 3: discrepancy detection.
	trackStage(StageDiscrepancy, func() (model.StageStatus, error) {
		discrepancies, totalVariance := DetectDiscrepancies(&extRes.Invoice, &result.Matching, p.th)
		if discrepancies != nil {
			result.Discrepancies = discrepancies
		}
		result.TotalVariance = totalVariance
		return model.StageComplete, nil
	})

	// Stage 4: resolution.
	trackStage(StageResolution, func() (model.StageStatus, error) {
		resolution := Resolve(extRes.Confidence, &result.Matching, result.Discrepancies, p.th)

		reasoner := NewReasoner(p.reasonCfg, p.client, p.anthCfg, func(u anthropic.TokenUsage) {
			result.Usage.InputTokens += u.InputTokens
			result.Usage.OutputTokens += u.OutputTokens
			result.Usage.CostUSD += p.calc.Claude(p.anthCfg.Model, u)
		})
		resolution.Reasoning = reasoner.Explain(ctx, ReasonInput{
			InvoiceID:            result.InvoiceID,
			ExtractionConfidence: extRes.Confidence,
			Match:                &result.Matching,
			Discrepancies:        result.Discrepancies,
			Resolution:           &resolution,
		})

		result.RecommendedAction = resolution.RecommendedAction
		result.RiskLevel = resolution.RiskLevel
		result.Confidence = resolution.Confidence
		result.AgentReasoning = resolution.Reasoning

		if resolution.RecommendedAction == model.ActionEscalateToHuman {
			return model.StageEscalated, nil
		}
		return model.StageComplete, nil
	})

	return result
}

// finishEarly synthesizes a complete escalated result when extraction
// failed or its confidence fell below the processing gate. Matching and
// discrepancy detection never run on unreliable data.
func (p *Pipeline) finishEarly(result *model.PipelineResult, extRes *extraction.Result, pdfPath string) {
	result.Matching = model.MatchResult{MatchMethod: model.MatchNone}
	result.RecommendedAction = model.ActionEscalateToHuman
	result.RiskLevel = model.RiskCritical

	last := result.Trace[len(result.Trace)-1]
	switch {
	case last.Error != "":
		result.Error = last.Error
		result.Confidence = 0
		result.AgentReasoning = fmt.Sprintf(
			"Extraction failed for %s (%s); no reconciliation is possible without structured data. Escalating to a human.",
			filepath.Base(pdfPath), last.Error)
	default:
		result.Confidence = result.ExtractionConfidence
		result.AgentReasoning = fmt.Sprintf(
			"Extraction confidence %.2f is below the %.2f processing gate; matching an unreliable extraction would produce misleading comparisons. Escalating to a human.",
			result.ExtractionConfidence, p.th.ExtractionMinConfidence)
	}

	if result.Document.Filename == "" {
		result.Document = model.InvoiceDocument{
			Filename: filepath.Base(pdfPath),
			Quality:  model.QualityUnknown,
		}
	}
}
