package extraction

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/cost"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/ocr"
	"github.com/sells-group/reconcile-cli/internal/resilience"
	"github.com/sells-group/reconcile-cli/pkg/anthropic"
)

// Extractor produces structured invoices from PDF documents.
type Extractor interface {
	Extract(ctx context.Context, pdfPath string) (*Result, error)
}

const systemPrompt = `You are an invoice data extraction system for a chemicals distributor.
You receive the raw text of a supplier invoice and return its structured content.

Respond with a single JSON object and nothing else. Use this shape:
{
  "invoice_number": string,
  "invoice_date": "YYYY-MM-DD",
  "supplier_name": string,
  "supplier_vat": string,
  "po_reference": string,
  "payment_terms": string,
  "currency": "GBP",
  "line_items": [
    {"item_code": string, "description": string, "quantity": number,
     "unit": string, "unit_price": number, "line_total": number}
  ],
  "subtotal": number,
  "vat_rate": number,
  "vat_amount": number,
  "total": number
}

Rules:
- Copy values exactly as printed. Never invent a PO reference or invoice number.
- Use empty strings for text fields that are absent and omit vat_rate/vat_amount when not shown.
- Amounts are plain numbers without currency symbols or thousands separators.
- po_reference is the buyer's purchase order number, not the supplier's own references.`

// LLMExtractor implements Extractor with OCR text recovery followed by an
// LLM structured parse. Calls are rate limited, retried on transient
// failures, and bounded by a per-invoice deadline.
type LLMExtractor struct {
	ocr     ocr.Extractor
	client  anthropic.Client
	calc    *cost.Calculator
	limiter *rate.Limiter
	policy  resilience.Policy
	model   string
	maxTok  int64
	timeout time.Duration
}

// NewLLMExtractor wires an extractor from configuration.
func NewLLMExtractor(ocrExt ocr.Extractor, client anthropic.Client, calc *cost.Calculator, cfg config.ExtractionConfig, acfg config.AnthropicConfig) *LLMExtractor {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}

	policy := resilience.NewPolicy(cfg.MaxAttempts, cfg.InitialBackoffMS)
	policy.OnRetry = resilience.RetryLogger("anthropic", "extract_invoice")

	return &LLMExtractor{
		ocr:     ocrExt,
		client:  client,
		calc:    calc,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		policy:  policy,
		model:   acfg.Model,
		maxTok:  int64(acfg.MaxTokens),
		timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}

// Extract runs OCR and the LLM parse for one invoice document. All failure
// modes come back as *Error or *TimeoutError so the caller can recover them
// into the invoice's result.
func (e *LLMExtractor) Extract(ctx context.Context, pdfPath string) (*Result, error) {
	name := filepath.Base(pdfPath)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ocrRes, err := resilience.DoVal(ctx, e.policy, func(ctx context.Context) (ocr.Result, error) {
		return e.ocr.Extract(ctx, pdfPath)
	})
	if err != nil {
		return nil, e.classify(ctx, name, eris.Wrap(err, "extraction: ocr"))
	}

	doc := model.InvoiceDocument{
		Filename:  name,
		Quality:   ocrRes.Quality,
		PageCount: ocrRes.Pages,
	}

	if ocrRes.Quality == model.QualityUnreadable {
		return &Result{
			Invoice:    model.ExtractedInvoice{},
			Confidence: 0,
			Document:   doc,
		}, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, e.classify(ctx, name, eris.Wrap(err, "extraction: rate limit wait"))
	}

	resp, err := resilience.DoVal(ctx, e.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.model,
			MaxTokens: e.maxTok,
			System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
			Messages: []anthropic.Message{
				{Role: "user", Content: "Invoice text:\n\n" + ocrRes.Text},
			},
		})
	})
	if err != nil {
		return nil, e.classify(ctx, name, eris.Wrap(err, "extraction: llm call"))
	}

	invoice, err := ParseInvoiceJSON(resp.Text())
	if err != nil {
		return nil, &Error{Invoice: name, Err: err}
	}

	confidence := ScoreConfidence(invoice, ocrRes.Quality)
	costUSD := e.calc.Claude(e.model, resp.Usage)
	resp.Usage.LogCost(e.model, "extraction", costUSD)

	zap.L().Debug("invoice extracted",
		zap.String("invoice", name),
		zap.String("quality", ocrRes.Quality),
		zap.Float64("confidence", confidence),
		zap.Int("line_items", len(invoice.LineItems)),
	)

	return &Result{
		Invoice:    *invoice,
		Confidence: confidence,
		Document:   doc,
		Usage:      resp.Usage,
		CostUSD:    costUSD,
	}, nil
}

// classify maps a failure to the extraction error taxonomy. Deadline
// overruns become TimeoutError; everything else is a plain Error.
func (e *LLMExtractor) classify(ctx context.Context, invoice string, err error) error {
	if eris.Is(ctx.Err(), context.DeadlineExceeded) || eris.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Invoice: invoice, Timeout: e.timeout}
	}
	return &Error{Invoice: invoice, Err: err}
}

// ParseInvoiceJSON decodes the LLM response into an invoice, tolerating
// markdown code fences around the JSON body.
func ParseInvoiceJSON(text string) (*model.ExtractedInvoice, error) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return nil, eris.New("extraction: empty LLM response")
	}

	var invoice model.ExtractedInvoice
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&invoice); err != nil {
		return nil, eris.Wrap(err, "extraction: decode invoice JSON")
	}
	return &invoice, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
