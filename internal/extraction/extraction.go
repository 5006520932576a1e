// Package extraction turns invoice documents into structured data with a
// confidence score, using OCR plus an LLM parse.
package extraction

import (
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/pkg/anthropic"
)

// Error marks a failure to extract structured data from an invoice. It is
// recoverable: the pipeline converts it into an escalated result for that
// invoice instead of aborting the batch.
type Error struct {
	Invoice string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction error for %s: %v", e.Invoice, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TimeoutError marks an extraction that exceeded its configured deadline.
type TimeoutError struct {
	Invoice string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("extraction timed out for %s after %s", e.Invoice, e.Timeout)
}

// IsExtractionError reports whether err is a recoverable extraction failure
// (including timeouts).
func IsExtractionError(err error) bool {
	var ee *Error
	var te *TimeoutError
	return eris.As(err, &ee) || eris.As(err, &te)
}

// Result is the output of the extraction stage for one document.
type Result struct {
	Invoice    model.ExtractedInvoice
	Confidence float64
	Document   model.InvoiceDocument
	Usage      anthropic.TokenUsage
	CostUSD    float64
}

// Field weights for the completeness score. Critical fields dominate;
// document quality contributes the remainder.
const (
	criticalFieldWeight  = 0.15 // x4 fields = 0.60
	importantFieldWeight = 0.075
	qualityWeight        = 0.10
)

// ScoreConfidence computes extraction confidence from field completeness
// and document quality. The result is clamped to [0, 1].
func ScoreConfidence(inv *model.ExtractedInvoice, quality string) float64 {
	score := 0.0

	// Critical: without these the invoice cannot be reconciled at all.
	if inv.InvoiceNumber != "" {
		score += criticalFieldWeight
	}
	if inv.SupplierName != "" {
		score += criticalFieldWeight
	}
	if inv.Total > 0 {
		score += criticalFieldWeight
	}
	if len(inv.LineItems) > 0 {
		score += criticalFieldWeight
	}

	// Important: absence degrades matching but is survivable.
	if inv.InvoiceDate != "" {
		score += importantFieldWeight
	}
	if inv.POReference != "" {
		score += importantFieldWeight
	}
	if inv.Subtotal > 0 {
		score += importantFieldWeight
	}
	if inv.Currency != "" {
		score += importantFieldWeight
	}

	score += qualityWeight * qualityFactor(quality)

	return math.Min(1, math.Max(0, score))
}

func qualityFactor(quality string) float64 {
	switch quality {
	case model.QualityExcellent:
		return 1.0
	case model.QualityGood:
		return 0.85
	case model.QualityAcceptable:
		return 0.65
	case model.QualityPoor:
		return 0.40
	default:
		return 0
	}
}
