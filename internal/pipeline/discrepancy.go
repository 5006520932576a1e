package pipeline

import (
	"fmt"
	"math"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// Detection confidences reflect how directly each check observes its
// evidence. Numeric comparisons are near-certain; unmatched lines depend on
// fuzzy pairing quality.
const (
	numericCheckConfidence   = 0.95
	totalCheckConfidence     = 0.90
	totalVarianceConfidence  = 0.99
	unmatchedCheckConfidence = 0.85
	missingRefConfidence     = 1.0
)

// DetectDiscrepancies compares an extracted invoice against its matched PO
// and against itself. It is pure: same inputs always produce the same
// discrepancies, in a deterministic order.
func DetectDiscrepancies(inv *model.ExtractedInvoice, match *model.MatchResult, th config.Thresholds) ([]model.Discrepancy, *model.TotalVariance) {
	var out []model.Discrepancy

	if inv.POReference == "" || match.MatchMethod == model.MatchNone {
		details := "invoice carries no purchase order reference"
		if inv.POReference != "" {
			details = fmt.Sprintf("reference %q resolved to no purchase order", inv.POReference)
		}
		out = append(out, model.Discrepancy{
			Type:              model.DiscrepancyMissingPOReference,
			Severity:          model.SeverityMedium,
			Field:             "po_reference",
			Details:           details,
			RecommendedAction: model.ActionFlagForReview,
			Confidence:        missingRefConfidence,
		})
	}

	var totalVariance *model.TotalVariance
	if match.PO != nil {
		out = append(out, lineItemDiscrepancies(inv, match, th)...)
		out = append(out, unmatchedLineItems(inv, match)...)
		totalVariance = compareTotals(inv.Total, match.PO.Total, th)
		if totalVariance != nil && !totalVariance.WithinTolerance {
			out = append(out, totalVarianceDiscrepancy(inv.Total, match.PO.Total, totalVariance))
		}
	}

	if d := internalTotalCheck(inv); d != nil {
		out = append(out, *d)
	}

	return out, totalVariance
}

// lineItemDiscrepancies checks unit price and quantity on every paired line.
func lineItemDiscrepancies(inv *model.ExtractedInvoice, match *model.MatchResult, th config.Thresholds) []model.Discrepancy {
	var out []model.Discrepancy
	for _, pair := range match.LineItemMatches {
		if pair.InvoiceIndex >= len(inv.LineItems) || pair.POIndex >= len(match.PO.LineItems) {
			continue
		}
		invLine := inv.LineItems[pair.InvoiceIndex]
		poLine := match.PO.LineItems[pair.POIndex]
		idx := pair.InvoiceIndex

		if poLine.UnitPrice != 0 && invLine.UnitPrice != poLine.UnitPrice {
			variance := percentVariance(invLine.UnitPrice, poLine.UnitPrice)
			if sev := priceSeverity(variance, th); sev != "" {
				v := variance
				out = append(out, model.Discrepancy{
					Type:               model.DiscrepancyPriceMismatch,
					Severity:           sev,
					LineItemIndex:      &idx,
					Field:              "unit_price",
					InvoiceValue:       invLine.UnitPrice,
					POValue:            poLine.UnitPrice,
					VariancePercentage: &v,
					Details:            fmt.Sprintf("unit price %.2f vs PO %.2f (%+.1f%% variance) on %q", invLine.UnitPrice, poLine.UnitPrice, variance, invLine.Description),
					RecommendedAction:  actionForSeverity(sev),
					Confidence:         numericCheckConfidence,
				})
			}
		}

		if poLine.Quantity != 0 && invLine.Quantity != poLine.Quantity {
			variance := percentVariance(invLine.Quantity, poLine.Quantity)
			sev := quantitySeverity(variance, th)
			v := variance
			out = append(out, model.Discrepancy{
				Type:               model.DiscrepancyQuantityMismatch,
				Severity:           sev,
				LineItemIndex:      &idx,
				Field:              "quantity",
				InvoiceValue:       invLine.Quantity,
				POValue:            poLine.Quantity,
				VariancePercentage: &v,
				Details:            fmt.Sprintf("quantity %.2f vs PO %.2f (%+.1f%% variance) on %q", invLine.Quantity, poLine.Quantity, variance, invLine.Description),
				RecommendedAction:  actionForSeverity(sev),
				Confidence:         numericCheckConfidence,
			})
		}
	}
	return out
}

// unmatchedLineItems reports invoice lines with no PO counterpart and PO
// lines the invoice never billed.
func unmatchedLineItems(inv *model.ExtractedInvoice, match *model.MatchResult) []model.Discrepancy {
	pairedInv := make(map[int]bool)
	pairedPO := make(map[int]bool)
	for _, pair := range match.LineItemMatches {
		pairedInv[pair.InvoiceIndex] = true
		pairedPO[pair.POIndex] = true
	}

	var out []model.Discrepancy
	for i, line := range inv.LineItems {
		if pairedInv[i] {
			continue
		}
		idx := i
		out = append(out, model.Discrepancy{
			Type:              model.DiscrepancyUnmatchedLineItem,
			Severity:          lineValueSeverity(line.LineTotal),
			LineItemIndex:     &idx,
			Field:             "line_items",
			InvoiceValue:      line.Description,
			Details:           fmt.Sprintf("invoice line %q (%.2f) has no counterpart on the PO", line.Description, line.LineTotal),
			RecommendedAction: actionForSeverity(lineValueSeverity(line.LineTotal)),
			Confidence:        unmatchedCheckConfidence,
		})
	}
	for i, line := range match.PO.LineItems {
		if pairedPO[i] {
			continue
		}
		out = append(out, model.Discrepancy{
			Type:              model.DiscrepancyUnmatchedLineItem,
			Severity:          lineValueSeverity(line.LineTotal),
			Field:             "line_items",
			POValue:           line.Description,
			Details:           fmt.Sprintf("PO line %q (%.2f) was not billed on the invoice", line.Description, line.LineTotal),
			RecommendedAction: actionForSeverity(lineValueSeverity(line.LineTotal)),
			Confidence:        unmatchedCheckConfidence,
		})
	}
	return out
}

// internalTotalCheck verifies the invoice's own arithmetic: line totals
// plus VAT should equal the stated total. A gap here suggests extraction
// trouble rather than a supplier dispute.
func internalTotalCheck(inv *model.ExtractedInvoice) *model.Discrepancy {
	if inv.Total == 0 || len(inv.LineItems) == 0 {
		return nil
	}

	lineSum := 0.0
	for _, line := range inv.LineItems {
		lineSum += line.LineTotal
	}

	expected := lineSum
	switch {
	case inv.VATAmount != nil:
		expected += *inv.VATAmount
	case inv.VATRate != nil:
		expected += lineSum * *inv.VATRate
	}

	variance := percentVariance(inv.Total, expected)
	sev := totalSeverity(variance)
	if sev == "" {
		return nil
	}

	v := variance
	return &model.Discrepancy{
		Type:               model.DiscrepancyTotalMismatch,
		Severity:           sev,
		Field:              "total",
		InvoiceValue:       inv.Total,
		POValue:            expected,
		VariancePercentage: &v,
		Details:            fmt.Sprintf("stated total %.2f disagrees with computed %.2f (%+.1f%% variance); extraction may be unreliable", inv.Total, expected, variance),
		RecommendedAction:  actionForSeverity(sev),
		Confidence:         totalCheckConfidence,
	}
}

// totalVarianceDiscrepancy turns an out-of-tolerance invoice-vs-PO total gap
// into a severity-scored finding so it can influence resolution.
func totalVarianceDiscrepancy(invTotal, poTotal float64, tv *model.TotalVariance) model.Discrepancy {
	variance := percentVariance(invTotal, poTotal)
	sev := totalVarianceSeverity(variance)
	v := variance
	return model.Discrepancy{
		Type:               model.DiscrepancyTotalVariance,
		Severity:           sev,
		Field:              "total",
		InvoiceValue:       invTotal,
		POValue:            poTotal,
		VariancePercentage: &v,
		Details:            fmt.Sprintf("invoice total %.2f differs from PO total %.2f by %.2f (%+.1f%%)", invTotal, poTotal, tv.Amount, variance),
		RecommendedAction:  actionForSeverity(sev),
		Confidence:         totalVarianceConfidence,
	}
}

// compareTotals reports the invoice-vs-PO total gap with its tolerance
// verdict.
func compareTotals(invTotal, poTotal float64, th config.Thresholds) *model.TotalVariance {
	if poTotal == 0 {
		return nil
	}
	amount := invTotal - poTotal
	pct := math.Abs(amount) / poTotal * 100
	return &model.TotalVariance{
		Amount:          amount,
		Percentage:      pct,
		WithinTolerance: math.Abs(amount) <= th.TotalToleranceAbs || pct <= th.TotalTolerancePct,
	}
}

// percentVariance returns (invoice-reference)/reference as a signed
// percentage. Positive means the invoice is over the reference. Severity
// banding uses the magnitude only.
func percentVariance(invoiceVal, referenceVal float64) float64 {
	if referenceVal == 0 {
		return 0
	}
	return (invoiceVal - referenceVal) / math.Abs(referenceVal) * 100
}

// priceSeverity bands unit price variance. Variance at or below the low
// threshold is within tolerance and produces no discrepancy.
func priceSeverity(variancePct float64, th config.Thresholds) model.Severity {
	switch abs := math.Abs(variancePct); {
	case abs <= th.PriceVarianceLowPct:
		return ""
	case abs <= th.PriceVarianceMediumPct:
		return model.SeverityLow
	case abs <= th.PriceVarianceHighPct:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

// quantitySeverity uses the price bands shifted one rank up: any quantity
// difference is already a discrepancy, and large ones imply goods were
// short-shipped or over-billed.
func quantitySeverity(variancePct float64, th config.Thresholds) model.Severity {
	switch abs := math.Abs(variancePct); {
	case abs <= th.PriceVarianceLowPct:
		return model.SeverityLow
	case abs <= th.PriceVarianceMediumPct:
		return model.SeverityMedium
	case abs <= th.PriceVarianceHighPct:
		return model.SeverityHigh
	default:
		return model.SeverityCritical
	}
}

// totalSeverity bands the invoice's internal total inconsistency.
func totalSeverity(variancePct float64) model.Severity {
	switch abs := math.Abs(variancePct); {
	case abs <= 1:
		return ""
	case abs <= 5:
		return model.SeverityLow
	case abs <= 10:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

// totalVarianceSeverity bands the invoice-vs-PO total gap once it is out of
// tolerance.
func totalVarianceSeverity(variancePct float64) model.Severity {
	switch abs := math.Abs(variancePct); {
	case abs <= 5:
		return model.SeverityLow
	case abs <= 10:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

// lineValueSeverity scales unmatched-line severity with the money at stake.
func lineValueSeverity(lineTotal float64) model.Severity {
	abs := math.Abs(lineTotal)
	switch {
	case abs <= 100:
		return model.SeverityLow
	case abs <= 1000:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

func actionForSeverity(sev model.Severity) model.Action {
	switch sev {
	case model.SeverityLow:
		return model.ActionAutoApprove
	case model.SeverityMedium:
		return model.ActionFlagForReview
	default:
		return model.ActionEscalateToHuman
	}
}
