package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/reconcile-cli/internal/catalog"
	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/fuzzy"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// Confidence assigned to PO reference matches. A near-exact reference (OCR
// noise in one or two characters) scores slightly below exact equality.
const (
	exactRefConfidence  = 0.98
	nearRefConfidence   = 0.95
	nearRefSimilarity   = 0.96
	productOnlyConfCap  = 0.70
	supplierScoreWeight = 0.4
	itemScoreWeight     = 0.6
	maxAlternativesKept = 3
)

// poCandidate is one PO scored during fuzzy matching.
type poCandidate struct {
	po            *model.PurchaseOrder
	supplierScore float64
	itemMatches   []model.LineItemMatch
	avgItemScore  float64
	matchRate     float64
	combined      float64
}

// MatchInvoice associates an extracted invoice with a purchase order. It
// tries, in order: the invoice's PO reference against the catalog, fuzzy
// supplier-plus-product matching, and a product-only fallback. A no-match
// outcome is a valid result with zero confidence, not an error.
func MatchInvoice(inv *model.ExtractedInvoice, cat *catalog.Catalog, th config.Thresholds) model.MatchResult {
	if inv.POReference != "" {
		if res, ok := matchByReference(inv, cat); ok {
			return res
		}
	}

	candidates := scoreCandidates(inv, cat, th)

	if winner := pickWinner(candidates, th.CombinedMatchFloor, inv.Total); winner != nil {
		res := resultFromCandidate(inv, winner, model.MatchFuzzySupplierProduct, winner.combined)
		res.Alternatives = alternatives(candidates, winner.po.PONumber)
		return res
	}

	if winner, ok := productOnlyMatch(inv, cat, th); ok {
		conf := math.Min(productOnlyConfCap, winner.avgItemScore*winner.matchRate)
		return resultFromCandidate(inv, winner, model.MatchProductOnly, conf)
	}

	return model.MatchResult{
		MatchMethod:    model.MatchNone,
		LineItemsTotal: len(inv.LineItems),
		Alternatives:   alternatives(candidates, ""),
	}
}

// matchByReference resolves the invoice's stated PO reference against the
// catalog, tolerating near-equal references.
func matchByReference(inv *model.ExtractedInvoice, cat *catalog.Catalog) (model.MatchResult, bool) {
	if po, ok := cat.Get(inv.POReference); ok {
		res := referenceResult(inv, po, exactRefConfidence)
		return res, true
	}

	normRef := fuzzy.Normalize(inv.POReference)
	var best *model.PurchaseOrder
	bestSim := 0.0
	for _, po := range cat.All() {
		sim := fuzzy.ProductScore(normRef, fuzzy.Normalize(po.PONumber))
		if sim > bestSim {
			bestSim = sim
			best = po
		}
	}
	if best != nil && bestSim >= nearRefSimilarity {
		return referenceResult(inv, best, nearRefConfidence), true
	}
	return model.MatchResult{}, false
}

func referenceResult(inv *model.ExtractedInvoice, po *model.PurchaseOrder, conf float64) model.MatchResult {
	matches := fuzzy.MatchLineItems(inv.LineItems, po.LineItems, 0.6)
	res := model.MatchResult{
		POMatchConfidence:  conf,
		MatchedPO:          po.PONumber,
		MatchMethod:        model.MatchExactPOReference,
		SupplierSimilarity: fuzzy.SupplierScore(inv.SupplierName, po.Supplier),
		LineItemsMatched:   len(matches),
		LineItemsTotal:     len(inv.LineItems),
		MatchRate:          matchRate(len(matches), len(inv.LineItems)),
		LineItemMatches:    matches,
		PO:                 po,
	}
	res.DateVarianceDays = dateVariance(inv.InvoiceDate, po.Date)
	return res
}

// scoreCandidates evaluates every catalog PO whose supplier is plausibly
// the invoice's supplier.
func scoreCandidates(inv *model.ExtractedInvoice, cat *catalog.Catalog, th config.Thresholds) []poCandidate {
	var out []poCandidate
	for _, po := range cat.All() {
		supplierScore := fuzzy.SupplierScore(inv.SupplierName, po.Supplier)
		if supplierScore < th.SupplierMatchFloor {
			continue
		}

		matches := fuzzy.MatchLineItems(inv.LineItems, po.LineItems, th.LineItemPairingFloor)
		avg := avgScore(matches)
		mr := matchRate(len(matches), len(inv.LineItems))

		out = append(out, poCandidate{
			po:            po,
			supplierScore: supplierScore,
			itemMatches:   matches,
			avgItemScore:  avg,
			matchRate:     mr,
			combined:      supplierScoreWeight*supplierScore + itemScoreWeight*(avg*mr),
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].combined > out[b].combined
	})
	return out
}

// pickWinner returns the best candidate above the combined floor. Ties are
// broken by items matched, then by the smaller invoice-vs-PO total gap.
func pickWinner(candidates []poCandidate, floor, invTotal float64) *poCandidate {
	var winner *poCandidate
	for i := range candidates {
		c := &candidates[i]
		if c.combined <= floor {
			continue
		}
		if winner == nil {
			winner = c
			continue
		}
		if c.combined != winner.combined {
			continue // sorted descending, winner already better
		}
		if len(c.itemMatches) != len(winner.itemMatches) {
			if len(c.itemMatches) > len(winner.itemMatches) {
				winner = c
			}
			continue
		}
		if math.Abs(c.po.Total-invTotal) < math.Abs(winner.po.Total-invTotal) {
			winner = c
		}
	}
	return winner
}

// productOnlyMatch applies when the supplier name is unusable. It matches
// only when exactly one PO has a strongly similar line item, since product
// evidence alone is ambiguous across suppliers.
func productOnlyMatch(inv *model.ExtractedInvoice, cat *catalog.Catalog, th config.Thresholds) (*poCandidate, bool) {
	var hits []poCandidate
	for _, po := range cat.All() {
		matches := fuzzy.MatchLineItems(inv.LineItems, po.LineItems, th.ProductOnlyFloor)
		if len(matches) == 0 {
			continue
		}
		hits = append(hits, poCandidate{
			po:           po,
			itemMatches:  matches,
			avgItemScore: avgScore(matches),
			matchRate:    matchRate(len(matches), len(inv.LineItems)),
		})
	}
	if len(hits) != 1 {
		return nil, false
	}
	return &hits[0], true
}

func resultFromCandidate(inv *model.ExtractedInvoice, c *poCandidate, method model.MatchMethod, conf float64) model.MatchResult {
	res := model.MatchResult{
		POMatchConfidence:  conf,
		MatchedPO:          c.po.PONumber,
		MatchMethod:        method,
		SupplierSimilarity: c.supplierScore,
		LineItemsMatched:   len(c.itemMatches),
		LineItemsTotal:     len(inv.LineItems),
		MatchRate:          c.matchRate,
		LineItemMatches:    c.itemMatches,
		PO:                 c.po,
	}
	res.DateVarianceDays = dateVariance(inv.InvoiceDate, c.po.Date)
	return res
}

// alternatives reports runner-up candidates for reviewers, excluding the
// winner.
func alternatives(candidates []poCandidate, winnerRef string) []model.AlternativeMatch {
	var out []model.AlternativeMatch
	for _, c := range candidates {
		if c.po.PONumber == winnerRef {
			continue
		}
		out = append(out, model.AlternativeMatch{
			PONumber:      c.po.PONumber,
			Supplier:      c.po.Supplier,
			SupplierScore: c.supplierScore,
			ItemMatchRate: c.matchRate,
		})
		if len(out) == maxAlternativesKept {
			break
		}
	}
	return out
}

func avgScore(matches []model.LineItemMatch) float64 {
	if len(matches) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range matches {
		sum += m.Score
	}
	return sum / float64(len(matches))
}

func matchRate(matched, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// dateVariance returns the absolute day gap between invoice and PO dates,
// or nil when either date is missing or unparseable.
func dateVariance(invoiceDate, poDate string) *int {
	if invoiceDate == "" || poDate == "" {
		return nil
	}
	d1, err1 := time.Parse("2006-01-02", invoiceDate)
	d2, err2 := time.Parse("2006-01-02", poDate)
	if err1 != nil || err2 != nil {
		return nil
	}
	days := int(math.Abs(d1.Sub(d2).Hours()) / 24)
	return &days
}
