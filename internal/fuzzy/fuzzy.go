// Package fuzzy scores text similarity between invoice and purchase-order
// fields. Scores are normalized to [0, 1].
package fuzzy

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/reconcile-cli/internal/model"
)

var (
	lowerer      = cases.Lower(language.Und)
	nonWordRE    = regexp.MustCompile(`[^\w\s\-.]`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// Legal-form suffixes that vary between how a supplier writes its own name
// and how it appears in a PO catalog. Each maps to a canonical token.
var companySuffixes = map[string]string{
	"ltd":          "limited",
	"ltd.":         "limited",
	"limited":      "limited",
	"plc":          "plc",
	"llc":          "llc",
	"inc":          "incorporated",
	"inc.":         "incorporated",
	"incorporated": "incorporated",
	"corp":         "corporation",
	"corp.":        "corporation",
	"corporation":  "corporation",
	"gmbh":         "gmbh",
	"co":           "company",
	"co.":          "company",
	"company":      "company",
}

// Normalize canonicalizes text for comparison: Unicode NFKC, lowercase,
// punctuation stripped, whitespace collapsed.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = lowerer.String(s)
	s = nonWordRE.ReplaceAllString(s, " ")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeCompany additionally rewrites legal-form suffixes to a canonical
// token so "Acme Ltd" and "ACME Limited" compare equal.
func NormalizeCompany(s string) string {
	tokens := strings.Fields(Normalize(s))
	for i, tok := range tokens {
		if canon, ok := companySuffixes[tok]; ok {
			tokens[i] = canon
		}
	}
	return strings.Join(tokens, " ")
}

func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, nil)
}

// tokenSortRatio compares the strings with their tokens sorted, so word
// order does not matter.
func tokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// tokenSetRatio compares on token sets, discounting tokens the strings
// share. It is tolerant of one string carrying extra descriptive tokens.
func tokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	var common, onlyA, onlyB []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(common, " ")
	full1 := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	full2 := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	score := ratio(full1, full2)
	if base != "" {
		if s := ratio(base, full1); s > score {
			score = s
		}
		if s := ratio(base, full2); s > score {
			score = s
		}
	}
	return score
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

// partialRatio finds the best-matching window of the longer string against
// the shorter one, so "NaOH 25kg" scores high against
// "Sodium Hydroxide (NaOH) 25kg bags".
func partialRatio(a, b string) float64 {
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if shorter == "" {
		return 0
	}
	if strings.Contains(longer, shorter) {
		return 1
	}

	window := len(shorter)
	best := 0.0
	for i := 0; i+window <= len(longer); i++ {
		if s := ratio(shorter, longer[i:i+window]); s > best {
			best = s
			if best == 1 {
				break
			}
		}
	}
	return best
}

// SupplierScore compares two supplier names after company-suffix
// canonicalization, ignoring word order.
func SupplierScore(a, b string) float64 {
	na := NormalizeCompany(a)
	nb := NormalizeCompany(b)
	if na == "" || nb == "" {
		return 0
	}
	return tokenSortRatio(na, nb)
}

// ProductScore compares two product descriptions. Partial matching handles
// abbreviated descriptions; token-set matching handles reordered or padded
// ones.
func ProductScore(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	partial := partialRatio(na, nb)
	set := tokenSetRatio(na, nb)
	if partial > set {
		return partial
	}
	return set
}

// Item-code agreement boosts applied on top of the description score.
const (
	codeBoostExact = 0.20
	codeBoostNear  = 0.10
	codeNearFloor  = 0.80
)

// ItemScore scores an invoice line against a PO line. When both lines carry
// item codes, code agreement boosts the description score; the result is
// capped at 1.
func ItemScore(inv, po model.LineItem) float64 {
	score := ProductScore(inv.Description, po.Description)

	if inv.ItemCode != "" && po.ItemCode != "" {
		ci := Normalize(inv.ItemCode)
		cp := Normalize(po.ItemCode)
		switch {
		case ci == cp:
			score += codeBoostExact
		case ratio(ci, cp) >= codeNearFloor:
			score += codeBoostNear
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// MatchLineItems pairs invoice lines with PO lines greedily by descending
// similarity. Each PO line is used at most once; pairs below threshold are
// not formed.
func MatchLineItems(invoice, po []model.LineItem, threshold float64) []model.LineItemMatch {
	type candidate struct {
		invIdx, poIdx int
		score         float64
	}

	var candidates []candidate
	for i, inv := range invoice {
		for j, p := range po {
			if s := ItemScore(inv, p); s >= threshold {
				candidates = append(candidates, candidate{i, j, s})
			}
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	usedInv := make(map[int]bool)
	usedPO := make(map[int]bool)
	var matches []model.LineItemMatch
	for _, c := range candidates {
		if usedInv[c.invIdx] || usedPO[c.poIdx] {
			continue
		}
		usedInv[c.invIdx] = true
		usedPO[c.poIdx] = true
		matches = append(matches, model.LineItemMatch{
			InvoiceIndex: c.invIdx,
			POIndex:      c.poIdx,
			Score:        c.score,
		})
	}

	sort.Slice(matches, func(a, b int) bool {
		return matches[a].InvoiceIndex < matches[b].InvoiceIndex
	})
	return matches
}
