package pipeline

import (
	"math"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// Confidence penalties per outstanding severe discrepancy. Severe findings
// make the recommendation less certain even when the action is clear.
const (
	highSeverityPenalty     = 0.05
	criticalSeverityPenalty = 0.15
)

// Resolve maps the upstream evidence to a recommended action. It is a pure
// decision table: extraction and match confidence gate the outcome, and the
// worst discrepancy severity picks the row.
func Resolve(extractionConfidence float64, match *model.MatchResult, discrepancies []model.Discrepancy, th config.Thresholds) model.ResolutionResult {
	maxSev := model.MaxSeverity(discrepancies)
	confidence := resolutionConfidence(extractionConfidence, match.POMatchConfidence, discrepancies)

	// An unreliable match poisons every downstream comparison, whatever
	// the discrepancy list says.
	if match.POMatchConfidence < th.MatchMinConfidence {
		return model.ResolutionResult{
			RecommendedAction: model.ActionEscalateToHuman,
			Confidence:        confidence,
			RiskLevel:         escalationRisk(maxSev),
			Discrepancies:     discrepancies,
		}
	}

	var action model.Action
	switch maxSev {
	case "", model.SeverityLow:
		action = model.ActionAutoApprove
	case model.SeverityMedium:
		action = model.ActionFlagForReview
	case model.SeverityHigh:
		if match.POMatchConfidence >= th.MatchHighConfidence {
			action = model.ActionFlagForReview
		} else {
			action = model.ActionEscalateToHuman
		}
	default: // critical
		action = model.ActionEscalateToHuman
	}

	return model.ResolutionResult{
		RecommendedAction: action,
		Confidence:        confidence,
		RiskLevel:         riskForSeverity(maxSev),
		Discrepancies:     discrepancies,
	}
}

// resolutionConfidence propagates the weakest upstream signal, discounted
// for each severe discrepancy still on the table.
func resolutionConfidence(extractionConf, matchConf float64, discrepancies []model.Discrepancy) float64 {
	conf := math.Min(extractionConf, matchConf)
	for _, d := range discrepancies {
		switch d.Severity {
		case model.SeverityHigh:
			conf -= highSeverityPenalty
		case model.SeverityCritical:
			conf -= criticalSeverityPenalty
		}
	}
	return math.Max(0, math.Min(1, conf))
}

func riskForSeverity(sev model.Severity) model.RiskLevel {
	switch sev {
	case model.SeverityLow:
		return model.RiskLow
	case model.SeverityMedium:
		return model.RiskMedium
	case model.SeverityHigh:
		return model.RiskHigh
	case model.SeverityCritical:
		return model.RiskCritical
	default:
		return model.RiskNone
	}
}

// escalationRisk floors the reported risk at high when escalating over an
// unreliable match.
func escalationRisk(sev model.Severity) model.RiskLevel {
	risk := riskForSeverity(sev)
	if sev.Rank() < model.SeverityHigh.Rank() {
		risk = model.RiskHigh
	}
	return risk
}
