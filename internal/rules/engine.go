package rules

import (
	"strconv"
	"strings"

	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/collector/internal/domain"
)

// NoMatchReason is recorded when no rule matches a case.
const NoMatchReason = "No rule matched. Defaulting to Tier1Queue and SOFT stage."

// Evaluate runs every rule in priority order against the inputs. Matching
// rules apply cumulatively: a stage action overwrites the stage, a group
// action overwrites the group and resets the assignee to the group's queue,
// and an assignedTo action overwrites the assignee.
//
// Evaluate has no side effects; equal inputs always yield equal decisions.
func (s *Snapshot) Evaluate(dpd int, riskScore float64, currentStage domain.CaseStage) domain.Decision {
	d := domain.Decision{
		Stage:           currentStage,
		AssignmentGroup: domain.GroupTier1,
		AssignedTo:      domain.GroupTier1.DefaultAssignee(),
		MatchedRules:    []string{},
	}

	activation := map[string]any{
		"dpd":        int64(dpd),
		"risk_score": riskScore,
		"stage":      string(currentStage),
	}
	var reasons []string

	for _, cr := range s.rules {
		if !cr.matches(dpd, riskScore, activation) {
			continue
		}

		d.MatchedRules = append(d.MatchedRules, cr.Rule.Code)

		a := cr.Rule.Actions
		if a.Stage != nil {
			d.Stage = *a.Stage
		}
		if a.AssignGroup != nil {
			d.AssignmentGroup = *a.AssignGroup
			d.AssignedTo = a.AssignGroup.DefaultAssignee()
		}
		if a.AssignedTo != nil {
			d.AssignedTo = *a.AssignedTo
		}

		reasons = append(reasons, cr.reason(dpd, riskScore))
	}

	if len(d.MatchedRules) == 0 {
		reasons = append(reasons, NoMatchReason)
	}
	d.Reason = strings.Join(reasons, "; ")

	return d
}

// matches reports whether every set condition holds. A rule with no
// conditions matches everything. An expression that fails to evaluate
// does not match.
func (cr *CompiledRule) matches(dpd int, riskScore float64, activation map[string]any) bool {
	c := cr.Rule.Conditions

	if c.DPDMin != nil && dpd < *c.DPDMin {
		return false
	}
	if c.DPDMax != nil && dpd > *c.DPDMax {
		return false
	}
	if c.DPDGt != nil && dpd <= *c.DPDGt {
		return false
	}
	if c.RiskScoreGt != nil && riskScore <= *c.RiskScoreGt {
		return false
	}

	if cr.Program != nil {
		out, _, err := cr.Program.Eval(activation)
		if err != nil {
			return false
		}
		if b, ok := out.(types.Bool); !ok || !bool(b) {
			return false
		}
	}

	return true
}

// reason renders "CODE (tokens) -> outputs" for a matched rule.
func (cr *CompiledRule) reason(dpd int, riskScore float64) string {
	c := cr.Rule.Conditions
	a := cr.Rule.Actions

	var tokens []string
	if c.DPDMin != nil || c.DPDMax != nil {
		tokens = append(tokens, "dpd="+strconv.Itoa(dpd))
	}
	if c.DPDGt != nil {
		tokens = append(tokens, "dpd>"+strconv.Itoa(*c.DPDGt))
	}
	if c.RiskScoreGt != nil {
		tokens = append(tokens, "riskScore="+formatScore(riskScore))
	}
	if c.Expression != "" {
		tokens = append(tokens, "expr")
	}

	var outputs []string
	if a.Stage != nil {
		outputs = append(outputs, "stage="+string(*a.Stage))
	}
	if a.AssignGroup != nil {
		outputs = append(outputs, "group="+string(*a.AssignGroup))
	}
	if a.AssignedTo != nil {
		outputs = append(outputs, "assignedTo="+*a.AssignedTo)
	}

	conditionText := "conditions met"
	if len(tokens) > 0 {
		conditionText = strings.Join(tokens, ", ")
	}
	outputText := "no action"
	if len(outputs) > 0 {
		outputText = strings.Join(outputs, ", ")
	}

	return cr.Rule.Code + " (" + conditionText + ") -> " + outputText
}

// formatScore prints the shortest representation, so 92 renders as "92"
// and 85.5 as "85.5".
func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
