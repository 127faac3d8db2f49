package domain

// AssignmentRule is one entry of the rule file.
// Lower Priority values are evaluated first.
type AssignmentRule struct {
	Code        string         `json:"code" yaml:"code"`
	Description string         `json:"description" yaml:"description"`
	Priority    int            `json:"priority" yaml:"priority"`
	Conditions  RuleConditions `json:"conditions" yaml:"conditions"`
	Actions     RuleActions    `json:"actions" yaml:"actions"`
}

// RuleConditions are ANDed together. A rule with no conditions always matches.
type RuleConditions struct {
	DPDMin      *int     `json:"dpdMin,omitempty" yaml:"dpdMin,omitempty"`
	DPDMax      *int     `json:"dpdMax,omitempty" yaml:"dpdMax,omitempty"`
	DPDGt       *int     `json:"dpdGt,omitempty" yaml:"dpdGt,omitempty"`
	RiskScoreGt *float64 `json:"riskScoreGt,omitempty" yaml:"riskScoreGt,omitempty"`

	// Expression is an optional CEL predicate over dpd, risk_score and stage.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// RuleActions are the overrides a matching rule applies.
type RuleActions struct {
	Stage       *CaseStage       `json:"stage,omitempty" yaml:"stage,omitempty"`
	AssignGroup *AssignmentGroup `json:"assignGroup,omitempty" yaml:"assignGroup,omitempty"`
	AssignedTo  *string          `json:"assignedTo,omitempty" yaml:"assignedTo,omitempty"`
}

// Decision is the output of the decision engine.
type Decision struct {
	Stage           CaseStage       `json:"stage"`
	AssignmentGroup AssignmentGroup `json:"assignmentGroup"`
	AssignedTo      string          `json:"assignedTo"`
	MatchedRules    []string        `json:"matchedRules"`
	Reason          string          `json:"reason"`
}

// SameAssignment reports whether c already carries the decision's stage, group and assignee.
func (d *Decision) SameAssignment(c *Case) bool {
	return c.Stage == d.Stage &&
		c.Group() == d.AssignmentGroup &&
		c.AssignedTo != nil && *c.AssignedTo == d.AssignedTo
}
