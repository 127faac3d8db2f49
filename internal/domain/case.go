package domain

import (
	"time"
)

// CaseStage is the delinquency severity bucket driving treatment intensity.
type CaseStage string

const (
	StageSoft  CaseStage = "SOFT"
	StageHard  CaseStage = "HARD"
	StageLegal CaseStage = "LEGAL"
)

// Valid reports whether s is a known stage.
func (s CaseStage) Valid() bool {
	switch s {
	case StageSoft, StageHard, StageLegal:
		return true
	}
	return false
}

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	StatusOpen       CaseStatus = "OPEN"
	StatusInProgress CaseStatus = "IN_PROGRESS"
	StatusResolved   CaseStatus = "RESOLVED"
	StatusClosed     CaseStatus = "CLOSED"
)

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether no further actions or assignment runs are accepted.
func (s CaseStatus) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// ActiveStatuses are the statuses counted by the one-active-case-per-loan rule.
var ActiveStatuses = []CaseStatus{StatusOpen, StatusInProgress}

// AssignmentGroup is the queue tier a case is routed to.
type AssignmentGroup string

const (
	GroupTier1 AssignmentGroup = "Tier1"
	GroupTier2 AssignmentGroup = "Tier2"
	GroupLegal AssignmentGroup = "Legal"
)

// groupDefaultAssignee maps each tier to the queue it falls back to.
var groupDefaultAssignee = map[AssignmentGroup]string{
	GroupTier1: "Tier1Queue",
	GroupTier2: "Tier2Queue",
	GroupLegal: "LegalDesk",
}

// Valid reports whether g is a known assignment group.
func (g AssignmentGroup) Valid() bool {
	_, ok := groupDefaultAssignee[g]
	return ok
}

// DefaultAssignee returns the queue a case lands in when a rule only sets the group.
func (g AssignmentGroup) DefaultAssignee() string {
	return groupDefaultAssignee[g]
}

// LoanStatus is the servicing status of a loan.
type LoanStatus string

const (
	LoanActive    LoanStatus = "ACTIVE"
	LoanClosed    LoanStatus = "CLOSED"
	LoanDefaulted LoanStatus = "DEFAULTED"
)

// ActionType is the channel used for a contact attempt.
type ActionType string

const (
	ActionCall     ActionType = "CALL"
	ActionSMS      ActionType = "SMS"
	ActionEmail    ActionType = "EMAIL"
	ActionWhatsApp ActionType = "WHATSAPP"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCall, ActionSMS, ActionEmail, ActionWhatsApp:
		return true
	}
	return false
}

// ActionOutcome is the result of a contact attempt.
type ActionOutcome string

const (
	OutcomeNoAnswer     ActionOutcome = "NO_ANSWER"
	OutcomePromiseToPay ActionOutcome = "PROMISE_TO_PAY"
	OutcomePaid         ActionOutcome = "PAID"
	OutcomeWrongNumber  ActionOutcome = "WRONG_NUMBER"
)

// Valid reports whether o is a known outcome.
func (o ActionOutcome) Valid() bool {
	switch o {
	case OutcomeNoAnswer, OutcomePromiseToPay, OutcomePaid, OutcomeWrongNumber:
		return true
	}
	return false
}

// Customer is read-only input to assignment decisions.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Country   string    `json:"country"`
	RiskScore float64   `json:"riskScore"`
	CreatedAt time.Time `json:"createdAt"`
}

// Loan carries the due date that drives days-past-due.
type Loan struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customerId"`
	Principal   float64    `json:"principal"`
	Outstanding float64    `json:"outstanding"`
	DueDate     time.Time  `json:"dueDate"`
	Status      LoanStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Case is a delinquent loan under collection.
type Case struct {
	ID              string           `json:"id"`
	CustomerID      string           `json:"customerId"`
	LoanID          string           `json:"loanId"`
	DPD             int              `json:"dpd"`
	Stage           CaseStage        `json:"stage"`
	Status          CaseStatus       `json:"status"`
	AssignmentGroup *AssignmentGroup `json:"assignmentGroup"`
	AssignedTo      *string          `json:"assignedTo"`
	Version         int              `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	ResolvedAt      *time.Time       `json:"resolvedAt"`
}

// Group returns the assignment group or "" when unassigned.
func (c *Case) Group() AssignmentGroup {
	if c.AssignmentGroup == nil {
		return ""
	}
	return *c.AssignmentGroup
}

// Assignee returns the assignee or "" when unassigned.
func (c *Case) Assignee() string {
	if c.AssignedTo == nil {
		return ""
	}
	return *c.AssignedTo
}

// CaseRecord is a case loaded together with its customer and loan.
type CaseRecord struct {
	Case
	Customer Customer `json:"customer"`
	Loan     Loan     `json:"loan"`
}

// CaseDetails is the full read model of a single case.
type CaseDetails struct {
	CaseRecord
	ActionLogs    []ActionLog    `json:"actionLogs"`
	RuleDecisions []RuleDecision `json:"ruleDecisions"`
}

// ActionLog is an append-only record of a contact attempt.
type ActionLog struct {
	ID        string        `json:"id"`
	CaseID    string        `json:"caseId"`
	Type      ActionType    `json:"type"`
	Outcome   ActionOutcome `json:"outcome"`
	Notes     *string       `json:"notes"`
	CreatedAt time.Time     `json:"createdAt"`
}

// RuleDecision is an append-only audit record of an applied decision.
type RuleDecision struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"caseId"`
	MatchedRules []string  `json:"matchedRules"`
	Reason       string    `json:"reason"`
	DecisionKey  string    `json:"decisionKey"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DashboardMetrics summarises the case book.
type DashboardMetrics struct {
	OpenCasesCount     int     `json:"openCasesCount"`
	ResolvedTodayCount int     `json:"resolvedTodayCount"`
	AvgOpenDPD         float64 `json:"avgOpenDpd"`
}
