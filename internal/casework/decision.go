package casework

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/collector/internal/domain"
)

const day = 24 * time.Hour

// DaysPastDue returns the whole days elapsed from due to now, floored at zero.
func DaysPastDue(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / day)
}

// DecisionKey fingerprints a decision's inputs and outputs. Matched rule
// codes are sorted so the key does not depend on evaluation order.
func DecisionKey(caseID string, dpd int, riskScore float64, d domain.Decision) string {
	matched := slices.Clone(d.MatchedRules)
	slices.Sort(matched)

	raw := strings.Join([]string{
		caseID,
		strconv.Itoa(dpd),
		strconv.FormatFloat(riskScore, 'f', -1, 64),
		string(d.Stage),
		string(d.AssignmentGroup),
		d.AssignedTo,
		strings.Join(matched, ","),
	}, ":")

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RecordDecision writes the audit row for d unless one with the same key
// already exists. A concurrent identical insert is reported as
// DecisionAlreadyRecorded, never as an error.
func RecordDecision(ctx context.Context, st domain.Store, caseID string, dpd int, riskScore float64, d domain.Decision, now time.Time) (string, domain.DecisionInsertOutcome, error) {
	key := DecisionKey(caseID, dpd, riskScore, d)

	if _, err := st.GetRuleDecisionByKey(ctx, key); err == nil {
		return key, domain.DecisionAlreadyRecorded, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return key, 0, err
	}

	matched := d.MatchedRules
	if matched == nil {
		matched = []string{}
	}
	outcome, err := st.InsertRuleDecision(ctx, &domain.RuleDecision{
		ID:           uuid.NewString(),
		CaseID:       caseID,
		MatchedRules: matched,
		Reason:       d.Reason,
		DecisionKey:  key,
		CreatedAt:    now.UTC(),
	})
	if err != nil {
		return key, 0, err
	}
	return key, outcome, nil
}
