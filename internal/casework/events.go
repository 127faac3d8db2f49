package casework

import (
	"context"
	"encoding/json"

	"github.com/opensource-finance/collector/internal/domain"
)

// publishCase sends a lifecycle event. The mutation is already committed,
// so failures are logged and dropped.
func (s *Service) publishCase(ctx context.Context, topic string, c *domain.Case, matched []string) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.CaseEvent{
		CaseID:          c.ID,
		LoanID:          c.LoanID,
		Stage:           c.Stage,
		Status:          c.Status,
		AssignmentGroup: c.Group(),
		AssignedTo:      c.Assignee(),
		Version:         c.Version,
		MatchedRules:    matched,
	})
	if err != nil {
		s.logger.Warn("failed to encode case event", "topic", topic, "case_id", c.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("failed to publish case event", "topic", topic, "case_id", c.ID, "error", err)
	}
}

func firstDecisionRules(d *domain.CaseDetails) []string {
	if len(d.RuleDecisions) == 0 {
		return nil
	}
	return d.RuleDecisions[0].MatchedRules
}
