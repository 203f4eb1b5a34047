package trigger

import (
	"context"

	"github.com/ignite/member-messaging/internal/condition"
	"github.com/ignite/member-messaging/internal/domain"
	"github.com/ignite/member-messaging/internal/pkg/logger"
)

// matchRules returns the active rules for the event whose conditions hold
// against the payload. Matching is side-effect-free; a malformed predicate
// fails closed (rule not matched) and is logged, never surfaced.
func (e *Engine) matchRules(ctx context.Context, event domain.Event) ([]domain.AutomationRule, error) {
	rules, rawConds, err := e.store.ActiveRulesByEvent(ctx, event.Name)
	if err != nil {
		return nil, err
	}

	var matched []domain.AutomationRule
	for i, rule := range rules {
		pred, err := condition.Parse(rawConds[i])
		if err != nil {
			logger.Warn("rule has malformed conditions, skipping", "rule", rule.ID, "error", err.Error())
			continue
		}
		if !pred.Evaluate(event.Payload) {
			continue
		}
		matched = append(matched, rule)
	}
	return matched, nil
}

// matchSequences returns the active sequences triggered by the event whose
// trigger conditions hold against the payload. Non-matching sequences are
// dropped silently; malformed conditions fail closed.
func (e *Engine) matchSequences(ctx context.Context, event domain.Event) ([]domain.Sequence, error) {
	seqs, rawConds, err := e.store.ActiveSequencesByTrigger(ctx, event.Name)
	if err != nil {
		return nil, err
	}

	var matched []domain.Sequence
	for i, seq := range seqs {
		pred, err := condition.Parse(rawConds[i])
		if err != nil {
			logger.Warn("sequence has malformed trigger conditions, skipping", "sequence", seq.ID, "error", err.Error())
			continue
		}
		if !pred.Evaluate(event.Payload) {
			continue
		}
		matched = append(matched, seq)
	}
	return matched, nil
}
