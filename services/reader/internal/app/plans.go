package app

import (
	"context"
	"errors"

	"pdfreader/pkg/domain"
	"pdfreader/pkg/events"
	"pdfreader/pkg/usage"
)

// Usage returns the user's plan, limits and counters for the current period.
func (a *App) Usage(userID string) (usage.Summary, error) {
	return a.ledger.Summary(userID)
}

// Plans lists the plan catalog.
func (a *App) Plans() ([]domain.PlanLimits, error) {
	return a.ledger.Plans()
}

// SetPlan moves the user to planType starting today. A trial plan has the
// same limits and counts as current until it is replaced.
func (a *App) SetPlan(ctx context.Context, userID, planType string, trial bool) (domain.Plan, error) {
	change := a.ledger.SetPlan
	if trial {
		change = a.ledger.StartTrial
	}
	plan, err := change(userID, planType)
	if errors.Is(err, usage.ErrUnknownPlan) {
		return domain.Plan{}, invalid("unknown plan type")
	}
	if err != nil {
		return domain.Plan{}, err
	}
	events.Emit(ctx, a.events, events.PlanChanged, map[string]any{
		"userId":   userID,
		"planId":   plan.ID,
		"planType": plan.PlanType,
		"status":   string(plan.Status),
	})
	return plan, nil
}
