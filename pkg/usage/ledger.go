package usage

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"pdfreader/pkg/domain"
	"pdfreader/pkg/store"
)

// Ledger records usage per billing period and answers limit checks.
// Checks read current usage and do not reserve anything: two concurrent
// callers can both pass a check before either increments.
type Ledger struct {
	store store.LedgerStore
	now   func() time.Time
	newID func() string
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDs replaces the row id generator.
func WithIDs(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// NewLedger builds a ledger over s.
func NewLedger(s store.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{store: s, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Seed inserts the default plan tiers that are missing.
func (l *Ledger) Seed() error {
	return l.store.SeedPlanLimits(DefaultCatalog())
}

// Plans lists all plan tiers.
func (l *Ledger) Plans() ([]domain.PlanLimits, error) {
	return l.store.ListPlanLimits()
}

// ActivePlan returns the user's current plan, if any. A trial counts.
func (l *Ledger) ActivePlan(userID string) (domain.Plan, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Plan{}, false, nil
	}
	return l.store.GetActivePlan(userID)
}

// EnsurePlan returns the user's plan, starting a free plan on first use.
func (l *Ledger) EnsurePlan(userID string) (domain.Plan, error) {
	plan, ok, err := l.ActivePlan(userID)
	if err != nil {
		return domain.Plan{}, err
	}
	if ok {
		return plan, nil
	}
	now := l.now().UTC()
	plan = domain.Plan{
		ID:        l.newID(),
		UserID:    userID,
		PlanType:  PlanFree,
		Status:    domain.PlanActive,
		StartedAt: now,
	}
	err = l.store.CreatePlan(plan)
	if errors.Is(err, store.ErrDuplicate) {
		// Another request started the plan first; keep its anchor date.
		plan, ok, err = l.ActivePlan(userID)
		if err == nil && !ok {
			err = fmt.Errorf("plan for %s vanished after conflict", userID)
		}
	}
	if err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}

// SetPlan expires the user's current plan and starts planType now, which
// restarts the billing cycle.
func (l *Ledger) SetPlan(userID, planType string) (domain.Plan, error) {
	return l.changePlan(userID, planType, domain.PlanActive)
}

// StartTrial is SetPlan with the trial status.
func (l *Ledger) StartTrial(userID, planType string) (domain.Plan, error) {
	return l.changePlan(userID, planType, domain.PlanTrial)
}

func (l *Ledger) changePlan(userID, planType string, status domain.PlanStatus) (domain.Plan, error) {
	planType = strings.ToLower(strings.TrimSpace(planType))
	if _, err := l.limits(planType); err != nil {
		return domain.Plan{}, err
	}
	plan, err := l.replacePlan(userID, planType, status)
	if err != nil {
		return domain.Plan{}, err
	}
	slog.Info("plan changed", "user_id", userID, "plan_type", planType, "status", string(status))
	return plan, nil
}

func (l *Ledger) replacePlan(userID, planType string, status domain.PlanStatus) (domain.Plan, error) {
	now := l.now().UTC()
	plan := domain.Plan{
		ID:        l.newID(),
		UserID:    userID,
		PlanType:  planType,
		Status:    status,
		StartedAt: now,
	}
	if err := l.store.ReplaceActivePlan(plan, now); err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}

func (l *Ledger) limits(planType string) (domain.PlanLimits, error) {
	limits, ok, err := l.store.GetPlanLimits(planType)
	if err != nil {
		return domain.PlanLimits{}, err
	}
	if ok {
		return limits, nil
	}
	if limits, ok := catalogLimits(planType); ok {
		return limits, nil
	}
	return domain.PlanLimits{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planType)
}

// CurrentPeriod returns the ledger row for today's period of plan, creating
// it on first use. Losing a creation race re-reads the winner's row.
func (l *Ledger) CurrentPeriod(userID string, plan domain.Plan) (domain.UsagePeriod, error) {
	now := l.now().UTC()
	start, end := PeriodFor(plan.StartedAt, now)
	period, ok, err := l.store.GetUsagePeriod(userID, start)
	if err != nil {
		return domain.UsagePeriod{}, err
	}
	if ok {
		return period, nil
	}
	period = domain.UsagePeriod{
		ID:          l.newID(),
		UserID:      userID,
		PlanID:      plan.ID,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = l.store.CreateUsagePeriod(period)
	if err == nil {
		return period, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return domain.UsagePeriod{}, err
	}
	period, ok, err = l.store.GetUsagePeriod(userID, start)
	if err != nil {
		return domain.UsagePeriod{}, err
	}
	if !ok {
		return domain.UsagePeriod{}, fmt.Errorf("usage period %s/%s missing after conflict", userID, start.Format(time.DateOnly))
	}
	return period, nil
}

// Increment adds delta to the current period. Zero deltas do nothing.
func (l *Ledger) Increment(userID string, delta domain.UsageDelta) error {
	if delta.StorageBytes < 0 || delta.Files < 0 || delta.Tokens < 0 || delta.Questions < 0 {
		return ErrNegativeDelta
	}
	if delta.IsZero() {
		return nil
	}
	plan, err := l.EnsurePlan(userID)
	if err != nil {
		return err
	}
	period, err := l.CurrentPeriod(userID, plan)
	if err != nil {
		return err
	}
	return l.store.IncrementUsage(period.ID, delta)
}

// Summary is a user's plan, limits, and current-period usage.
type Summary struct {
	Plan   domain.Plan        `json:"plan"`
	Limits domain.PlanLimits  `json:"limits"`
	Period domain.UsagePeriod `json:"period"`
}

// Summary reports the user's current standing.
func (l *Ledger) Summary(userID string) (Summary, error) {
	plan, limits, period, err := l.state(userID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Plan: plan, Limits: limits, Period: period}, nil
}

func (l *Ledger) state(userID string) (domain.Plan, domain.PlanLimits, domain.UsagePeriod, error) {
	plan, err := l.EnsurePlan(userID)
	if err != nil {
		return domain.Plan{}, domain.PlanLimits{}, domain.UsagePeriod{}, err
	}
	limits, err := l.limits(plan.PlanType)
	if err != nil {
		return domain.Plan{}, domain.PlanLimits{}, domain.UsagePeriod{}, err
	}
	period, err := l.CurrentPeriod(userID, plan)
	if err != nil {
		return domain.Plan{}, domain.PlanLimits{}, domain.UsagePeriod{}, err
	}
	return plan, limits, period, nil
}
