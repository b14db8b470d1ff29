package usage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pdfreader/pkg/domain"
	"pdfreader/pkg/store"
)

func newTestLedger(t *testing.T, now time.Time) (*Ledger, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	var seq atomic.Int64
	l := NewLedger(mem,
		WithClock(func() time.Time { return now }),
		WithIDs(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	)
	if err := l.Seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return l, mem
}

func TestEnsurePlanStartsFree(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	plan, err := l.EnsurePlan("u1")
	if err != nil {
		t.Fatalf("ensure plan: %v", err)
	}
	if plan.PlanType != PlanFree || plan.Status != domain.PlanActive {
		t.Fatalf("plan = %s/%s, want free/active", plan.PlanType, plan.Status)
	}
	again, err := l.EnsurePlan("u1")
	if err != nil {
		t.Fatalf("ensure plan again: %v", err)
	}
	if again.ID != plan.ID {
		t.Fatalf("second plan id = %s, want %s", again.ID, plan.ID)
	}
}

func TestCurrentPeriodIdempotent(t *testing.T) {
	l, mem := newTestLedger(t, day(2025, 3, 5))
	plan, err := l.EnsurePlan("u1")
	if err != nil {
		t.Fatalf("ensure plan: %v", err)
	}
	first, err := l.CurrentPeriod("u1", plan)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := l.CurrentPeriod("u1", plan)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("period ids = %s, %s, want equal", first.ID, second.ID)
	}
	stored, ok, err := mem.GetUsagePeriod("u1", first.PeriodStart)
	if err != nil || !ok || stored.ID != first.ID {
		t.Fatalf("stored period = %+v ok=%v err=%v", stored, ok, err)
	}
}

func TestCurrentPeriodLosesCreateRace(t *testing.T) {
	l, mem := newTestLedger(t, day(2025, 3, 5))
	plan, err := l.EnsurePlan("u1")
	if err != nil {
		t.Fatalf("ensure plan: %v", err)
	}
	var winner domain.UsagePeriod
	var raced bool
	mem.BeforeCreatePeriod = func(domain.UsagePeriod) {
		if raced {
			return
		}
		raced = true
		var err error
		winner, err = l.CurrentPeriod("u1", plan)
		if err != nil {
			t.Errorf("concurrent create: %v", err)
		}
	}
	got, err := l.CurrentPeriod("u1", plan)
	if err != nil {
		t.Fatalf("current period: %v", err)
	}
	if !raced {
		t.Fatal("create hook never ran")
	}
	if got.ID != winner.ID {
		t.Fatalf("period id = %s, want winner %s", got.ID, winner.ID)
	}
}

func TestFirstPeriodClampsAnniversary(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 1, 31))
	plan, err := l.SetPlan("u1", PlanPro)
	if err != nil {
		t.Fatalf("set plan: %v", err)
	}
	period, err := l.CurrentPeriod("u1", plan)
	if err != nil {
		t.Fatalf("current period: %v", err)
	}
	if !period.PeriodEnd.Equal(day(2025, 2, 28)) {
		t.Fatalf("period end = %s, want 2025-02-28", period.PeriodEnd.Format(time.DateOnly))
	}
}

func TestIncrementAccumulates(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	for i := 0; i < 2; i++ {
		if err := l.Increment("u1", domain.UsageDelta{Tokens: 50}); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := l.Increment("u1", domain.UsageDelta{}); err != nil {
		t.Fatalf("zero increment: %v", err)
	}
	summary, err := l.Summary("u1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Period.TokensUsed != 100 {
		t.Fatalf("tokensUsed = %d, want 100", summary.Period.TokensUsed)
	}
	if summary.Period.QuestionsUsed != 0 || summary.Period.StorageBytesUsed != 0 {
		t.Fatalf("unexpected counters %+v", summary.Period)
	}
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	const writers = 64
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Increment("u1", domain.UsageDelta{Tokens: 1, Questions: 1})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	summary, err := l.Summary("u1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Period.TokensUsed != writers || summary.Period.QuestionsUsed != writers {
		t.Fatalf("period = %+v, want %d tokens and questions", summary.Period, writers)
	}
}

func TestConcurrentEnsurePlanKeepsFirstPlan(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	const callers = 16
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan, err := l.EnsurePlan("u1")
			if err != nil {
				t.Errorf("ensure plan: %v", err)
				return
			}
			ids <- plan.ID
		}()
	}
	wg.Wait()
	close(ids)
	active, ok, err := l.ActivePlan("u1")
	if err != nil || !ok {
		t.Fatalf("active plan ok=%v err=%v", ok, err)
	}
	for id := range ids {
		if id != active.ID {
			t.Fatalf("plan id = %s, want the single active plan %s", id, active.ID)
		}
	}
}

func TestEnsurePlanDoesNotRestartExistingPlan(t *testing.T) {
	now := day(2025, 3, 5)
	l, _ := newTestLedger(t, now)
	first, err := l.EnsurePlan("u1")
	if err != nil {
		t.Fatalf("ensure plan: %v", err)
	}
	l.now = func() time.Time { return now.Add(time.Hour) }
	second, err := l.EnsurePlan("u1")
	if err != nil {
		t.Fatalf("ensure plan again: %v", err)
	}
	if second.ID != first.ID || !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("second = %+v, want unchanged %+v", second, first)
	}
}

func TestIncrementRejectsNegative(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	err := l.Increment("u1", domain.UsageDelta{Files: -1})
	if !errors.Is(err, ErrNegativeDelta) {
		t.Fatalf("err = %v, want ErrNegativeDelta", err)
	}
}

func TestZeroIncrementCreatesNothing(t *testing.T) {
	l, mem := newTestLedger(t, day(2025, 3, 5))
	if err := l.Increment("u1", domain.UsageDelta{}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, ok, _ := mem.GetActivePlan("u1"); ok {
		t.Fatal("zero increment started a plan")
	}
}

func TestCheckQuestionsBoundary(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	if err := l.Increment("u1", domain.UsageDelta{Questions: 99}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	d, err := l.CheckQuestions("u1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("99/100 denied: %s", d.Message)
	}
	if err := l.Increment("u1", domain.UsageDelta{Questions: 1}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	d, err = l.CheckQuestions("u1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("100/100 allowed")
	}
	var quota *QuotaExceededError
	if !errors.As(d.Err(), &quota) {
		t.Fatalf("Err() = %v, want QuotaExceededError", d.Err())
	}
	if quota.Kind != QuotaQuestions || quota.Limit != 100 || quota.Used != 100 {
		t.Fatalf("quota = %+v", quota)
	}
	if !quota.ResetsAt.Equal(day(2025, 4, 5)) {
		t.Fatalf("resetsAt = %s, want 2025-04-05", quota.ResetsAt.Format(time.DateOnly))
	}
}

func TestChecksAgainstFreeLimits(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	if err := l.Increment("u1", domain.UsageDelta{StorageBytes: gib - 10, Files: 20, Tokens: 99_000}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	cases := []struct {
		name  string
		check func() (Decision, error)
		want  bool
	}{
		{"storage fits", func() (Decision, error) { return l.CheckStorage("u1", 10) }, true},
		{"storage over", func() (Decision, error) { return l.CheckStorage("u1", 11) }, false},
		{"files full", func() (Decision, error) { return l.CheckFileCount("u1") }, false},
		{"file size ok", func() (Decision, error) { return l.CheckFileSize("u1", 50*mib) }, true},
		{"file size over", func() (Decision, error) { return l.CheckFileSize("u1", 50*mib+1) }, false},
		{"tokens fit", func() (Decision, error) { return l.CheckTokens("u1", 1000) }, true},
		{"tokens over", func() (Decision, error) { return l.CheckTokens("u1", 1001) }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := tc.check()
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if d.Allowed != tc.want {
				t.Fatalf("allowed = %v, want %v (%s)", d.Allowed, tc.want, d.Message)
			}
			if !d.Allowed && d.Message == "" {
				t.Fatal("denied without message")
			}
		})
	}
}

func TestUnlimitedFiles(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	if _, err := l.SetPlan("u1", "PRO"); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if err := l.Increment("u1", domain.UsageDelta{Files: 5000}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	d, err := l.CheckFileCount("u1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("pro file count denied: %s", d.Message)
	}
}

func TestSetPlanUnknown(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	_, err := l.SetPlan("u1", "enterprise")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("err = %v, want ErrUnknownPlan", err)
	}
}

func TestSetPlanExpiresPrevious(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	free, err := l.EnsurePlan("u1")
	if err != nil {
		t.Fatalf("ensure plan: %v", err)
	}
	team, err := l.SetPlan("u1", PlanTeam)
	if err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if team.ID == free.ID {
		t.Fatal("set plan reused the old row")
	}
	active, ok, err := l.ActivePlan("u1")
	if err != nil || !ok {
		t.Fatalf("active plan ok=%v err=%v", ok, err)
	}
	if active.ID != team.ID {
		t.Fatalf("active = %s, want %s", active.ID, team.ID)
	}
}

func TestTrialCountsAsActive(t *testing.T) {
	l, _ := newTestLedger(t, day(2025, 3, 5))
	trial, err := l.StartTrial("u1", PlanPro)
	if err != nil {
		t.Fatalf("start trial: %v", err)
	}
	plan, err := l.EnsurePlan("u1")
	if err != nil {
		t.Fatalf("ensure plan: %v", err)
	}
	if plan.ID != trial.ID || plan.Status != domain.PlanTrial {
		t.Fatalf("plan = %+v, want trial %s", plan, trial.ID)
	}
}
