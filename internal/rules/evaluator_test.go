package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memStore is an in-memory RuleStore
type memStore struct {
	rules         []Rule
	findErr       error
	lastTriggered map[string]time.Time
}

func newMemStore(ruleList ...Rule) *memStore {
	return &memStore{rules: ruleList, lastTriggered: make(map[string]time.Time)}
}

func (s *memStore) FindActiveRules(ctx context.Context, userID, walletID string) ([]Rule, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	var result []Rule
	for _, r := range s.rules {
		if r.Active && r.UserID == userID && r.WalletID == walletID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *memStore) ListActiveUserWalletPairs(ctx context.Context) ([]UserWalletPair, error) {
	seen := make(map[UserWalletPair]bool)
	var pairs []UserWalletPair
	for _, r := range s.rules {
		if !r.Active {
			continue
		}
		p := UserWalletPair{UserID: r.UserID, WalletID: r.WalletID}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

func (s *memStore) UpdateLastTriggered(ctx context.Context, ruleID string, ts time.Time) error {
	s.lastTriggered[ruleID] = ts
	return nil
}

// memLedger is an in-memory ExecutionLedger
type memLedger struct {
	executions []RuleExecution
	recordErr  error
	countErr   error
}

func (l *memLedger) Record(ctx context.Context, execution RuleExecution) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	l.executions = append(l.executions, execution)
	return nil
}

func (l *memLedger) CountSince(ctx context.Context, ruleID string, since time.Time) (uint, error) {
	if l.countErr != nil {
		return 0, l.countErr
	}
	var count uint
	for _, e := range l.executions {
		if e.RuleID == ruleID && !e.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (l *memLedger) Prune(ctx context.Context, olderThan time.Time) (uint, error) {
	var kept []RuleExecution
	var deleted uint
	for _, e := range l.executions {
		if e.Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	l.executions = kept
	return deleted, nil
}

func (l *memLedger) GetHistory(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error) {
	var result []RuleExecution
	for i := len(l.executions) - 1; i >= 0 && len(result) < limit; i-- {
		if l.executions[i].RuleID == ruleID {
			result = append(result, l.executions[i])
		}
	}
	return result, nil
}

// staticProviders serves fixed account and market snapshots
type staticProviders struct {
	account    AccountData
	accountErr error
	market     MarketData
}

func (p *staticProviders) GetAccountData(ctx context.Context, userID, walletID string) (AccountData, error) {
	if p.accountErr != nil {
		return AccountData{}, p.accountErr
	}
	return p.account, nil
}

func (p *staticProviders) GetMarketData(ctx context.Context) (MarketData, error) {
	return p.market, nil
}

func dailyLossRule() Rule {
	return Rule{
		ID:       "r1",
		UserID:   "u1",
		WalletID: "w1",
		Name:     "daily loss guard",
		Active:   true,
		Conditions: []Condition{
			{Type: ConditionDailyLoss, Operator: OpGreaterThanOrEqual, Value: 2, Unit: "percentage"},
		},
		Actions: []Action{{Type: ActionPauseTrading}},
	}
}

func accountWithPnL(balance, pnl float64) AccountData {
	return AccountData{
		Balance:          balance,
		DailyPerformance: &PerformanceWindow{ProfitLoss: pnl},
	}
}

func newTestEvaluator(store RuleStore, ledger ExecutionLedger, providers *staticProviders, caps *capabilityLog) *Evaluator {
	return NewEvaluator(store, ledger, newTestExecutor(caps), providers, providers, zerolog.Nop())
}

func TestEvaluateForUserNoRules(t *testing.T) {
	ev := newTestEvaluator(newMemStore(), &memLedger{}, &staticProviders{}, newCapabilityLog())

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")
	if !summary.Success {
		t.Errorf("no rules should be a success, got error %q", summary.Error)
	}
	if len(summary.TriggeredRules) != 0 {
		t.Errorf("expected no triggered rules, got %d", len(summary.TriggeredRules))
	}
}

func TestEvaluateForUserTriggersOnDailyLoss(t *testing.T) {
	// 2.5% daily loss against a 2% threshold: the rule fires, trading pauses,
	// and exactly one successful execution lands in the ledger
	store := newMemStore(dailyLossRule())
	ledger := &memLedger{}
	caps := newCapabilityLog()
	ev := newTestEvaluator(store, ledger, &staticProviders{account: accountWithPnL(1000, -25)}, caps)

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")

	if !summary.Success {
		t.Fatalf("unexpected error: %q", summary.Error)
	}
	if len(summary.TriggeredRules) != 1 || summary.TriggeredRules[0].ID != "r1" {
		t.Fatalf("expected rule r1 triggered, got %v", summary.TriggeredRules)
	}
	if len(caps.calls) != 1 || caps.calls[0] != "pauseTrading" {
		t.Errorf("expected one pauseTrading call, got %v", caps.calls)
	}
	if len(ledger.executions) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(ledger.executions))
	}

	exec := ledger.executions[0]
	if !exec.Success {
		t.Error("execution should record success")
	}
	if exec.RuleID != "r1" || exec.UserID != "u1" || exec.WalletID != "w1" {
		t.Errorf("execution identity wrong: %+v", exec)
	}
	if exec.Snapshot.AccountBalance != 1000 || exec.Snapshot.DailyPnL != -25 {
		t.Errorf("snapshot should hold balance and PnL, got %+v", exec.Snapshot)
	}
	if _, ok := store.lastTriggered["r1"]; !ok {
		t.Error("lastTriggered should have been updated")
	}
}

func TestEvaluateForUserBelowThreshold(t *testing.T) {
	// 1.0% loss: condition false, so no actions and no ledger record
	ledger := &memLedger{}
	caps := newCapabilityLog()
	ev := newTestEvaluator(newMemStore(dailyLossRule()), ledger, &staticProviders{account: accountWithPnL(1000, -10)}, caps)

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")

	if !summary.Success {
		t.Fatalf("unexpected error: %q", summary.Error)
	}
	if len(summary.TriggeredRules) != 0 {
		t.Errorf("expected no triggers, got %d", len(summary.TriggeredRules))
	}
	if len(caps.calls) != 0 {
		t.Errorf("no actions should run, got %v", caps.calls)
	}
	if len(ledger.executions) != 0 {
		t.Errorf("no record should be written, got %d", len(ledger.executions))
	}
}

func TestEvaluateForUserBalanceCondition(t *testing.T) {
	rule := dailyLossRule()
	rule.Conditions = []Condition{{Type: ConditionBalance, Operator: OpLessThan, Value: 500}}

	ledger := &memLedger{}
	ev := newTestEvaluator(newMemStore(rule), ledger, &staticProviders{account: accountWithPnL(1000, 0)}, newCapabilityLog())

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")
	if len(summary.TriggeredRules) != 0 {
		t.Error("balance 1000 should not satisfy lessThan 500")
	}
	if len(ledger.executions) != 0 {
		t.Error("untriggered rule must leave no ledger record")
	}
}

func TestEvaluateForUserThrottling(t *testing.T) {
	rule := dailyLossRule()
	rule.ExecutionLimit = &ExecutionLimit{Kind: LimitHourly, Limit: 2}

	now := time.Now().UTC()
	ledger := &memLedger{executions: []RuleExecution{
		{RuleID: "r1", Timestamp: now.Add(-10 * time.Minute)},
		{RuleID: "r1", Timestamp: now.Add(-40 * time.Minute)},
	}}
	caps := newCapabilityLog()
	ev := newTestEvaluator(newMemStore(rule), ledger, &staticProviders{account: accountWithPnL(1000, -25)}, caps)

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")

	if !summary.Success {
		t.Fatalf("throttled rule is not an error: %q", summary.Error)
	}
	if len(summary.TriggeredRules) != 0 {
		t.Error("rule at its hourly limit must be skipped")
	}
	if len(caps.calls) != 0 {
		t.Error("no actions may run for a throttled rule")
	}
	if len(ledger.executions) != 2 {
		t.Error("no new record may be written for a throttled rule")
	}
}

func TestEvaluateForUserThrottleWindowExpires(t *testing.T) {
	rule := dailyLossRule()
	rule.ExecutionLimit = &ExecutionLimit{Kind: LimitHourly, Limit: 2}

	// Both prior firings are outside the rolling hour, so the rule may fire
	now := time.Now().UTC()
	ledger := &memLedger{executions: []RuleExecution{
		{RuleID: "r1", Timestamp: now.Add(-2 * time.Hour)},
		{RuleID: "r1", Timestamp: now.Add(-3 * time.Hour)},
	}}
	ev := newTestEvaluator(newMemStore(rule), ledger, &staticProviders{account: accountWithPnL(1000, -25)}, newCapabilityLog())

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")
	if len(summary.TriggeredRules) != 1 {
		t.Error("rule with expired window firings should trigger again")
	}
	if len(ledger.executions) != 3 {
		t.Errorf("expected a third record, got %d", len(ledger.executions))
	}
}

func TestEvaluateForUserDailyThrottleWindow(t *testing.T) {
	// The daily window starts at UTC midnight, not 24 hours back
	rule := dailyLossRule()
	rule.ExecutionLimit = &ExecutionLimit{Kind: LimitDaily, Limit: 1}

	now := time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)

	t.Run("firing before midnight does not count", func(t *testing.T) {
		ledger := &memLedger{executions: []RuleExecution{
			{RuleID: "r1", Timestamp: time.Date(2026, 3, 13, 23, 30, 0, 0, time.UTC)},
		}}
		ev := newTestEvaluator(newMemStore(rule), ledger, &staticProviders{account: accountWithPnL(1000, -25)}, newCapabilityLog())
		ev.now = func() time.Time { return now }

		summary := ev.EvaluateForUser(context.Background(), "u1", "w1")
		if len(summary.TriggeredRules) != 1 {
			t.Error("yesterday's firing must not count toward today's limit")
		}
		if len(ledger.executions) != 2 {
			t.Errorf("expected a new record, got %d total", len(ledger.executions))
		}
	})

	t.Run("firing after midnight counts", func(t *testing.T) {
		ledger := &memLedger{executions: []RuleExecution{
			{RuleID: "r1", Timestamp: time.Date(2026, 3, 14, 0, 30, 0, 0, time.UTC)},
		}}
		caps := newCapabilityLog()
		ev := newTestEvaluator(newMemStore(rule), ledger, &staticProviders{account: accountWithPnL(1000, -25)}, caps)
		ev.now = func() time.Time { return now }

		summary := ev.EvaluateForUser(context.Background(), "u1", "w1")
		if len(summary.TriggeredRules) != 0 || len(caps.calls) != 0 {
			t.Error("a firing after UTC midnight must count toward today's limit")
		}
		if len(ledger.executions) != 1 {
			t.Errorf("no new record may be written for a throttled rule, got %d", len(ledger.executions))
		}
	})
}

func TestEvaluateForUserContextLoadError(t *testing.T) {
	providers := &staticProviders{accountErr: errors.New("portfolio service down")}
	ledger := &memLedger{}
	caps := newCapabilityLog()
	ev := newTestEvaluator(newMemStore(dailyLossRule()), ledger, providers, caps)

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")

	if summary.Success {
		t.Error("context load failure must fail the summary")
	}
	if summary.Error == "" {
		t.Error("failure must carry a structured error")
	}
	if len(caps.calls) != 0 || len(ledger.executions) != 0 {
		t.Error("nothing may execute without a context")
	}
}

func TestEvaluateForUserRuleLoadError(t *testing.T) {
	store := newMemStore()
	store.findErr = errors.New("connection reset")
	ev := newTestEvaluator(store, &memLedger{}, &staticProviders{}, newCapabilityLog())

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")
	if summary.Success {
		t.Error("rule load failure must fail the summary")
	}
}

func TestEvaluateForUserRecordsFailedActions(t *testing.T) {
	// The attempt is the auditable fact: a failing action still produces a
	// ledger record, with success=false, and still counts toward throttling
	caps := newCapabilityLog()
	caps.failOn["pauseTrading"] = errors.New("redis down")
	ledger := &memLedger{}
	ev := newTestEvaluator(newMemStore(dailyLossRule()), ledger, &staticProviders{account: accountWithPnL(1000, -25)}, caps)

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")

	if !summary.Success {
		t.Fatalf("action failure is not a summary failure: %q", summary.Error)
	}
	if len(summary.TriggeredRules) != 1 {
		t.Error("the rule still triggered")
	}
	if len(ledger.executions) != 1 {
		t.Fatalf("expected one record, got %d", len(ledger.executions))
	}
	if ledger.executions[0].Success {
		t.Error("record must reflect the failed action run")
	}
}

func TestEvaluateForUserThrottleReadFailureBlocksRule(t *testing.T) {
	rule := dailyLossRule()
	rule.ExecutionLimit = &ExecutionLimit{Kind: LimitHourly, Limit: 2}

	ledger := &memLedger{countErr: errors.New("timeout")}
	caps := newCapabilityLog()
	ev := newTestEvaluator(newMemStore(rule), ledger, &staticProviders{account: accountWithPnL(1000, -25)}, caps)

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")

	if len(summary.TriggeredRules) != 0 || len(caps.calls) != 0 {
		t.Error("a rule must not fire when its throttle count cannot be read")
	}
	if len(summary.RuleErrors) != 1 || summary.RuleErrors[0].RuleID != "r1" {
		t.Errorf("the skipped rule must be reported in RuleErrors, got %v", summary.RuleErrors)
	}
}

func TestEvaluateForUserSurfacesRecordFailure(t *testing.T) {
	// Actions already ran, so the trigger stands, but the lost ledger write is
	// visible to the caller instead of only in the logs
	ledger := &memLedger{recordErr: errors.New("disk full")}
	caps := newCapabilityLog()
	ev := newTestEvaluator(newMemStore(dailyLossRule()), ledger, &staticProviders{account: accountWithPnL(1000, -25)}, caps)

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")

	if !summary.Success {
		t.Fatalf("a per-rule degradation is not a pair failure: %q", summary.Error)
	}
	if len(summary.TriggeredRules) != 1 {
		t.Error("the rule still triggered and must be reported as such")
	}
	if len(caps.calls) != 1 {
		t.Errorf("actions must have run, got %v", caps.calls)
	}
	if len(summary.RuleErrors) != 1 || summary.RuleErrors[0].RuleID != "r1" {
		t.Fatalf("the lost record must appear in RuleErrors, got %v", summary.RuleErrors)
	}
	if summary.RuleErrors[0].Error == "" {
		t.Error("the rule error must carry the cause")
	}
}

func TestEvaluateForUserStableRuleOrder(t *testing.T) {
	first := dailyLossRule()
	second := dailyLossRule()
	second.ID = "r2"
	second.Name = "second guard"
	second.Actions = []Action{{Type: ActionSendAlert, Message: "loss"}}

	ledger := &memLedger{}
	caps := newCapabilityLog()
	ev := newTestEvaluator(newMemStore(first, second), ledger, &staticProviders{account: accountWithPnL(1000, -25)}, caps)

	summary := ev.EvaluateForUser(context.Background(), "u1", "w1")

	if len(summary.TriggeredRules) != 2 {
		t.Fatalf("expected both rules to trigger, got %d", len(summary.TriggeredRules))
	}
	if summary.TriggeredRules[0].ID != "r1" || summary.TriggeredRules[1].ID != "r2" {
		t.Error("rules must evaluate in store order")
	}
	if len(caps.calls) != 2 || caps.calls[0] != "pauseTrading" || caps.calls[1] != "sendAlert" {
		t.Errorf("actions must follow rule order, got %v", caps.calls)
	}
}

func TestGetHistoryNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	ledger := &memLedger{executions: []RuleExecution{
		{ID: "e1", RuleID: "r1", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "e2", RuleID: "r1", Timestamp: now.Add(-1 * time.Hour)},
		{ID: "e3", RuleID: "other", Timestamp: now},
	}}
	ev := newTestEvaluator(newMemStore(), ledger, &staticProviders{}, newCapabilityLog())

	history, err := ev.GetHistory(context.Background(), "r1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(history))
	}
	if history[0].ID != "e2" || history[1].ID != "e1" {
		t.Error("history must be newest-first")
	}
}
