package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// capabilityLog records capability calls in order and fails on demand
type capabilityLog struct {
	calls     []string
	failOn    map[string]error
	pausedFor time.Duration
}

func newCapabilityLog() *capabilityLog {
	return &capabilityLog{failOn: make(map[string]error)}
}

func (c *capabilityLog) record(name string) error {
	c.calls = append(c.calls, name)
	return c.failOn[name]
}

func (c *capabilityLog) AdjustPositionSize(ctx context.Context, userID, walletID string, value float64) error {
	return c.record("adjustPositionSize")
}

func (c *capabilityLog) SetRiskParam(ctx context.Context, userID, walletID, parameter string, value float64) error {
	return c.record("adjustRiskPercentage")
}

func (c *capabilityLog) PauseTrading(ctx context.Context, userID, walletID string, duration time.Duration) error {
	c.pausedFor = duration
	return c.record("pauseTrading")
}

func (c *capabilityLog) SendAlert(ctx context.Context, userID, walletID, message string) error {
	return c.record("sendAlert")
}

func (c *capabilityLog) SendEmail(ctx context.Context, userID, walletID, subject, message string) error {
	return c.record("sendEmail")
}

func newTestExecutor(caps *capabilityLog) *ActionExecutor {
	return NewActionExecutor(caps, caps, caps, caps, caps, zerolog.Nop())
}

func TestExecuteEmptyActionList(t *testing.T) {
	executor := newTestExecutor(newCapabilityLog())

	result := executor.Execute(context.Background(), nil, testContext())
	if result.Success {
		t.Error("empty action list must not succeed")
	}
	if result.Error != "no actions" {
		t.Errorf("expected 'no actions' error, got %q", result.Error)
	}
	if len(result.Results) != 0 {
		t.Errorf("expected no per-action results, got %d", len(result.Results))
	}
}

func TestExecuteRunsActionsInOrder(t *testing.T) {
	caps := newCapabilityLog()
	executor := newTestExecutor(caps)

	actions := []Action{
		{Type: ActionPauseTrading, Duration: "1h"},
		{Type: ActionSendAlert, Message: "trading paused"},
		{Type: ActionSendEmail, Subject: "risk limit", Message: "details"},
	}

	result := executor.Execute(context.Background(), actions, testContext())
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	expected := []string{"pauseTrading", "sendAlert", "sendEmail"}
	if len(caps.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d", len(expected), len(caps.calls))
	}
	for i, name := range expected {
		if caps.calls[i] != name {
			t.Errorf("call %d: expected %s, got %s", i, name, caps.calls[i])
		}
	}
	if caps.pausedFor != time.Hour {
		t.Errorf("expected 1h pause, got %v", caps.pausedFor)
	}
}

func TestExecutePartialFailure(t *testing.T) {
	caps := newCapabilityLog()
	caps.failOn["adjustRiskPercentage"] = errors.New("store unavailable")
	executor := newTestExecutor(caps)

	actions := []Action{
		{Type: ActionPauseTrading},
		{Type: ActionAdjustRiskPercentage, Parameter: "max_risk_pct", Value: 1},
		{Type: ActionSendAlert, Message: "hello"},
	}

	result := executor.Execute(context.Background(), actions, testContext())

	if result.Success {
		t.Error("overall success must be false when any action fails")
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Results))
	}
	if !result.Results[0].Success {
		t.Error("action 1 should have succeeded")
	}
	if result.Results[1].Success {
		t.Error("action 2 should have failed")
	}
	if result.Results[1].Error == "" {
		t.Error("failed action should carry an error string")
	}
	if !result.Results[2].Success {
		t.Error("action 3 should still run and succeed after action 2 failed")
	}
	if len(caps.calls) != 3 {
		t.Errorf("all 3 actions should have been attempted, got %d calls", len(caps.calls))
	}
}

func TestExecuteUnknownActionType(t *testing.T) {
	executor := newTestExecutor(newCapabilityLog())

	actions := []Action{{Type: ActionType("closeAllPositions")}}
	result := executor.Execute(context.Background(), actions, testContext())

	if result.Success {
		t.Error("unknown action type must fail")
	}
	if len(result.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(result.Results))
	}
	if result.Results[0].Error != "unknown action type: closeAllPositions" {
		t.Errorf("unexpected error: %q", result.Results[0].Error)
	}
}

func TestExecutePauseDurationDefaults(t *testing.T) {
	caps := newCapabilityLog()
	executor := newTestExecutor(caps)

	result := executor.Execute(context.Background(), []Action{{Type: ActionPauseTrading}}, testContext())
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Results[0].Error)
	}
	if caps.pausedFor != defaultPauseDuration {
		t.Errorf("expected default pause %v, got %v", defaultPauseDuration, caps.pausedFor)
	}
}

func TestExecuteInvalidPauseDuration(t *testing.T) {
	caps := newCapabilityLog()
	executor := newTestExecutor(caps)

	result := executor.Execute(context.Background(), []Action{{Type: ActionPauseTrading, Duration: "soon"}}, testContext())
	if result.Success {
		t.Error("invalid duration must fail the action")
	}
	if len(caps.calls) != 0 {
		t.Error("pause must not be called with an unparseable duration")
	}
}

func TestExecuteRiskParamRequiresName(t *testing.T) {
	caps := newCapabilityLog()
	executor := newTestExecutor(caps)

	result := executor.Execute(context.Background(), []Action{{Type: ActionAdjustRiskPercentage, Value: 2}}, testContext())
	if result.Success {
		t.Error("adjustRiskPercentage without a parameter name must fail")
	}
	if len(caps.calls) != 0 {
		t.Error("risk store must not be called without a parameter name")
	}
}
