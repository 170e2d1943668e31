package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Capability providers are the external collaborators actions call into. The
// engine defines the contracts only; implementations live outside this package.

// PositionSizer adjusts a wallet's position sizing factor
type PositionSizer interface {
	AdjustPositionSize(ctx context.Context, userID, walletID string, value float64) error
}

// RiskParamStore updates a named risk parameter for a wallet
type RiskParamStore interface {
	SetRiskParam(ctx context.Context, userID, walletID, parameter string, value float64) error
}

// PauseFlag suspends trading for a wallet for a bounded duration
type PauseFlag interface {
	PauseTrading(ctx context.Context, userID, walletID string, duration time.Duration) error
}

// AlertDispatcher delivers an alert message for a wallet
type AlertDispatcher interface {
	SendAlert(ctx context.Context, userID, walletID, message string) error
}

// EmailDispatcher requests delivery of an email notification
type EmailDispatcher interface {
	SendEmail(ctx context.Context, userID, walletID, subject, message string) error
}

// defaultPauseDuration applies when a pauseTrading action omits a duration
const defaultPauseDuration = 24 * time.Hour

// ActionExecutor runs a rule's action list against registered capability
// providers, isolating each action's failure from the rest of the list.
type ActionExecutor struct {
	positions PositionSizer
	risk      RiskParamStore
	pause     PauseFlag
	alerts    AlertDispatcher
	email     EmailDispatcher
	logger    zerolog.Logger
}

// NewActionExecutor creates an executor wired to its capability providers
func NewActionExecutor(positions PositionSizer, risk RiskParamStore, pause PauseFlag, alerts AlertDispatcher, email EmailDispatcher, logger zerolog.Logger) *ActionExecutor {
	return &ActionExecutor{
		positions: positions,
		risk:      risk,
		pause:     pause,
		alerts:    alerts,
		email:     email,
		logger:    logger.With().Str("component", "action-executor").Logger(),
	}
}

// Execute runs actions strictly in list order. A failing action is captured in
// its own ActionResult and does not abort the actions after it; overall
// Success is true only when every action succeeded. An empty action list is a
// failure: a rule with nothing to do cannot meaningfully "succeed".
func (e *ActionExecutor) Execute(ctx context.Context, actions []Action, evalCtx *EvaluationContext) ExecutionResult {
	if len(actions) == 0 {
		return ExecutionResult{Success: false, Error: "no actions"}
	}

	result := ExecutionResult{
		Success: true,
		Results: make([]ActionResult, 0, len(actions)),
	}

	for _, action := range actions {
		ar := ActionResult{Type: action.Type, Success: true}

		if err := e.executeOne(ctx, action, evalCtx); err != nil {
			ar.Success = false
			ar.Error = err.Error()
			result.Success = false

			e.logger.Error().
				Err(err).
				Str("action", string(action.Type)).
				Str("user_id", evalCtx.UserID).
				Str("wallet_id", evalCtx.WalletID).
				Msg("action failed")
		}

		result.Results = append(result.Results, ar)
	}

	return result
}

func (e *ActionExecutor) executeOne(ctx context.Context, action Action, evalCtx *EvaluationContext) error {
	switch action.Type {
	case ActionAdjustPositionSize:
		return e.positions.AdjustPositionSize(ctx, evalCtx.UserID, evalCtx.WalletID, action.Value)

	case ActionAdjustRiskPercentage:
		if action.Parameter == "" {
			return fmt.Errorf("adjustRiskPercentage requires a parameter name")
		}
		return e.risk.SetRiskParam(ctx, evalCtx.UserID, evalCtx.WalletID, action.Parameter, action.Value)

	case ActionPauseTrading:
		duration := defaultPauseDuration
		if action.Duration != "" {
			d, err := time.ParseDuration(action.Duration)
			if err != nil {
				return fmt.Errorf("invalid pause duration %q: %w", action.Duration, err)
			}
			duration = d
		}
		return e.pause.PauseTrading(ctx, evalCtx.UserID, evalCtx.WalletID, duration)

	case ActionSendAlert:
		return e.alerts.SendAlert(ctx, evalCtx.UserID, evalCtx.WalletID, action.Message)

	case ActionSendEmail:
		return e.email.SendEmail(ctx, evalCtx.UserID, evalCtx.WalletID, action.Subject, action.Message)

	default:
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
}
