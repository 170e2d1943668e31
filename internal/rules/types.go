package rules

import "time"

// ConditionType identifies what a condition node tests
type ConditionType string

const (
	ConditionDailyPnL         ConditionType = "dailyPnL"
	ConditionDailyLoss        ConditionType = "dailyLoss"
	ConditionDrawdown         ConditionType = "drawdown"
	ConditionBalance          ConditionType = "balance"
	ConditionMarketVolatility ConditionType = "marketVolatility"
	ConditionAnd              ConditionType = "and"
	ConditionOr               ConditionType = "or"
	ConditionNot              ConditionType = "not"
)

// Operator is the comparison applied to a leaf condition
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpBetween            Operator = "between"
)

// Condition is a node in a rule's condition tree. Leaf kinds carry the
// comparison fields; and/or carry Children, not carries Child.
type Condition struct {
	Type       ConditionType `json:"type"`
	Operator   Operator      `json:"operator,omitempty"`
	Value      float64       `json:"value,omitempty"`
	UpperValue *float64      `json:"upper_value,omitempty"` // second threshold for "between"
	Unit       string        `json:"unit,omitempty"`        // "percentage" (default) or "absolute"
	Pair       string        `json:"pair,omitempty"`
	Timeframe  string        `json:"timeframe,omitempty"`
	Children   []Condition   `json:"children,omitempty"`
	Child      *Condition    `json:"child,omitempty"`
}

// ActionType identifies the side effect an action performs
type ActionType string

const (
	ActionAdjustPositionSize   ActionType = "adjustPositionSize"
	ActionAdjustRiskPercentage ActionType = "adjustRiskPercentage"
	ActionPauseTrading         ActionType = "pauseTrading"
	ActionSendAlert            ActionType = "sendAlert"
	ActionSendEmail            ActionType = "sendEmail"
)

// Action is one typed side effect attached to a rule
type Action struct {
	Type      ActionType `json:"type"`
	Value     float64    `json:"value,omitempty"`
	Parameter string     `json:"parameter,omitempty"`
	Duration  string     `json:"duration,omitempty"` // Go duration string, e.g. "24h"
	Message   string     `json:"message,omitempty"`
	Subject   string     `json:"subject,omitempty"`
}

// LimitKind is the rolling window an execution limit applies to
type LimitKind string

const (
	LimitHourly LimitKind = "hourly"
	LimitDaily  LimitKind = "daily"
)

// ExecutionLimit caps how many times a rule may fire within a window
type ExecutionLimit struct {
	Kind  LimitKind `json:"kind"`
	Limit uint      `json:"limit"`
}

// Rule is a user-owned condition tree plus action list. The CRUD layer owns
// creation and mutation; the engine reads rules and only writes LastTriggered.
type Rule struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	WalletID       string          `json:"wallet_id"`
	Name           string          `json:"name"`
	Conditions     []Condition     `json:"conditions"` // top-level list is implicitly ANDed
	Actions        []Action        `json:"actions"`
	Active         bool            `json:"active"`
	ExecutionLimit *ExecutionLimit `json:"execution_limit,omitempty"`
	LastTriggered  *time.Time      `json:"last_triggered,omitempty"` // advisory only, never used for throttling
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PerformanceWindow summarizes P&L over a fixed window
type PerformanceWindow struct {
	ProfitLoss float64 `json:"profit_loss"`
	Trades     int     `json:"trades"`
}

// TradingStats holds streak and win-rate figures
type TradingStats struct {
	CurrentWinStreak  int     `json:"current_win_streak"`
	CurrentLossStreak int     `json:"current_loss_streak"`
	OverallWinRate    float64 `json:"overall_win_rate"`
}

// Position is one open position in the account snapshot
type Position struct {
	Pair          string    `json:"pair"`
	PositionValue float64   `json:"position_value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	OpenTime      time.Time `json:"open_time"`
}

// AccountData is the per-wallet account snapshot conditions evaluate against.
// Pointer fields distinguish "absent" from zero: a missing sub-document makes
// every condition that needs it evaluate false.
type AccountData struct {
	Balance           float64            `json:"balance"`
	DailyPerformance  *PerformanceWindow `json:"daily_performance,omitempty"`
	WeeklyPerformance *PerformanceWindow `json:"weekly_performance,omitempty"`
	CurrentDrawdown   *float64           `json:"current_drawdown,omitempty"` // fraction, not percent
	TradingStats      *TradingStats      `json:"trading_stats,omitempty"`
	Positions         []Position         `json:"positions,omitempty"`
}

// MarketData holds per-pair, per-timeframe market metrics
type MarketData struct {
	Volatility   map[string]map[string]float64 `json:"volatility"`
	PriceChanges map[string]map[string]float64 `json:"price_changes"`
	Trends       map[string]map[string]string  `json:"trends"`
}

// EvaluationContext is the snapshot a rule is judged against. Built once per
// (user, wallet) evaluation cycle and discarded afterwards.
type EvaluationContext struct {
	Timestamp   time.Time   `json:"timestamp"`
	UserID      string      `json:"user_id"`
	WalletID    string      `json:"wallet_id"`
	AccountData AccountData `json:"account_data"`
	MarketData  MarketData  `json:"market_data"`
}

// ContextSnapshot is the bounded subset of the context persisted with each
// execution. Never the full context, to bound ledger row size.
type ContextSnapshot struct {
	AccountBalance float64 `json:"account_balance"`
	DailyPnL       float64 `json:"daily_pnl"`
}

// RuleExecution is one audit record of a rule firing. Written exactly once per
// trigger, success or not, and never mutated.
type RuleExecution struct {
	ID        string          `json:"id"`
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	UserID    string          `json:"user_id"`
	WalletID  string          `json:"wallet_id"`
	Timestamp time.Time       `json:"timestamp"`
	Snapshot  ContextSnapshot `json:"snapshot"`
	Success   bool            `json:"success"`
}

// ActionResult is the outcome of a single action within a trigger
type ActionResult struct {
	Type    ActionType `json:"type"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

// ExecutionResult is the outcome of running a rule's full action list
type ExecutionResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Results []ActionResult `json:"results"`
}

// RuleError reports one rule whose evaluation was degraded by an
// infrastructure failure (unreadable throttle count, lost ledger write)
type RuleError struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
}

// EvaluationSummary is what one (user, wallet) evaluation pass returns.
// Success covers the pair as a whole; per-rule degradations are listed in
// RuleErrors so callers can tell a clean pass from a partial one.
type EvaluationSummary struct {
	Success        bool        `json:"success"`
	TriggeredRules []Rule      `json:"triggered_rules"`
	RuleErrors     []RuleError `json:"rule_errors,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Error          string      `json:"error,omitempty"`
}

// UserWalletPair identifies one evaluation target
type UserWalletPair struct {
	UserID   string `json:"user_id"`
	WalletID string `json:"wallet_id"`
}
