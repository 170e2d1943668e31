package rules

import "math"

// defaultTimeframe is used when a marketVolatility condition omits one
const defaultTimeframe = "1h"

// EvaluateConditions evaluates a rule's top-level condition list against a
// context. The list is an implicit AND; an empty list is false so a rule with
// no conditions can never fire. Evaluation is pure: no I/O, no state, and
// anything unknown or missing resolves to false rather than erroring.
func EvaluateConditions(nodes []Condition, ctx *EvaluationContext) bool {
	if len(nodes) == 0 {
		return false
	}
	for i := range nodes {
		if !evaluateNode(&nodes[i], ctx) {
			return false
		}
	}
	return true
}

func evaluateNode(node *Condition, ctx *EvaluationContext) bool {
	switch node.Type {
	case ConditionAnd:
		if len(node.Children) == 0 {
			return false
		}
		for i := range node.Children {
			if !evaluateNode(&node.Children[i], ctx) {
				return false
			}
		}
		return true

	case ConditionOr:
		if len(node.Children) == 0 {
			return false
		}
		for i := range node.Children {
			if evaluateNode(&node.Children[i], ctx) {
				return true
			}
		}
		return false

	case ConditionNot:
		// A not with no child is false, not true. The conservative reading:
		// negating nothing must not turn into an always-firing condition.
		if node.Child == nil {
			return false
		}
		return !evaluateNode(node.Child, ctx)

	case ConditionDailyPnL:
		return evaluateDailyPnL(node, ctx)
	case ConditionDailyLoss:
		return evaluateDailyLoss(node, ctx)
	case ConditionDrawdown:
		return evaluateDrawdown(node, ctx)
	case ConditionBalance:
		return applyOperator(node, ctx.AccountData.Balance)
	case ConditionMarketVolatility:
		return evaluateMarketVolatility(node, ctx)

	default:
		// Unknown condition kinds fail closed
		return false
	}
}

func evaluateDailyPnL(node *Condition, ctx *EvaluationContext) bool {
	perf := ctx.AccountData.DailyPerformance
	if perf == nil {
		return false
	}
	actual := perf.ProfitLoss
	if isPercentageUnit(node.Unit) {
		if ctx.AccountData.Balance == 0 {
			return false
		}
		actual = perf.ProfitLoss / ctx.AccountData.Balance * 100
	}
	return applyOperator(node, actual)
}

// evaluateDailyLoss compares the magnitude of a daily loss. A flat or
// profitable day is false regardless of operator.
func evaluateDailyLoss(node *Condition, ctx *EvaluationContext) bool {
	perf := ctx.AccountData.DailyPerformance
	if perf == nil || perf.ProfitLoss >= 0 {
		return false
	}
	actual := math.Abs(perf.ProfitLoss)
	if isPercentageUnit(node.Unit) {
		if ctx.AccountData.Balance == 0 {
			return false
		}
		actual = math.Abs(perf.ProfitLoss) / ctx.AccountData.Balance * 100
	}
	return applyOperator(node, actual)
}

func evaluateDrawdown(node *Condition, ctx *EvaluationContext) bool {
	dd := ctx.AccountData.CurrentDrawdown
	if dd == nil {
		return false
	}
	// Drawdown is stored as a fraction but rules express it as a percentage
	return applyOperator(node, *dd*100)
}

func evaluateMarketVolatility(node *Condition, ctx *EvaluationContext) bool {
	if node.Pair == "" {
		return false
	}
	timeframe := node.Timeframe
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	byPair, ok := ctx.MarketData.Volatility[node.Pair]
	if !ok {
		return false
	}
	actual, ok := byPair[timeframe]
	if !ok {
		return false
	}
	return applyOperator(node, actual)
}

// isPercentageUnit reports whether a condition compares in percent of balance.
// Percentage is the default when no unit is given.
func isPercentageUnit(unit string) bool {
	return unit == "" || unit == "percentage"
}

// applyOperator applies a leaf condition's comparison to the extracted value.
// Unknown operators are false: throttled risk rules must never fail open.
func applyOperator(node *Condition, actual float64) bool {
	switch node.Operator {
	case OpEquals:
		return actual == node.Value
	case OpNotEquals:
		return actual != node.Value
	case OpGreaterThan:
		return actual > node.Value
	case OpGreaterThanOrEqual:
		return actual >= node.Value
	case OpLessThan:
		return actual < node.Value
	case OpLessThanOrEqual:
		return actual <= node.Value
	case OpBetween:
		if node.UpperValue == nil {
			return false
		}
		return actual >= node.Value && actual <= *node.UpperValue
	default:
		return false
	}
}
