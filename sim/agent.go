package sim

import (
	"maps"
	"slices"

	"github.com/shopspring/decimal"
)

// NoLimit marks an absent budget or limit.
const NoLimit int64 = -1

// Agent is a participating bank.
type Agent struct {
	ID                    string          `json:"id"`
	Balance               int64           `json:"balance"`
	OpeningBalance        int64           `json:"opening_balance"`
	Queue1                []string        `json:"queue1"`
	PostedCollateral      int64           `json:"posted_collateral"`
	CollateralHaircut     decimal.Decimal `json:"collateral_haircut"`
	MaxCollateralCapacity int64           `json:"max_collateral_capacity"`
	UnsecuredCap          int64           `json:"unsecured_cap"`

	// ReleaseBudget is the configured per-tick release budget; BudgetRemaining
	// is what is left this tick. Both are NoLimit when unbounded.
	ReleaseBudget   int64 `json:"release_budget"`
	BudgetRemaining int64 `json:"budget_remaining"`

	BilateralLimits   map[string]int64 `json:"bilateral_limits,omitempty"`
	MultilateralLimit int64            `json:"multilateral_limit"`
	BilateralOutflow  map[string]int64 `json:"bilateral_outflow,omitempty"`
	DailyOutflow      int64            `json:"daily_outflow"`
	LimitBreaches     int64            `json:"limit_breaches"`

	Registers         map[string]float64 `json:"registers,omitempty"`
	ArrivalMultiplier float64            `json:"arrival_multiplier"`
	Costs             CostBreakdown      `json:"costs"`
}

// AllowedOverdraft is floor(collateral × (1 − haircut)) + unsecured cap.
func (a *Agent) AllowedOverdraft() int64 {
	return haircutValue(a.PostedCollateral, a.CollateralHaircut) + a.UnsecuredCap
}

// CreditUsed is max(0, −balance).
func (a *Agent) CreditUsed() int64 {
	return max(0, -a.Balance)
}

// AvailableLiquidity is balance plus allowed overdraft; what the agent can
// pay right now.
func (a *Agent) AvailableLiquidity() int64 {
	return a.Balance + a.AllowedOverdraft()
}

// CreditHeadroom is the unused part of the allowed overdraft.
func (a *Agent) CreditHeadroom() int64 {
	return a.AllowedOverdraft() - a.CreditUsed()
}

// withinCredit reports whether balance would respect the credit limit
// given posted collateral.
func (a *Agent) withinCredit(balance, posted int64) bool {
	return max(0, -balance) <= haircutValue(posted, a.CollateralHaircut)+a.UnsecuredCap
}

// RemainingCollateralCapacity is how much more collateral may be posted.
func (a *Agent) RemainingCollateralCapacity() int64 {
	return max(0, a.MaxCollateralCapacity-a.PostedCollateral)
}

// MaxWithdrawable is the largest collateral withdrawal that keeps credit
// used within the allowed overdraft.
func (a *Agent) MaxWithdrawable() int64 {
	lo, hi := int64(0), a.PostedCollateral
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if a.withinCredit(a.Balance, a.PostedCollateral-mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// limitBreach names the limit paying amount to receiver would exceed, or
// "" when none would.
func (a *Agent) limitBreach(receiver string, amount int64) string {
	if limit, ok := a.BilateralLimits[receiver]; ok && a.BilateralOutflow[receiver]+amount > limit {
		return ReasonBilateralLimit
	}
	if a.MultilateralLimit != NoLimit && a.DailyOutflow+amount > a.MultilateralLimit {
		return ReasonMultilateralLimit
	}
	return ""
}

// BilateralHeadroom is what may still be paid to receiver today under the
// bilateral limit; NoLimit when none is configured.
func (a *Agent) BilateralHeadroom(receiver string) int64 {
	limit, ok := a.BilateralLimits[receiver]
	if !ok {
		return NoLimit
	}
	return max(0, limit-a.BilateralOutflow[receiver])
}

// MultilateralHeadroom is what may still be paid today under the
// multilateral limit; NoLimit when none is configured.
func (a *Agent) MultilateralHeadroom() int64 {
	if a.MultilateralLimit == NoLimit {
		return NoLimit
	}
	return max(0, a.MultilateralLimit-a.DailyOutflow)
}

func (a *Agent) clone() *Agent {
	c := *a
	c.Queue1 = slices.Clone(a.Queue1)
	c.BilateralLimits = maps.Clone(a.BilateralLimits)
	c.BilateralOutflow = maps.Clone(a.BilateralOutflow)
	c.Registers = maps.Clone(a.Registers)
	return &c
}
