package policy

import "strings"

// Context field names. Agent-level fields are available in every tree;
// transaction fields only in the payment tree.
const (
	FieldBalance              = "balance"
	FieldEffectiveLiquidity   = "effective_liquidity"
	FieldAvailableLiquidity   = "available_liquidity"
	FieldCreditLimit          = "credit_limit"
	FieldCreditUsed           = "credit_used"
	FieldCreditHeadroom       = "credit_headroom"
	FieldPostedCollateral     = "posted_collateral"
	FieldCollateralHaircut    = "collateral_haircut"
	FieldCollateralCapacity   = "remaining_collateral_capacity"
	FieldUnsecuredCap         = "unsecured_cap"
	FieldQueue1Size           = "queue1_size"
	FieldQueue1Value          = "queue1_value"
	FieldQueue2Size           = "queue2_size"
	FieldQueue2Value          = "queue2_value"
	FieldQueue2OutgoingSize   = "outgoing_queue2_size"
	FieldQueue2IncomingValue  = "incoming_queue2_value"
	FieldReleaseBudget        = "release_budget_remaining"
	FieldMultilateralHeadroom = "multilateral_headroom"
	FieldDailyOutflow         = "daily_outflow"
	FieldCurrentTick          = "current_tick"
	FieldTicksPerDay          = "ticks_per_day"
	FieldDay                  = "day"
	FieldTickInDay            = "tick_in_day"
	FieldDayProgress          = "day_progress"
	FieldIsEODRush            = "is_eod_rush"
	FieldTicksRemainingInDay  = "ticks_remaining_in_day"
	FieldOverdraftRate        = "overdraft_bps_per_tick"
	FieldDelayRate            = "delay_cost_per_tick_per_cent"
	FieldCollateralRate       = "collateral_cost_per_tick_bps"
	FieldDeadlinePenalty      = "deadline_penalty"
	FieldEODPenalty           = "eod_penalty_per_transaction"
	FieldSplitFriction        = "split_friction_cost"
	FieldOverdueMultiplier    = "overdue_delay_multiplier"

	FieldAmount                = "amount"
	FieldRemainingAmount       = "remaining_amount"
	FieldSettledAmount         = "settled_amount"
	FieldPriority              = "priority"
	FieldArrivalTick           = "arrival_tick"
	FieldDeadlineTick          = "deadline_tick"
	FieldTicksToDeadline       = "ticks_to_deadline"
	FieldTicksInQueue          = "ticks_in_queue"
	FieldIsOverdue             = "is_overdue"
	FieldIsDivisible           = "is_divisible"
	FieldIsSplitChild          = "is_split_child"
	FieldBilateralHeadroom     = "bilateral_headroom"
	FieldCounterpartyQueued    = "counterparty_queue2_value"
	FieldQueue1Position        = "queue1_position"
	FieldLiquidityAfterRelease = "liquidity_after_release"
)

// RegisterPrefix marks agent-owned state registers.
const RegisterPrefix = "bank_state_"

// MaxRegisters bounds the registers a single policy may write.
const MaxRegisters = 10

// IsRegister reports whether name is a bank_state_* register.
func IsRegister(name string) bool {
	return strings.HasPrefix(name, RegisterPrefix) && len(name) > len(RegisterPrefix)
}

var agentFields = []string{
	FieldBalance, FieldEffectiveLiquidity, FieldAvailableLiquidity, FieldCreditLimit,
	FieldCreditUsed, FieldCreditHeadroom, FieldPostedCollateral, FieldCollateralHaircut,
	FieldCollateralCapacity, FieldUnsecuredCap, FieldQueue1Size, FieldQueue1Value,
	FieldQueue2Size, FieldQueue2Value, FieldQueue2OutgoingSize, FieldQueue2IncomingValue,
	FieldReleaseBudget, FieldMultilateralHeadroom, FieldDailyOutflow, FieldCurrentTick,
	FieldTicksPerDay, FieldDay, FieldTickInDay, FieldDayProgress, FieldIsEODRush,
	FieldTicksRemainingInDay, FieldOverdraftRate, FieldDelayRate, FieldCollateralRate,
	FieldDeadlinePenalty, FieldEODPenalty, FieldSplitFriction, FieldOverdueMultiplier,
}

var transactionFields = []string{
	FieldAmount, FieldRemainingAmount, FieldSettledAmount, FieldPriority, FieldArrivalTick,
	FieldDeadlineTick, FieldTicksToDeadline, FieldTicksInQueue, FieldIsOverdue,
	FieldIsDivisible, FieldIsSplitChild, FieldBilateralHeadroom, FieldCounterpartyQueued,
	FieldQueue1Position, FieldLiquidityAfterRelease,
}

var fieldsByTree = func() map[TreeKind]map[string]bool {
	out := make(map[TreeKind]map[string]bool, len(TreeKinds))
	for _, kind := range TreeKinds {
		set := make(map[string]bool)
		for _, f := range agentFields {
			set[f] = true
		}
		if kind == TreePayment {
			for _, f := range transactionFields {
				set[f] = true
			}
		}
		out[kind] = set
	}
	return out
}()

// HasField reports whether a tree may read the named field.
func HasField(kind TreeKind, name string) bool {
	return fieldsByTree[kind][name] || IsRegister(name)
}

// Fields returns the fields a tree may read, agent fields first.
func Fields(kind TreeKind) []string {
	out := append([]string(nil), agentFields...)
	if kind == TreePayment {
		out = append(out, transactionFields...)
	}
	return out
}

// Context is the read-only view a tree is evaluated against.
type Context struct {
	fields map[string]float64
}

// NewContext wraps a field map. The map must not be modified afterwards.
func NewContext(fields map[string]float64) *Context {
	return &Context{fields: fields}
}

// Get returns a field value. Unset registers read as zero.
func (c *Context) Get(name string) (float64, bool) {
	v, ok := c.fields[name]
	if !ok && IsRegister(name) {
		return 0, true
	}
	return v, ok
}

// WithAmount returns a copy describing a split child of the given amount.
func (c *Context) WithAmount(amount int64) *Context {
	fields := make(map[string]float64, len(c.fields))
	for k, v := range c.fields {
		fields[k] = v
	}
	fields[FieldAmount] = float64(amount)
	fields[FieldRemainingAmount] = float64(amount)
	fields[FieldSettledAmount] = 0
	fields[FieldIsDivisible] = 0
	fields[FieldIsSplitChild] = 1
	if avail, ok := fields[FieldAvailableLiquidity]; ok {
		fields[FieldLiquidityAfterRelease] = avail - float64(amount)
	}
	return &Context{fields: fields}
}
