package sim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rtgs-sim/rtgs-sim/sim/policy"
)

// Sentinel errors.
var (
	// ErrSimulationComplete is returned by Advance once the final tick ran.
	ErrSimulationComplete = errors.New("simulation complete")
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrUnknownTransaction = errors.New("unknown transaction")
	// ErrReplayReadOnly is returned by Advance on a simulator rebuilt by
	// Replay, whose RNG streams were not advanced.
	ErrReplayReadOnly = errors.New("replayed simulator cannot advance")
)

// ConfigError reports a malformed or inconsistent configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PolicyValidationError lists every violation found in one agent's policy.
type PolicyValidationError struct {
	AgentID string
	Errors  policy.ValidationErrors
}

func (e *PolicyValidationError) Error() string {
	return fmt.Sprintf("agent %s policy: %s", e.AgentID, e.Errors.Error())
}

func (e *PolicyValidationError) Unwrap() error {
	return e.Errors
}

// SettlementInvariantError is returned when applying a change would break
// conservation, the credit limit or a status transition. The change is
// not applied.
type SettlementInvariantError struct {
	Tick    int64
	AgentID string
	TxIDs   []string
	Message string
}

func (e *SettlementInvariantError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "settlement invariant at tick %d", e.Tick)
	if e.AgentID != "" {
		fmt.Fprintf(&b, " agent %s", e.AgentID)
	}
	if len(e.TxIDs) > 0 {
		fmt.Fprintf(&b, " tx [%s]", strings.Join(e.TxIDs, ","))
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// ScenarioEventError reports a scheduled event that could not be applied.
// It is logged and recorded; the run continues.
type ScenarioEventError struct {
	Index   int
	Tick    int64
	Type    string
	Ref     string
	Message string
}

func (e *ScenarioEventError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("scenario event %d (%s) at tick %d: %s: %s", e.Index, e.Type, e.Tick, e.Ref, e.Message)
	}
	return fmt.Sprintf("scenario event %d (%s) at tick %d: %s", e.Index, e.Type, e.Tick, e.Message)
}
