// Package policy implements the decision-tree language agents use to
// decide what to do with their payments, liquidity and collateral.
//
// A policy document (YAML or JSON) is compiled into an immutable AST.
// Compilation runs the static validator, so a compiled Policy is always
// structurally sound. Evaluation is a pure walk over a read-only Context
// and yields a Decision the caller applies.
package policy

import "sort"

// TreeKind names one of the four decision trees a policy may carry.
type TreeKind string

const (
	TreePayment             TreeKind = "payment_tree"
	TreeBank                TreeKind = "bank_tree"
	TreeStrategicCollateral TreeKind = "strategic_collateral_tree"
	TreeEndOfTickCollateral TreeKind = "end_of_tick_collateral_tree"
)

// TreeKinds lists every tree in evaluation order.
var TreeKinds = []TreeKind{TreeBank, TreeStrategicCollateral, TreePayment, TreeEndOfTickCollateral}

// ActionType is the terminal decision an action node produces.
type ActionType string

const (
	ActionRelease            ActionType = "Release"
	ActionHold               ActionType = "Hold"
	ActionDrop               ActionType = "Drop"
	ActionReprioritize       ActionType = "Reprioritize"
	ActionSetReleaseBudget   ActionType = "SetReleaseBudget"
	ActionSetState           ActionType = "SetState"
	ActionAddState           ActionType = "AddState"
	ActionNoAction           ActionType = "NoAction"
	ActionPostCollateral     ActionType = "PostCollateral"
	ActionWithdrawCollateral ActionType = "WithdrawCollateral"
	ActionHoldCollateral     ActionType = "HoldCollateral"

	// ActionSplit is produced by split nodes, never written in an action node.
	ActionSplit ActionType = "Split"
)

// Action parameter names.
const (
	ParamPriority  = "priority"
	ParamMaxValue  = "max_value"
	ParamValue     = "value"
	ParamAmount    = "amount"
	ParamNumSplits = "num_splits"
)

// actionsByTree lists the actions each tree may produce.
var actionsByTree = map[TreeKind]map[ActionType]bool{
	TreePayment: {
		ActionRelease: true, ActionHold: true, ActionDrop: true, ActionReprioritize: true,
	},
	TreeBank: {
		ActionSetReleaseBudget: true, ActionSetState: true, ActionAddState: true, ActionNoAction: true,
	},
	TreeStrategicCollateral: {
		ActionPostCollateral: true, ActionWithdrawCollateral: true, ActionHoldCollateral: true,
	},
	TreeEndOfTickCollateral: {
		ActionPostCollateral: true, ActionWithdrawCollateral: true, ActionHoldCollateral: true,
	},
}

// actionParams lists the parameters each action takes; all are required.
var actionParams = map[ActionType][]string{
	ActionReprioritize:       {ParamPriority},
	ActionSetReleaseBudget:   {ParamMaxValue},
	ActionSetState:           {ParamValue},
	ActionAddState:           {ParamValue},
	ActionPostCollateral:     {ParamAmount},
	ActionWithdrawCollateral: {ParamAmount},
}

// AllowedActions returns the sorted action names valid in a tree.
func AllowedActions(kind TreeKind) []string {
	names := make([]string, 0, len(actionsByTree[kind]))
	for a := range actionsByTree[kind] {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return names
}

// === Nodes ===

// Node is a decision tree node: *ConditionNode, *ActionNode or *SplitNode.
type Node interface {
	NodeID() string
	isNode()
}

// ConditionNode branches on a boolean expression.
type ConditionNode struct {
	ID        string
	Condition Expr
	OnTrue    Node
	OnFalse   Node
}

// ActionNode is a terminal node producing one action.
type ActionNode struct {
	ID       string
	Action   ActionType
	Register string
	Params   map[string]Value
}

// SplitNode fans a divisible payment out into NumSplits children and
// evaluates OnEach once per child.
type SplitNode struct {
	ID        string
	NumSplits Value
	OnEach    Node
}

func (n *ConditionNode) NodeID() string { return n.ID }
func (n *ActionNode) NodeID() string    { return n.ID }
func (n *SplitNode) NodeID() string     { return n.ID }

func (*ConditionNode) isNode() {}
func (*ActionNode) isNode()    {}
func (*SplitNode) isNode()     {}

// === Expressions ===

// Expr is a boolean expression: *Comparison, *Logical or *Not.
type Expr interface{ isExpr() }

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "=="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// LogicalOp joins sub-expressions.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Comparison compares two values.
type Comparison struct {
	Op          CompareOp
	Left, Right Value
}

// Logical is an n-ary and/or.
type Logical struct {
	Op       LogicalOp
	Operands []Expr
}

// Not negates an expression.
type Not struct {
	Operand Expr
}

func (*Comparison) isExpr() {}
func (*Logical) isExpr()    {}
func (*Not) isExpr()        {}

// === Values ===

// Value is a numeric operand: *FieldRef, *ParamRef, *Literal or *Compute.
type Value interface{ isValue() }

// FieldRef reads a context field or a bank_state_* register.
type FieldRef struct{ Name string }

// ParamRef reads a named policy parameter.
type ParamRef struct{ Name string }

// Literal is a constant.
type Literal struct{ Value float64 }

// ComputeOp is an arithmetic operator.
type ComputeOp string

const (
	OpAdd   ComputeOp = "+"
	OpSub   ComputeOp = "-"
	OpMul   ComputeOp = "*"
	OpDiv   ComputeOp = "/"
	OpMin   ComputeOp = "min"
	OpMax   ComputeOp = "max"
	OpAbs   ComputeOp = "abs"
	OpFloor ComputeOp = "floor"
	OpCeil  ComputeOp = "ceil"
)

// computeArity gives the operand count per operator; -1 means two or more.
var computeArity = map[ComputeOp]int{
	OpAdd: 2, OpSub: 2, OpMul: 2, OpDiv: 2,
	OpMin: -1, OpMax: -1,
	OpAbs: 1, OpFloor: 1, OpCeil: 1,
}

// Compute applies an arithmetic operator to its arguments.
type Compute struct {
	Op   ComputeOp
	Args []Value
}

func (*FieldRef) isValue() {}
func (*ParamRef) isValue() {}
func (*Literal) isValue()  {}
func (*Compute) isValue()  {}

// === Policy ===

// Policy is a compiled, validated policy. It is immutable and may be
// shared between simulator instances.
type Policy struct {
	ID          string
	Description string
	Parameters  map[string]float64
	trees       map[TreeKind]Node
}

// Tree returns the root of the named tree, or nil when absent.
func (p *Policy) Tree(kind TreeKind) Node {
	return p.trees[kind]
}

// HasTree reports whether the policy carries the named tree.
func (p *Policy) HasTree(kind TreeKind) bool {
	return p.trees[kind] != nil
}
