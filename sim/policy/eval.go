package policy

import (
	"errors"
	"fmt"
	"math"
)

// Runtime evaluation errors. Callers degrade to a safe default (Hold or
// no action) when evaluation fails.
var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrUnknownField   = errors.New("unknown field")
	ErrUnknownParam   = errors.New("unknown parameter")
	ErrNoTree         = errors.New("policy has no such tree")
	ErrNonFinite      = errors.New("non-finite value")
)

// MinSplits and MaxSplits bound num_splits.
const (
	MinSplits = 2
	MaxSplits = 100
)

// Decision is the outcome of evaluating one tree.
type Decision struct {
	NodeID   string
	Action   ActionType
	Register string
	Params   map[string]float64
	// Children holds one decision per split child, in child order, when
	// Action is ActionSplit.
	Children []Decision
}

// Param returns a decision parameter, zero when absent.
func (d Decision) Param(name string) float64 {
	return d.Params[name]
}

// Evaluate walks the named tree against ctx.
func (p *Policy) Evaluate(kind TreeKind, ctx *Context) (Decision, error) {
	root := p.trees[kind]
	if root == nil {
		return Decision{}, fmt.Errorf("%w: %s", ErrNoTree, kind)
	}
	return p.eval(root, ctx, false)
}

func (p *Policy) eval(n Node, ctx *Context, inSplit bool) (Decision, error) {
	for {
		switch node := n.(type) {
		case *ConditionNode:
			ok, err := p.test(node.Condition, ctx)
			if err != nil {
				return Decision{}, fmt.Errorf("node %s: %w", node.ID, err)
			}
			if ok {
				n = node.OnTrue
			} else {
				n = node.OnFalse
			}
		case *ActionNode:
			d := Decision{NodeID: node.ID, Action: node.Action, Register: node.Register}
			if len(node.Params) > 0 {
				d.Params = make(map[string]float64, len(node.Params))
				for _, name := range sortedKeys(node.Params) {
					v, err := p.value(node.Params[name], ctx)
					if err != nil {
						return Decision{}, fmt.Errorf("node %s parameter %s: %w", node.ID, name, err)
					}
					d.Params[name] = v
				}
			}
			return d, nil
		case *SplitNode:
			if inSplit {
				return Decision{}, fmt.Errorf("node %s: nested split", node.ID)
			}
			return p.split(node, ctx)
		default:
			return Decision{}, fmt.Errorf("unexpected node %T", n)
		}
	}
}

// split evaluates OnEach once per child. A payment that cannot be
// divided into at least two children, or a dynamic num_splits below two,
// is evaluated unsplit.
func (p *Policy) split(node *SplitNode, ctx *Context) (Decision, error) {
	raw, err := p.value(node.NumSplits, ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("node %s num_splits: %w", node.ID, err)
	}
	divisible, _ := ctx.Get(FieldIsDivisible)
	remaining, _ := ctx.Get(FieldRemainingAmount)
	n := int64(math.Min(math.Max(math.Floor(raw), 0), MaxSplits))
	n = min(n, int64(remaining))
	if divisible == 0 || n < MinSplits {
		return p.eval(node.OnEach, ctx, true)
	}

	d := Decision{
		NodeID: node.ID,
		Action: ActionSplit,
		Params: map[string]float64{ParamNumSplits: float64(n)},
	}
	for _, amount := range SplitAmounts(int64(remaining), int(n)) {
		child, err := p.eval(node.OnEach, ctx.WithAmount(amount), true)
		if err != nil {
			return Decision{}, err
		}
		d.Children = append(d.Children, child)
	}
	return d, nil
}

// SplitAmounts divides amount into n parts; the remainder goes to the
// last part so the parts always sum to amount.
func SplitAmounts(amount int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	base := amount / int64(n)
	out := make([]int64, n)
	for i := range out {
		out[i] = base
	}
	out[n-1] += amount - base*int64(n)
	return out
}

func (p *Policy) test(e Expr, ctx *Context) (bool, error) {
	switch ex := e.(type) {
	case *Comparison:
		l, err := p.value(ex.Left, ctx)
		if err != nil {
			return false, err
		}
		r, err := p.value(ex.Right, ctx)
		if err != nil {
			return false, err
		}
		return compare(ex.Op, l, r), nil
	case *Logical:
		for _, operand := range ex.Operands {
			ok, err := p.test(operand, ctx)
			if err != nil {
				return false, err
			}
			if ex.Op == OpAnd && !ok {
				return false, nil
			}
			if ex.Op == OpOr && ok {
				return true, nil
			}
		}
		return ex.Op == OpAnd, nil
	case *Not:
		ok, err := p.test(ex.Operand, ctx)
		return !ok, err
	default:
		return false, fmt.Errorf("unexpected expression %T", e)
	}
}

func compare(op CompareOp, l, r float64) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	case OpLt:
		return l < r
	case OpLe:
		return l <= r
	case OpGt:
		return l > r
	case OpGe:
		return l >= r
	}
	return false
}

func (p *Policy) value(v Value, ctx *Context) (float64, error) {
	switch val := v.(type) {
	case *Literal:
		return val.Value, nil
	case *ParamRef:
		x, ok := p.Parameters[val.Name]
		if !ok {
			return 0, fmt.Errorf("%w %q", ErrUnknownParam, val.Name)
		}
		return x, nil
	case *FieldRef:
		x, ok := ctx.Get(val.Name)
		if !ok {
			return 0, fmt.Errorf("%w %q", ErrUnknownField, val.Name)
		}
		return x, nil
	case *Compute:
		args := make([]float64, len(val.Args))
		for i, a := range val.Args {
			x, err := p.value(a, ctx)
			if err != nil {
				return 0, err
			}
			args[i] = x
		}
		out, err := applyCompute(val.Op, args)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(out) || math.IsInf(out, 0) {
			return 0, fmt.Errorf("%w from %q", ErrNonFinite, val.Op)
		}
		return out, nil
	default:
		return 0, fmt.Errorf("unexpected value %T", v)
	}
}

func applyCompute(op ComputeOp, args []float64) (float64, error) {
	switch op {
	case OpAdd:
		return args[0] + args[1], nil
	case OpSub:
		return args[0] - args[1], nil
	case OpMul:
		return args[0] * args[1], nil
	case OpDiv:
		if args[1] == 0 {
			return 0, ErrDivisionByZero
		}
		return args[0] / args[1], nil
	case OpMin:
		out := args[0]
		for _, a := range args[1:] {
			out = math.Min(out, a)
		}
		return out, nil
	case OpMax:
		out := args[0]
		for _, a := range args[1:] {
			out = math.Max(out, a)
		}
		return out, nil
	case OpAbs:
		return math.Abs(args[0]), nil
	case OpFloor:
		return math.Floor(args[0]), nil
	case OpCeil:
		return math.Ceil(args[0]), nil
	}
	return 0, fmt.Errorf("unknown compute operator %q", op)
}
