package policy

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MaxTreeDepth bounds the depth of any tree.
const MaxTreeDepth = 100

// ViolationKind classifies a validation error.
type ViolationKind string

const (
	ViolationStructure          ViolationKind = "structure"
	ViolationDuplicateNodeID    ViolationKind = "duplicate_node_id"
	ViolationMaxDepth           ViolationKind = "max_depth_exceeded"
	ViolationUndefinedField     ViolationKind = "undefined_field"
	ViolationUndefinedParameter ViolationKind = "undefined_parameter"
	ViolationDivisionByZero     ViolationKind = "division_by_zero"
	ViolationUnreachableAction  ViolationKind = "unreachable_action"
	ViolationParameterRange     ViolationKind = "parameter_out_of_range"
	ViolationInvalidAction      ViolationKind = "invalid_action"
	ViolationNestedSplit        ViolationKind = "nested_split"
)

// ValidationError is one policy violation.
type ValidationError struct {
	Kind    ViolationKind
	Tree    TreeKind
	NodeID  string
	Message string
}

func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Tree != "" {
		b.WriteString(" in ")
		b.WriteString(string(e.Tree))
	}
	if e.NodeID != "" {
		fmt.Fprintf(&b, " at %q", e.NodeID)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is the full list of violations found in a document.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d policy violation(s): %s", len(v), strings.Join(msgs, "; "))
}

// Has reports whether any violation is of the given kind.
func (v ValidationErrors) Has(kind ViolationKind) bool {
	for _, e := range v {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// AsValidationErrors extracts the violation list from an error chain.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Compile builds and validates a policy document. It either returns a
// fully valid Policy or every violation found; it never accepts a
// document partially.
func Compile(doc *Document) (*Policy, error) {
	if doc == nil {
		return nil, ValidationErrors{{Kind: ViolationStructure, Message: "nil policy document"}}
	}
	p := &Policy{
		ID:          doc.PolicyID,
		Description: doc.Description,
		Parameters:  make(map[string]float64, len(doc.Parameters)),
		trees:       make(map[TreeKind]Node),
	}
	var errs ValidationErrors
	for _, name := range sortedKeys(doc.Parameters) {
		val := doc.Parameters[name]
		if math.IsNaN(val) || math.IsInf(val, 0) {
			errs = append(errs, ValidationError{
				Kind:    ViolationParameterRange,
				NodeID:  "parameters." + name,
				Message: fmt.Sprintf("parameter %q must be finite, got %v", name, val),
			})
			continue
		}
		p.Parameters[name] = val
	}

	present := 0
	for _, kind := range TreeKinds {
		spec := doc.tree(kind)
		if spec == nil {
			continue
		}
		present++
		b := &builder{tree: kind}
		if root := b.node(spec, string(kind)); root != nil {
			p.trees[kind] = root
		}
		errs = append(errs, b.errs...)
	}
	if present == 0 {
		errs = append(errs, ValidationError{Kind: ViolationStructure, Message: "policy defines no trees"})
	}

	errs = append(errs, Validate(p)...)
	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

// Validate runs the static checks over a built policy.
func Validate(p *Policy) ValidationErrors {
	v := &validator{
		p:         p,
		ids:       make(map[string]TreeKind),
		registers: make(map[string]bool),
	}
	for _, kind := range TreeKinds {
		root := p.trees[kind]
		if root == nil {
			continue
		}
		v.tree = kind
		v.depthReported = false
		v.walk(root, 1, false, true)
	}
	if len(v.registers) > MaxRegisters {
		v.add(ViolationParameterRange, "", "policy writes %d registers, at most %d allowed", len(v.registers), MaxRegisters)
	}
	return v.errs
}

type validator struct {
	p             *Policy
	tree          TreeKind
	errs          ValidationErrors
	ids           map[string]TreeKind
	registers     map[string]bool
	depthReported bool
}

func (v *validator) add(kind ViolationKind, nodeID, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Kind:    kind,
		Tree:    v.tree,
		NodeID:  nodeID,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) walk(n Node, depth int, inSplit, reachable bool) {
	if n == nil {
		return
	}
	id := n.NodeID()
	if depth > MaxTreeDepth {
		if !v.depthReported {
			v.depthReported = true
			v.add(ViolationMaxDepth, id, "tree depth exceeds %d", MaxTreeDepth)
		}
		return
	}
	if prev, dup := v.ids[id]; dup {
		v.add(ViolationDuplicateNodeID, id, "node id already used in %s", prev)
	} else {
		v.ids[id] = v.tree
	}

	switch node := n.(type) {
	case *ConditionNode:
		v.checkExpr(node.Condition, id)
		verdict, constant := v.foldExpr(node.Condition)
		v.walk(node.OnTrue, depth+1, inSplit, reachable && (!constant || verdict))
		v.walk(node.OnFalse, depth+1, inSplit, reachable && (!constant || !verdict))
	case *ActionNode:
		if !reachable {
			v.add(ViolationUnreachableAction, id, "action %s can never be reached", node.Action)
		}
		v.checkAction(node)
	case *SplitNode:
		if v.tree != TreePayment {
			v.add(ViolationInvalidAction, id, "split nodes are only valid in %s", TreePayment)
		}
		if inSplit {
			v.add(ViolationNestedSplit, id, "split node nested inside another split")
		}
		if node.NumSplits != nil {
			v.checkValue(node.NumSplits, id)
			if c, ok := v.fold(node.NumSplits); ok && (c < MinSplits || c > MaxSplits) {
				v.add(ViolationParameterRange, id, "num_splits must be in [%d, %d], got %v", MinSplits, MaxSplits, c)
			}
		}
		v.walk(node.OnEach, depth+1, true, reachable)
	}
}

func (v *validator) checkAction(node *ActionNode) {
	id := node.ID
	if node.Action == "" {
		return
	}
	known := false
	for _, set := range actionsByTree {
		if set[node.Action] {
			known = true
			break
		}
	}
	if !known {
		v.add(ViolationInvalidAction, id, "unknown action %q", node.Action)
		return
	}
	if !actionsByTree[v.tree][node.Action] {
		v.add(ViolationInvalidAction, id, "action %s is not allowed in %s; valid actions: %s",
			node.Action, v.tree, strings.Join(AllowedActions(v.tree), ", "))
	}

	required := actionParams[node.Action]
	wanted := make(map[string]bool, len(required))
	for _, name := range required {
		wanted[name] = true
		if _, ok := node.Params[name]; !ok {
			v.add(ViolationStructure, id, "action %s requires parameter %q", node.Action, name)
		}
	}
	for _, name := range sortedKeys(node.Params) {
		if !wanted[name] {
			v.add(ViolationStructure, id, "parameter %q is not used by action %s", name, node.Action)
			continue
		}
		val := node.Params[name]
		if val == nil {
			continue
		}
		v.checkValue(val, id)
		c, ok := v.fold(val)
		if !ok {
			continue
		}
		switch name {
		case ParamPriority:
			if c < 0 || c > 10 {
				v.add(ViolationParameterRange, id, "priority must be in [0, 10], got %v", c)
			}
		case ParamMaxValue, ParamAmount:
			if c < 0 {
				v.add(ViolationParameterRange, id, "%s must be non-negative, got %v", name, c)
			}
		}
	}

	switch node.Action {
	case ActionSetState, ActionAddState:
		switch {
		case node.Register == "":
			v.add(ViolationStructure, id, "action %s requires a register", node.Action)
		case !IsRegister(node.Register):
			v.add(ViolationParameterRange, id, "register %q must start with %q", node.Register, RegisterPrefix)
		default:
			v.registers[node.Register] = true
		}
	default:
		if node.Register != "" {
			v.add(ViolationStructure, id, "register is not used by action %s", node.Action)
		}
	}
}

func (v *validator) checkExpr(e Expr, id string) {
	switch ex := e.(type) {
	case *Comparison:
		v.checkValue(ex.Left, id)
		v.checkValue(ex.Right, id)
	case *Logical:
		for _, operand := range ex.Operands {
			v.checkExpr(operand, id)
		}
	case *Not:
		v.checkExpr(ex.Operand, id)
	}
}

func (v *validator) checkValue(val Value, id string) {
	switch x := val.(type) {
	case *FieldRef:
		if !HasField(v.tree, x.Name) {
			v.add(ViolationUndefinedField, id, "field %q is not available in %s", x.Name, v.tree)
		}
	case *ParamRef:
		if _, ok := v.p.Parameters[x.Name]; !ok {
			v.add(ViolationUndefinedParameter, id, "parameter %q is not defined", x.Name)
		}
	case *Literal:
		if math.IsNaN(x.Value) || math.IsInf(x.Value, 0) {
			v.add(ViolationParameterRange, id, "literal must be finite, got %v", x.Value)
		}
	case *Compute:
		for _, a := range x.Args {
			v.checkValue(a, id)
		}
		if x.Op == OpDiv && len(x.Args) == 2 {
			if c, ok := v.fold(x.Args[1]); ok && c == 0 {
				v.add(ViolationDivisionByZero, id, "divisor is always zero")
			}
		}
	}
}

// fold evaluates a value that does not depend on the context.
func (v *validator) fold(val Value) (float64, bool) {
	switch x := val.(type) {
	case *Literal:
		return x.Value, !math.IsNaN(x.Value) && !math.IsInf(x.Value, 0)
	case *ParamRef:
		c, ok := v.p.Parameters[x.Name]
		return c, ok
	case *Compute:
		args := make([]float64, len(x.Args))
		for i, a := range x.Args {
			c, ok := v.fold(a)
			if !ok {
				return 0, false
			}
			args[i] = c
		}
		out, err := applyCompute(x.Op, args)
		if err != nil || math.IsNaN(out) || math.IsInf(out, 0) {
			return 0, false
		}
		return out, true
	}
	return 0, false
}

// foldExpr reports (verdict, constant) for an expression.
func (v *validator) foldExpr(e Expr) (bool, bool) {
	switch ex := e.(type) {
	case *Comparison:
		l, okL := v.fold(ex.Left)
		r, okR := v.fold(ex.Right)
		if !okL || !okR {
			return false, false
		}
		return compare(ex.Op, l, r), true
	case *Logical:
		allConstant := true
		for _, operand := range ex.Operands {
			verdict, constant := v.foldExpr(operand)
			if !constant {
				allConstant = false
				continue
			}
			if ex.Op == OpAnd && !verdict {
				return false, true
			}
			if ex.Op == OpOr && verdict {
				return true, true
			}
		}
		if allConstant {
			return ex.Op == OpAnd, true
		}
		return false, false
	case *Not:
		verdict, constant := v.foldExpr(ex.Operand)
		return !verdict, constant
	}
	return false, false
}
