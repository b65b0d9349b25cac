package policy

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a policy. JSON documents load through
// the same decoder since JSON is valid YAML.
type Document struct {
	PolicyID                string             `yaml:"policy_id,omitempty" json:"policy_id,omitempty"`
	Description             string             `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters              map[string]float64 `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	PaymentTree             *NodeSpec          `yaml:"payment_tree,omitempty" json:"payment_tree,omitempty"`
	BankTree                *NodeSpec          `yaml:"bank_tree,omitempty" json:"bank_tree,omitempty"`
	StrategicCollateralTree *NodeSpec          `yaml:"strategic_collateral_tree,omitempty" json:"strategic_collateral_tree,omitempty"`
	EndOfTickCollateralTree *NodeSpec          `yaml:"end_of_tick_collateral_tree,omitempty" json:"end_of_tick_collateral_tree,omitempty"`
}

// NodeSpec is a raw tree node. Type selects which fields apply.
type NodeSpec struct {
	Type        string               `yaml:"type" json:"type"`
	NodeID      string               `yaml:"node_id" json:"node_id"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Condition   *ExprSpec            `yaml:"condition,omitempty" json:"condition,omitempty"`
	OnTrue      *NodeSpec            `yaml:"on_true,omitempty" json:"on_true,omitempty"`
	OnFalse     *NodeSpec            `yaml:"on_false,omitempty" json:"on_false,omitempty"`
	Action      string               `yaml:"action,omitempty" json:"action,omitempty"`
	Register    string               `yaml:"register,omitempty" json:"register,omitempty"`
	Parameters  map[string]ValueSpec `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	NumSplits   *ValueSpec           `yaml:"num_splits,omitempty" json:"num_splits,omitempty"`
	OnEach      *NodeSpec            `yaml:"on_each,omitempty" json:"on_each,omitempty"`
}

// ExprSpec is a raw boolean expression. Comparisons use Left/Right,
// "and"/"or" use Conditions, "not" uses Condition.
type ExprSpec struct {
	Op         string     `yaml:"op" json:"op"`
	Left       *ValueSpec `yaml:"left,omitempty" json:"left,omitempty"`
	Right      *ValueSpec `yaml:"right,omitempty" json:"right,omitempty"`
	Conditions []ExprSpec `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Condition  *ExprSpec  `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// ValueSpec is a raw operand; exactly one field must be set.
type ValueSpec struct {
	Field   string       `yaml:"field,omitempty" json:"field,omitempty"`
	Param   string       `yaml:"param,omitempty" json:"param,omitempty"`
	Value   *float64     `yaml:"value,omitempty" json:"value,omitempty"`
	Compute *ComputeSpec `yaml:"compute,omitempty" json:"compute,omitempty"`
}

// ComputeSpec is a raw arithmetic expression.
type ComputeSpec struct {
	Op   string      `yaml:"op" json:"op"`
	Args []ValueSpec `yaml:"args" json:"args"`
}

// Node type names.
const (
	nodeCondition = "condition"
	nodeAction    = "action"
	nodeSplit     = "split"
)

// Load reads and parses a policy document file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a policy document from YAML or JSON bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	return &doc, nil
}

// LoadFile loads and compiles a policy file in one step.
func LoadFile(path string) (*Policy, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Compile(doc)
}

func (d *Document) tree(kind TreeKind) *NodeSpec {
	switch kind {
	case TreePayment:
		return d.PaymentTree
	case TreeBank:
		return d.BankTree
	case TreeStrategicCollateral:
		return d.StrategicCollateralTree
	case TreeEndOfTickCollateral:
		return d.EndOfTickCollateralTree
	}
	return nil
}

// === Builder ===

// builder converts raw specs into AST nodes, collecting structural errors
// instead of stopping at the first.
type builder struct {
	tree TreeKind
	errs ValidationErrors
}

func (b *builder) fail(nodeID, format string, args ...any) {
	b.errs = append(b.errs, ValidationError{
		Kind:    ViolationStructure,
		Tree:    b.tree,
		NodeID:  nodeID,
		Message: fmt.Sprintf(format, args...),
	})
}

func (b *builder) node(spec *NodeSpec, path string) Node {
	if spec == nil {
		b.fail(path, "missing node")
		return nil
	}
	id := spec.NodeID
	if id == "" {
		b.fail(path, "node has no node_id")
		id = path
	}
	switch spec.Type {
	case nodeCondition:
		b.unused(id, spec.Type, specField{"action", spec.Action != ""}, specField{"register", spec.Register != ""},
			specField{"parameters", spec.Parameters != nil}, specField{"num_splits", spec.NumSplits != nil},
			specField{"on_each", spec.OnEach != nil})
		n := &ConditionNode{ID: id}
		if spec.Condition == nil {
			b.fail(id, "condition node requires a condition")
		} else {
			n.Condition = b.expr(spec.Condition, id)
		}
		n.OnTrue = b.node(spec.OnTrue, path+".on_true")
		n.OnFalse = b.node(spec.OnFalse, path+".on_false")
		return n
	case nodeAction:
		b.unused(id, spec.Type, specField{"condition", spec.Condition != nil}, specField{"on_true", spec.OnTrue != nil},
			specField{"on_false", spec.OnFalse != nil}, specField{"num_splits", spec.NumSplits != nil},
			specField{"on_each", spec.OnEach != nil})
		n := &ActionNode{ID: id, Action: ActionType(spec.Action), Register: spec.Register}
		if spec.Action == "" {
			b.fail(id, "action node requires an action")
		}
		if len(spec.Parameters) > 0 {
			n.Params = make(map[string]Value, len(spec.Parameters))
			for _, name := range sortedKeys(spec.Parameters) {
				vs := spec.Parameters[name]
				n.Params[name] = b.value(&vs, id)
			}
		}
		return n
	case nodeSplit:
		b.unused(id, spec.Type, specField{"condition", spec.Condition != nil}, specField{"on_true", spec.OnTrue != nil},
			specField{"on_false", spec.OnFalse != nil}, specField{"action", spec.Action != ""},
			specField{"register", spec.Register != ""}, specField{"parameters", spec.Parameters != nil})
		n := &SplitNode{ID: id}
		if spec.NumSplits == nil {
			b.fail(id, "split node requires num_splits")
		} else {
			n.NumSplits = b.value(spec.NumSplits, id)
		}
		n.OnEach = b.node(spec.OnEach, path+".on_each")
		return n
	default:
		b.fail(id, "unknown node type %q; valid types: condition, action, split", spec.Type)
		return nil
	}
}

type specField struct {
	name string
	set  bool
}

// unused reports fields set on a node type that does not read them.
func (b *builder) unused(id, nodeType string, fields ...specField) {
	for _, f := range fields {
		if f.set {
			b.fail(id, "field %q is not used by %s nodes", f.name, nodeType)
		}
	}
}

func (b *builder) expr(spec *ExprSpec, id string) Expr {
	switch op := spec.Op; op {
	case string(OpEq), string(OpNe), string(OpLt), string(OpLe), string(OpGt), string(OpGe):
		if spec.Left == nil || spec.Right == nil {
			b.fail(id, "comparison %q requires left and right", op)
			return nil
		}
		if len(spec.Conditions) > 0 || spec.Condition != nil {
			b.fail(id, "comparison %q takes no nested conditions", op)
		}
		return &Comparison{Op: CompareOp(op), Left: b.value(spec.Left, id), Right: b.value(spec.Right, id)}
	case string(OpAnd), string(OpOr):
		if len(spec.Conditions) < 2 {
			b.fail(id, "%q requires at least two conditions", op)
			return nil
		}
		if spec.Left != nil || spec.Right != nil || spec.Condition != nil {
			b.fail(id, "%q takes only conditions", op)
		}
		out := &Logical{Op: LogicalOp(op)}
		for i := range spec.Conditions {
			out.Operands = append(out.Operands, b.expr(&spec.Conditions[i], id))
		}
		return out
	case "not":
		if spec.Condition == nil {
			b.fail(id, "%q requires a condition", op)
			return nil
		}
		if spec.Left != nil || spec.Right != nil || len(spec.Conditions) > 0 {
			b.fail(id, "%q takes only a condition", op)
		}
		return &Not{Operand: b.expr(spec.Condition, id)}
	default:
		b.fail(id, "unknown expression operator %q", op)
		return nil
	}
}

func (b *builder) value(spec *ValueSpec, id string) Value {
	set := 0
	if spec.Field != "" {
		set++
	}
	if spec.Param != "" {
		set++
	}
	if spec.Value != nil {
		set++
	}
	if spec.Compute != nil {
		set++
	}
	if set != 1 {
		b.fail(id, "operand must set exactly one of field, param, value, compute (got %d)", set)
		return nil
	}
	switch {
	case spec.Field != "":
		return &FieldRef{Name: spec.Field}
	case spec.Param != "":
		return &ParamRef{Name: spec.Param}
	case spec.Value != nil:
		return &Literal{Value: *spec.Value}
	}
	op := ComputeOp(spec.Compute.Op)
	arity, ok := computeArity[op]
	if !ok {
		b.fail(id, "unknown compute operator %q", spec.Compute.Op)
		return nil
	}
	n := len(spec.Compute.Args)
	if (arity == -1 && n < 2) || (arity > 0 && n != arity) {
		b.fail(id, "compute %q takes %s, got %d", op, arityText(arity), n)
		return nil
	}
	c := &Compute{Op: op}
	for i := range spec.Compute.Args {
		c.Args = append(c.Args, b.value(&spec.Compute.Args[i], id))
	}
	return c
}

func arityText(arity int) string {
	switch arity {
	case -1:
		return "two or more arguments"
	case 1:
		return "one argument"
	default:
		return fmt.Sprintf("%d arguments", arity)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
