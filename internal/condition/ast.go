package condition

import "fmt"

// Node is one node of a parsed condition tree. Trees are built once per
// parse, owned by the caller, and acyclic by construction.
type Node interface {
	fmt.Stringer
	node()
}

// Empty is the parse of a blank or whitespace-only condition. It always
// passes, which is distinct from malformed input: malformed input fails to
// parse at all.
type Empty struct{}

// Check is a leaf check referenced by name, either bare ("typecheck",
// "tests") or colon-qualified ("memory:SUBAGENT_*", "traceability:entry_points",
// "evidence:req-42").
type Check struct {
	Name string
}

// Threshold compares a named numeric source against an integer literal,
// e.g. tests[passed] >= 10 or the coverage shorthand, which desugars to
// Threshold{Name: "evidence", Field: "coverage"}.
type Threshold struct {
	Name  string
	Field string
	Op    CompareOp
	Value int
}

// Not negates its operand.
type Not struct {
	Expr Node
}

// And passes when both operands pass.
type And struct {
	Left  Node
	Right Node
}

// Or passes when either operand passes.
type Or struct {
	Left  Node
	Right Node
}

func (Empty) node()     {}
func (Check) node()     {}
func (Threshold) node() {}
func (Not) node()       {}
func (And) node()       {}
func (Or) node()        {}

func (Empty) String() string { return "" }

func (c Check) String() string { return c.Name }

func (t Threshold) String() string {
	if t.Field == "" {
		return fmt.Sprintf("%s %s %d", t.Name, t.Op, t.Value)
	}
	return fmt.Sprintf("%s[%s] %s %d", t.Name, t.Field, t.Op, t.Value)
}

func (n Not) String() string { return "NOT " + n.Expr.String() }

func (a And) String() string {
	return "(" + a.Left.String() + " AND " + a.Right.String() + ")"
}

func (o Or) String() string {
	return "(" + o.Left.String() + " OR " + o.Right.String() + ")"
}

// CompareOp is one of the five comparison operators a threshold accepts.
type CompareOp string

const (
	OpGTE CompareOp = ">="
	OpLTE CompareOp = "<="
	OpGT  CompareOp = ">"
	OpLT  CompareOp = "<"
	OpEQ  CompareOp = "="
)

// Compare applies the operator to lhs and rhs. Every threshold check
// supports all five operators through this single switch.
func (op CompareOp) Compare(lhs, rhs float64) bool {
	switch op {
	case OpGTE:
		return lhs >= rhs
	case OpLTE:
		return lhs <= rhs
	case OpGT:
		return lhs > rhs
	case OpLT:
		return lhs < rhs
	case OpEQ:
		return lhs == rhs
	default:
		return false
	}
}
