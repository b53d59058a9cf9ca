package formula

import "strings"

// Node is a parsed formula.
type Node interface {
	String() string
	node()
}

// Op is a unary or binary operator.
type Op string

const (
	OpNot Op = "!"
	OpNeg Op = "-"

	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpLT  Op = "<"
	OpLE  Op = "<="
	OpGT  Op = ">"
	OpGE  Op = ">="
	OpEQ  Op = "=="
	OpNE  Op = "!="
	OpAnd Op = "&&"
	OpOr  Op = "||"
)

type Const struct{ Val Value }

type Var struct{ Name string }

type Unary struct {
	Op Op
	X  Node
}

type Binary struct {
	Op   Op
	L, R Node
}

type Call struct {
	Fn   string
	Args []Node
}

func (Const) node()  {}
func (Var) node()    {}
func (Unary) node()  {}
func (Binary) node() {}
func (Call) node()   {}

func (c Const) String() string { return c.Val.String() }

func (v Var) String() string {
	if strings.ContainsRune(v.Name, '-') {
		return "{" + v.Name + "}"
	}
	return v.Name
}

func (u Unary) String() string { return string(u.Op) + u.X.String() }

func (b Binary) String() string {
	return "(" + b.L.String() + " " + string(b.Op) + " " + b.R.String() + ")"
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Fn + "(" + strings.Join(args, ", ") + ")"
}

// Num is a convenience constructor for numeric constants in code.
func Num(f float64) Node {
	if f == float64(int64(f)) {
		return Const{Val: Int(int64(f))}
	}
	return Const{Val: Real(f)}
}

// Lit is a convenience constructor for boolean constants in code.
func Lit(b bool) Node { return Const{Val: Bool(b)} }
