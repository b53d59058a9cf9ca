package formula

import (
	"math"
)

// Eval evaluates n against params. It never panics: every failure is
// reported as an error value.
func Eval(n Node, params Params) Value {
	switch n := n.(type) {
	case nil:
		return ErrorValue("empty formula")
	case Const:
		return n.Val
	case Var:
		v, ok := params[n.Name]
		if !ok {
			return Errorf("unknown parameter %q", n.Name)
		}
		return v
	case Unary:
		return evalUnary(n, params)
	case Binary:
		return evalBinary(n, params)
	case Call:
		return evalCall(n, params)
	default:
		return Errorf("unsupported node %T", n)
	}
}

func evalUnary(n Unary, params Params) Value {
	x := Eval(n.X, params)
	if x.IsError() {
		return x
	}
	switch n.Op {
	case OpNot:
		b, ok := x.AsBool()
		if !ok {
			return Errorf("operand of ! is %s, not bool", x.Kind())
		}
		return Bool(!b)
	case OpNeg:
		switch x.Kind() {
		case KindInt:
			return Int(-x.i)
		case KindReal:
			return Real(-x.f)
		}
		return Errorf("operand of unary - is %s", x.Kind())
	}
	return Errorf("unknown unary operator %q", n.Op)
}

func evalBinary(n Binary, params Params) Value {
	if n.Op == OpAnd || n.Op == OpOr {
		return evalLogical(n, params)
	}
	l := Eval(n.L, params)
	if l.IsError() {
		return l
	}
	r := Eval(n.R, params)
	if r.IsError() {
		return r
	}

	if n.Op == OpEQ || n.Op == OpNE {
		if lb, ok := l.AsBool(); ok {
			rb, ok := r.AsBool()
			if !ok {
				return Errorf("cannot compare bool with %s", r.Kind())
			}
			return Bool((lb == rb) == (n.Op == OpEQ))
		}
	}

	if l.Kind() == KindInt && r.Kind() == KindInt {
		return intArith(n.Op, l.i, r.i)
	}
	lf, lok := l.AsNumber()
	rf, rok := r.AsNumber()
	if !lok || !rok {
		return Errorf("operator %s needs numbers, got %s and %s", n.Op, l.Kind(), r.Kind())
	}
	return realArith(n.Op, lf, rf)
}

func evalLogical(n Binary, params Params) Value {
	l := Eval(n.L, params)
	if l.IsError() {
		return l
	}
	lb, ok := l.AsBool()
	if !ok {
		return Errorf("left operand of %s is %s, not bool", n.Op, l.Kind())
	}
	if n.Op == OpAnd && !lb {
		return Bool(false)
	}
	if n.Op == OpOr && lb {
		return Bool(true)
	}
	r := Eval(n.R, params)
	if r.IsError() {
		return r
	}
	rb, ok := r.AsBool()
	if !ok {
		return Errorf("right operand of %s is %s, not bool", n.Op, r.Kind())
	}
	return Bool(rb)
}

func intArith(op Op, a, b int64) Value {
	switch op {
	case OpAdd:
		return Int(a + b)
	case OpSub:
		return Int(a - b)
	case OpMul:
		return Int(a * b)
	case OpDiv:
		if b == 0 {
			return ErrorValue("division by zero")
		}
		if a%b == 0 {
			return Int(a / b)
		}
		return Real(float64(a) / float64(b))
	}
	return realArith(op, float64(a), float64(b))
}

func realArith(op Op, a, b float64) Value {
	switch op {
	case OpAdd:
		return Real(a + b)
	case OpSub:
		return Real(a - b)
	case OpMul:
		return Real(a * b)
	case OpDiv:
		if b == 0 {
			return ErrorValue("division by zero")
		}
		return Real(a / b)
	case OpLT:
		return Bool(a < b)
	case OpLE:
		return Bool(a <= b)
	case OpGT:
		return Bool(a > b)
	case OpGE:
		return Bool(a >= b)
	case OpEQ:
		return Bool(a == b)
	case OpNE:
		return Bool(a != b)
	}
	return Errorf("unknown operator %q", op)
}

func evalCall(n Call, params Params) Value {
	if n.Fn == "if" {
		if len(n.Args) != 3 {
			return Errorf("if takes 3 arguments, got %d", len(n.Args))
		}
		c := Eval(n.Args[0], params)
		if c.IsError() {
			return c
		}
		b, ok := c.AsBool()
		if !ok {
			return Errorf("if condition is %s, not bool", c.Kind())
		}
		if b {
			return Eval(n.Args[1], params)
		}
		return Eval(n.Args[2], params)
	}

	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		args[i] = Eval(a, params)
		if args[i].IsError() {
			return args[i]
		}
	}

	switch n.Fn {
	case "abs", "floor", "ceil", "round":
		if len(args) != 1 {
			return Errorf("%s takes 1 argument, got %d", n.Fn, len(args))
		}
		if args[0].Kind() == KindInt {
			if n.Fn == "abs" && args[0].i < 0 {
				return Int(-args[0].i)
			}
			return args[0]
		}
		f, ok := args[0].AsNumber()
		if !ok {
			return Errorf("%s needs a number, got %s", n.Fn, args[0].Kind())
		}
		switch n.Fn {
		case "abs":
			return Real(math.Abs(f))
		case "floor":
			return Int(int64(math.Floor(f)))
		case "ceil":
			return Int(int64(math.Ceil(f)))
		default:
			return Int(int64(math.Round(f)))
		}
	case "min", "max":
		if len(args) == 0 {
			return Errorf("%s needs at least 1 argument", n.Fn)
		}
		best := args[0]
		bf, ok := best.AsNumber()
		if !ok {
			return Errorf("%s needs numbers, got %s", n.Fn, best.Kind())
		}
		for _, a := range args[1:] {
			f, ok := a.AsNumber()
			if !ok {
				return Errorf("%s needs numbers, got %s", n.Fn, a.Kind())
			}
			if (n.Fn == "min" && f < bf) || (n.Fn == "max" && f > bf) {
				best, bf = a, f
			}
		}
		return best
	}
	return Errorf("unknown function %q", n.Fn)
}
