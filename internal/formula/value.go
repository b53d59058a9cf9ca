// Package formula implements the small expression language used by exam
// templates for grading rules, outcome conditions, prerequisites and
// validations.
package formula

import (
	"fmt"
	"strconv"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	KindError Kind = iota
	KindBool
	KindInt
	KindReal
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	default:
		return "error"
	}
}

// Value is the result of evaluating a formula. The zero Value is an error.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	msg  string
}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Real(f float64) Value { return Value{kind: KindReal, f: f} }
func ErrorValue(msg string) Value { return Value{kind: KindError, msg: msg} }

// Errorf builds an error value from a format string.
func Errorf(format string, args ...any) Value {
	return ErrorValue(fmt.Sprintf(format, args...))
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsError() bool { return v.kind == KindError }

// Message returns the description of an error value.
func (v Value) Message() string {
	if v.kind != KindError {
		return ""
	}
	if v.msg == "" {
		return "undefined value"
	}
	return v.msg
}

// AsBool reports the boolean held by v and whether v is a boolean.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsNumber reports v as a float64 when v is an integer or real.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindReal:
		return v.f, true
	}
	return 0, false
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return "error(" + v.Message() + ")"
	}
}

// Params maps parameter names to values during evaluation.
type Params map[string]Value

// SetBool stores a boolean parameter.
func (p Params) SetBool(name string, b bool) { p[name] = Bool(b) }

// SetNumber stores a real parameter.
func (p Params) SetNumber(name string, f float64) { p[name] = Real(f) }

// SetInt stores an integer parameter.
func (p Params) SetInt(name string, i int64) { p[name] = Int(i) }

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
