package formula

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Expr is a formula together with its source text. It marshals to and from
// its source in both YAML templates and JSON.
type Expr struct {
	Source string
	Node   Node
}

// NewExpr parses src into an Expr. Blank source yields the zero Expr.
func NewExpr(src string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return Expr{}, nil
	}
	n, err := Parse(src)
	if err != nil {
		return Expr{}, err
	}
	return Expr{Source: src, Node: n}, nil
}

// MustExpr is NewExpr for literals in code and tests.
func MustExpr(src string) Expr {
	e, err := NewExpr(src)
	if err != nil {
		panic(err)
	}
	return e
}

// IsZero reports whether e holds no formula.
func (e Expr) IsZero() bool { return e.Node == nil }

// Eval evaluates the expression.
func (e Expr) Eval(params Params) Value { return Eval(e.Node, params) }

func (e Expr) String() string { return e.Source }

func (e Expr) MarshalJSON() ([]byte, error) { return json.Marshal(e.Source) }

func (e *Expr) UnmarshalJSON(data []byte) error {
	var src string
	if err := json.Unmarshal(data, &src); err != nil {
		return fmt.Errorf("formula must be a string: %w", err)
	}
	parsed, err := NewExpr(src)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (e Expr) MarshalYAML() (any, error) { return e.Source, nil }

func (e *Expr) UnmarshalYAML(value *yaml.Node) error {
	var src string
	if err := value.Decode(&src); err != nil {
		return fmt.Errorf("line %d: formula must be a string: %w", value.Line, err)
	}
	parsed, err := NewExpr(src)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*e = parsed
	return nil
}
