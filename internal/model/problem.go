package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ProblemKind selects the correctness predicate of a variant.
type ProblemKind string

const (
	KindChoice      ProblemKind = "choice"
	KindMultiChoice ProblemKind = "multi_choice"
	KindNumeric     ProblemKind = "numeric"
	KindInputs      ProblemKind = "inputs"
	KindSurvey      ProblemKind = "survey"
	KindAutoCorrect ProblemKind = "auto_correct"
)

// ChoiceSlots is the number of choice positions in an answer string.
const ChoiceSlots = 5

// ErrMalformedResponse is returned when a response does not fit the
// problem kind.
var ErrMalformedResponse = errors.New("malformed response")

// Variant is one concrete version of a problem.
type Variant struct {
	Ref       string             `json:"ref" yaml:"ref"`
	Kind      ProblemKind        `json:"kind" yaml:"kind"`
	Correct   []int              `json:"correct,omitempty" yaml:"correct,omitempty"`
	Answer    float64            `json:"answer,omitempty" yaml:"answer,omitempty"`
	Expected  map[string]float64 `json:"expected,omitempty" yaml:"expected,omitempty"`
	Tolerance float64            `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

// AutoCorrectVariant is the placeholder used for questions a student has
// already mastered.
func AutoCorrectVariant() Variant {
	return Variant{Ref: "auto-correct", Kind: KindAutoCorrect}
}

// Graded is the canonical form of a response.
type Graded struct {
	Answer  string
	Correct bool
}

// Grade canonicalizes response and applies the variant's correctness
// predicate. A nil response is never correct, except for auto-correct
// placeholders.
func (v Variant) Grade(response any) (Graded, error) {
	if v.Kind == KindAutoCorrect {
		return Graded{Answer: blankAnswer(), Correct: true}, nil
	}
	if response == nil {
		return Graded{Answer: blankAnswer()}, nil
	}

	switch v.Kind {
	case KindChoice, KindSurvey:
		idx, err := choiceIndex(response)
		if err != nil {
			if v.Kind == KindSurvey {
				if s, ok := response.(string); ok {
					return Graded{Answer: s}, nil
				}
			}
			return Graded{}, err
		}
		g := Graded{Answer: ChoiceLetters(idx)}
		g.Correct = v.Kind == KindChoice && len(v.Correct) == 1 && v.Correct[0] == idx
		return g, nil

	case KindMultiChoice:
		list, ok := response.([]any)
		if !ok {
			return Graded{}, fmt.Errorf("%w: expected a list of choices, got %T", ErrMalformedResponse, response)
		}
		picked := make([]int, 0, len(list))
		for _, item := range list {
			idx, err := choiceIndex(item)
			if err != nil {
				return Graded{}, err
			}
			picked = append(picked, idx)
		}
		return Graded{Answer: ChoiceLetters(picked...), Correct: sameSet(picked, v.Correct)}, nil

	case KindNumeric:
		x, err := number(response)
		if err != nil {
			return Graded{}, err
		}
		return Graded{
			Answer:  strconv.FormatFloat(x, 'g', -1, 64),
			Correct: math.Abs(x-v.Answer) <= v.Tolerance,
		}, nil

	case KindInputs:
		m, ok := response.(map[string]any)
		if !ok {
			return Graded{}, fmt.Errorf("%w: expected named inputs, got %T", ErrMalformedResponse, response)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		correct := len(m) == len(v.Expected)
		for _, k := range keys {
			x, err := number(m[k])
			if err != nil {
				return Graded{}, fmt.Errorf("input %q: %w", k, err)
			}
			parts = append(parts, k+"="+strconv.FormatFloat(x, 'g', -1, 64))
			want, ok := v.Expected[k]
			if !ok || math.Abs(x-want) > v.Tolerance {
				correct = false
			}
		}
		return Graded{Answer: strings.Join(parts, ";"), Correct: correct}, nil
	}
	return Graded{}, fmt.Errorf("%w: unknown problem kind %q", ErrMalformedResponse, v.Kind)
}

// ChoiceLetters renders chosen indices (1-based) as a five-slot answer
// string, e.g. ChoiceLetters(2) == " B   ".
func ChoiceLetters(idx ...int) string {
	b := []byte(blankAnswer())
	for _, i := range idx {
		if i >= 1 && i <= ChoiceSlots {
			b[i-1] = byte('A' + i - 1)
		}
	}
	return string(b)
}

func blankAnswer() string { return strings.Repeat(" ", ChoiceSlots) }

func choiceIndex(v any) (int, error) {
	f, err := number(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < 1 || f > ChoiceSlots {
		return 0, fmt.Errorf("%w: choice %v out of range", ErrMalformedResponse, v)
	}
	return int(f), nil
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedResponse, n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: expected a number, got %T", ErrMalformedResponse, v)
}

func sameSet(a, b []int) bool {
	set := make(map[int]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	want := make(map[int]bool, len(b))
	for _, x := range b {
		want[x] = true
		if !set[x] {
			return false
		}
	}
	return len(set) == len(want)
}

// RawAnswerSet is the submission payload: slot 0 holds control data
// [serial, realization, presentation, completion] and slot i the response
// to problem i.
type RawAnswerSet []any

func (r RawAnswerSet) control(i int) (float64, bool) {
	if len(r) == 0 {
		return 0, false
	}
	ctrl, ok := r[0].([]any)
	if !ok || i >= len(ctrl) || ctrl[i] == nil {
		return 0, false
	}
	f, err := number(ctrl[i])
	if err != nil {
		return 0, false
	}
	return f, true
}

// Serial returns the serial carried in the control slot.
func (r RawAnswerSet) Serial() (int64, bool) {
	f, ok := r.control(0)
	return int64(f), ok
}

// Duration returns the seconds between presentation and completion as
// reported by the client, when both are present.
func (r RawAnswerSet) Duration() (float64, bool) {
	p, ok := r.control(2)
	if !ok {
		return 0, false
	}
	c, ok := r.control(3)
	if !ok {
		return 0, false
	}
	return c - p, true
}

// Response returns the response to problem id, or nil.
func (r RawAnswerSet) Response(id int) any {
	if id <= 0 || id >= len(r) {
		return nil
	}
	return r[id]
}
