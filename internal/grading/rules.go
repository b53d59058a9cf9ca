package grading

import (
	"log/slog"

	"github.com/pavelanni/examcore/internal/formula"
	"github.com/pavelanni/examcore/internal/model"
)

// PassedGrade is the grade that decides whether an exam was passed.
const PassedGrade = "passed"

// ScoreSubtest is the subtest compared against the mastery score.
const ScoreSubtest = "score"

// RuleEvaluator applies an exam's grading rules.
type RuleEvaluator struct {
	log *slog.Logger
}

// NewRuleEvaluator returns an evaluator that logs to log, or to the
// default logger when log is nil.
func NewRuleEvaluator(log *slog.Logger) *RuleEvaluator {
	if log == nil {
		log = slog.Default()
	}
	return &RuleEvaluator{log: log}
}

// Evaluate computes every grade of exam from params, storing each as a
// boolean parameter. It returns the grades and the value of the passed
// grade.
func (e *RuleEvaluator) Evaluate(exam *model.RealizedExam, params formula.Params) (map[string]bool, bool) {
	grades := make(map[string]bool)

	if exam.MasteryScore != nil {
		if score, ok := params[ScoreSubtest].AsNumber(); ok && exam.HasSubtest(ScoreSubtest) {
			passed := score >= *exam.MasteryScore
			grades[PassedGrade] = passed
			params.SetBool(PassedGrade, passed)
		}
	}

	for _, rule := range exam.Rules {
		satisfied := false
		for _, cond := range rule.Conditions {
			v := cond.Eval(params)
			if v.IsError() {
				e.log.Warn("grading rule condition failed",
					"exam", exam.ExamID, "serial", exam.Serial, "rule", rule.Name,
					"formula", cond.Source, "error", v.Message())
				continue
			}
			b, ok := v.AsBool()
			if !ok {
				e.log.Warn("grading rule condition is not boolean",
					"exam", exam.ExamID, "serial", exam.Serial, "rule", rule.Name,
					"formula", cond.Source, "value", v.String())
				continue
			}
			if b {
				satisfied = true
				break
			}
		}
		grades[rule.Name] = satisfied
		params.SetBool(rule.Name, satisfied)
	}

	passed, _ := params[PassedGrade].AsBool()
	return grades, passed
}
