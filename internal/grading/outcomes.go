package grading

import (
	"log/slog"

	"github.com/pavelanni/examcore/internal/formula"
	"github.com/pavelanni/examcore/internal/model"
)

// Determination is what an exam's outcomes grant and deny.
type Determination struct {
	EarnedPlacement  model.CourseSet
	EarnedCredit     model.CourseSet
	DeniedPlacement  map[string]model.DenialReason
	DeniedCredit     map[string]model.DenialReason
	ValidationMethod string
	GrantLicense     bool
}

func newDetermination() Determination {
	return Determination{
		EarnedPlacement: model.CourseSet{},
		EarnedCredit:    model.CourseSet{},
		DeniedPlacement: map[string]model.DenialReason{},
		DeniedCredit:    map[string]model.DenialReason{},
	}
}

// OutcomeDeterminer evaluates outcome conditions, prerequisites and
// validations and applies their actions.
type OutcomeDeterminer struct {
	log *slog.Logger
}

// NewOutcomeDeterminer returns a determiner that logs to log, or to the
// default logger when log is nil.
func NewOutcomeDeterminer(log *slog.Logger) *OutcomeDeterminer {
	if log == nil {
		log = slog.Default()
	}
	return &OutcomeDeterminer{log: log}
}

// Determine evaluates exam's outcomes in order. Outcomes without a
// condition are skipped. Credit is only granted for proctored attempts,
// and a course that earned credit is dropped from the earned placements.
// The validation method is the last one recorded across all outcomes.
func (d *OutcomeDeterminer) Determine(exam *model.RealizedExam, params formula.Params, proctored bool) Determination {
	det := newDetermination()

	for _, out := range exam.Outcomes {
		if out.Condition.IsZero() {
			d.log.Warn("outcome has no condition", "exam", exam.ExamID, "serial", exam.Serial, "outcome", out.Name)
			continue
		}
		if !d.holds(exam, out.Name, "condition", out.Condition, params) {
			continue
		}

		var whyDeny model.DenialReason
		for _, pre := range out.Prerequisites {
			if !d.holds(exam, out.Name, "prerequisite", pre, params) {
				whyDeny = model.DeniedByPrereq
				break
			}
		}

		if whyDeny == "" {
			validBy := ""
			for _, v := range out.Validations {
				if d.holds(exam, out.Name, "validation", v.When, params) {
					validBy = v.How
					break
				}
			}
			if validBy == "" {
				whyDeny = model.DeniedByValidation
			} else {
				det.setMethod(validBy)
			}
		}

		for _, act := range out.Actions {
			switch act.Kind {
			case model.ActionPlacement:
				d.placement(&det, act.Course, whyDeny, out.LogDenial)
			case model.ActionCredit:
				whyDeny = d.credit(&det, act.Course, whyDeny, proctored, out.LogDenial)
			case model.ActionLicense:
				det.GrantLicense = true
			default:
				d.log.Warn("unknown outcome action", "exam", exam.ExamID, "outcome", out.Name, "action", act.Kind)
			}
		}
	}

	for course := range det.EarnedCredit {
		delete(det.EarnedPlacement, course)
	}
	return det
}

func (d *OutcomeDeterminer) placement(det *Determination, course string, whyDeny model.DenialReason, logDenial bool) {
	switch whyDeny {
	case "":
		det.EarnedPlacement.Add(course)
	case model.DeniedByValidation:
		// Awarded anyway, but the failed validation stays on record.
		det.EarnedPlacement.Add(course)
		if logDenial {
			deny(det.DeniedPlacement, course, whyDeny)
		}
		det.setMethod(model.ValidationUnvalidated)
	default:
		if logDenial {
			deny(det.DeniedPlacement, course, whyDeny)
		}
	}
}

// credit applies a credit action and returns the denial reason in effect
// for the outcome's remaining actions. An unproctored attempt turns the
// outcome into a validation denial.
func (d *OutcomeDeterminer) credit(det *Determination, course string, whyDeny model.DenialReason, proctored, logDenial bool) model.DenialReason {
	if !proctored {
		if logDenial {
			deny(det.DeniedCredit, course, model.DeniedByValidation)
		}
		return model.DeniedByValidation
	}
	switch whyDeny {
	case "":
		det.EarnedCredit.Add(course)
	case model.DeniedByValidation:
		det.EarnedCredit.Add(course)
		if logDenial {
			deny(det.DeniedCredit, course, whyDeny)
		}
		det.setMethod(model.ValidationUnvalidated)
	default:
		if logDenial {
			deny(det.DeniedCredit, course, whyDeny)
		}
	}
	return whyDeny
}

// holds evaluates expr, logging and returning false for errors and
// non-boolean results.
func (d *OutcomeDeterminer) holds(exam *model.RealizedExam, outcome, what string, expr formula.Expr, params formula.Params) bool {
	v := expr.Eval(params)
	if v.IsError() {
		d.log.Warn("outcome "+what+" failed",
			"exam", exam.ExamID, "serial", exam.Serial, "outcome", outcome,
			"formula", expr.Source, "error", v.Message())
		return false
	}
	b, ok := v.AsBool()
	if !ok {
		d.log.Warn("outcome "+what+" is not boolean",
			"exam", exam.ExamID, "serial", exam.Serial, "outcome", outcome,
			"formula", expr.Source, "value", v.String())
		return false
	}
	return b
}

func (det *Determination) setMethod(how string) {
	if how != "" {
		det.ValidationMethod = how[:1]
	}
}

// deny records reason for course unless an earlier reason is recorded.
func deny(denied map[string]model.DenialReason, course string, reason model.DenialReason) {
	if _, ok := denied[course]; !ok {
		denied[course] = reason
	}
}
