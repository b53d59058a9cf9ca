// Package legality decides whether a finalized attempt is a replay, legal,
// or illegal under the attempt limits of its exam type, and applies the
// consequences of an illegal attempt.
package legality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examcore/internal/model"
)

// Verdict is the result of a legality check.
type Verdict int

const (
	Legal Verdict = iota
	Replay
	Illegal
)

func (v Verdict) String() string {
	switch v {
	case Legal:
		return "legal"
	case Replay:
		return "replay"
	case Illegal:
		return "illegal"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

const (
	// HoldCode is placed on students who submit an illegal attempt.
	HoldCode = "18"
	// HoldSeverity is the severity of HoldCode.
	HoldSeverity = "F"
)

const (
	maxProctoredPlacement   = 2
	maxUnproctoredPlacement = 1
	maxChallenge            = 1
)

// Candidate describes the attempt being finalized.
type Candidate struct {
	StudentID string
	ExamID    string
	Type      model.ExamType
	Serial    int64
	Start     time.Time
	Proctored bool
}

// Decision is the outcome of Check.
type Decision struct {
	Verdict Verdict
	Reason  string
	// AttemptNumber is the 1-based number of this attempt among the
	// student's legal attempts of the same kind.
	AttemptNumber int
}

// AttemptSource lists a student's persisted attempts of one exam type.
type AttemptSource interface {
	AttemptsByType(ctx context.Context, studentID string, typ model.ExamType) ([]model.Attempt, error)
}

// Checker applies the attempt limits.
type Checker struct {
	src AttemptSource
	log *slog.Logger
}

// NewChecker returns a Checker reading prior attempts from src.
func NewChecker(src AttemptSource, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{src: src, log: log}
}

// Check classifies c. A replay is detected for every exam type; attempt
// limits apply to placement and challenge exams only.
func (ch *Checker) Check(ctx context.Context, c Candidate) (Decision, error) {
	prior, err := ch.src.AttemptsByType(ctx, c.StudentID, c.Type)
	if err != nil {
		return Decision{}, fmt.Errorf("query prior attempts: %w", err)
	}
	if IsReplay(prior, c.ExamID, c.Serial, c.Start) {
		return Decision{Verdict: Replay, Reason: "attempt already recorded"}, nil
	}

	switch c.Type.Category() {
	case model.CategoryPlacement:
		return placement(prior, c.Proctored), nil
	case model.CategoryChallenge:
		var same []model.Attempt
		for _, a := range prior {
			if a.ExamID == c.ExamID {
				same = append(same, a)
			}
		}
		return challenge(same, c.Proctored), nil
	}
	return Decision{Verdict: Legal, AttemptNumber: countLegal(prior) + 1}, nil
}

func placement(prior []model.Attempt, proctored bool) Decision {
	var unproctored, proct int
	for _, a := range prior {
		if !a.Legal {
			continue
		}
		if a.Proctored {
			proct++
		} else {
			unproctored++
		}
	}
	d := Decision{Verdict: Legal, AttemptNumber: unproctored + proct + 1}
	switch {
	case proctored && proct >= maxProctoredPlacement:
		d.Verdict, d.Reason = Illegal, "proctored placement attempts exhausted"
	case !proctored && unproctored >= maxUnproctoredPlacement:
		d.Verdict, d.Reason = Illegal, "unproctored placement attempt already used"
	case !proctored && proct > 0:
		d.Verdict, d.Reason = Illegal, "unproctored attempt after a proctored attempt"
	}
	return d
}

func challenge(prior []model.Attempt, proctored bool) Decision {
	n := countLegal(prior)
	d := Decision{Verdict: Legal, AttemptNumber: n + 1}
	switch {
	case !proctored:
		d.Verdict, d.Reason = Illegal, "challenge exams must be proctored"
	case n >= maxChallenge:
		d.Verdict, d.Reason = Illegal, "challenge exam already attempted"
	}
	return d
}

func countLegal(prior []model.Attempt) int {
	n := 0
	for _, a := range prior {
		if a.Legal {
			n++
		}
	}
	return n
}

// IsReplay reports whether prior holds an attempt of examID with the same
// serial and start time.
func IsReplay(prior []model.Attempt, examID string, serial int64, start time.Time) bool {
	for _, a := range prior {
		if a.ExamID == examID && a.Serial == serial && a.Start.UnixMilli() == start.UnixMilli() {
			return true
		}
	}
	return false
}

// IsMasteryReplay reports whether any prior mastery attempt carries serial.
func IsMasteryReplay(prior []model.MasteryAttempt, serial int64) bool {
	for _, a := range prior {
		if a.Serial == serial {
			return true
		}
	}
	return false
}

// DenyIllegal moves every earned placement and credit of rec to the denied
// sets with reason I and converts existing denials to I.
func DenyIllegal(rec *model.StudentExamRecord) {
	for course := range rec.DeniedPlacement {
		rec.DeniedPlacement[course] = model.DeniedByIllegal
	}
	for course := range rec.DeniedCredit {
		rec.DeniedCredit[course] = model.DeniedByIllegal
	}
	for course := range rec.EarnedPlacement {
		rec.DeniedPlacement[course] = model.DeniedByIllegal
	}
	for course := range rec.EarnedCredit {
		rec.DeniedCredit[course] = model.DeniedByIllegal
	}
	rec.EarnedPlacement = model.CourseSet{}
	rec.EarnedCredit = model.CourseSet{}
	rec.ValidationMethod = ""
	rec.Legal = false
}

// HoldStore reads and writes administrative holds.
type HoldStore interface {
	AdminHold(ctx context.Context, studentID, code string) (*model.Hold, error)
	InsertHold(ctx context.Context, h model.Hold) error
	RefreshHold(ctx context.Context, studentID, code string, at time.Time) error
	SetHoldSeverity(ctx context.Context, studentID, severity string) error
}

// EscalateHold places hold HoldCode on the student, or refreshes its date
// when the hold already exists.
func EscalateHold(ctx context.Context, hs HoldStore, studentID string, now time.Time) error {
	existing, err := hs.AdminHold(ctx, studentID, HoldCode)
	if err != nil {
		return fmt.Errorf("query hold: %w", err)
	}
	if existing != nil {
		if err := hs.RefreshHold(ctx, studentID, HoldCode, now); err != nil {
			return fmt.Errorf("refresh hold: %w", err)
		}
		return nil
	}
	h := model.Hold{StudentID: studentID, Code: HoldCode, Severity: HoldSeverity, CreatedAt: now}
	if err := hs.InsertHold(ctx, h); err != nil {
		return fmt.Errorf("insert hold: %w", err)
	}
	if err := hs.SetHoldSeverity(ctx, studentID, HoldSeverity); err != nil {
		return fmt.Errorf("update hold severity: %w", err)
	}
	return nil
}
