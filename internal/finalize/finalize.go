package finalize

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pavelanni/examcore/internal/grading"
	"github.com/pavelanni/examcore/internal/legality"
	"github.com/pavelanni/examcore/internal/mastery"
	"github.com/pavelanni/examcore/internal/model"
	"github.com/pavelanni/examcore/internal/store"
)

// maxDurationSeconds bounds a believable client-reported exam duration.
const maxDurationSeconds = 12 * 60 * 60

// Exam sources recorded with proctored attempts.
const (
	SourceTestingCenter = "TC"
	SourceRemote        = "RM"
)

var errReplay = errors.New("attempt already recorded")

// Submission is a student's answers to a presented exam.
type Submission struct {
	StudentID string `json:"student_id"`
	ExamID    string `json:"exam_id"`
	// Serial defaults to the serial in the answers' control slot.
	Serial          int64              `json:"serial,omitempty"`
	RealizationTime time.Time          `json:"realization_time,omitzero"`
	Proctored       bool               `json:"proctored"`
	Remote          bool               `json:"remote,omitempty"`
	StationID       string             `json:"station_id,omitempty"`
	Answers         model.RawAnswerSet `json:"answers"`
}

// Summary is what the caller relays back to the student.
type Summary struct {
	StudentID       string                        `json:"student_id"`
	ExamID          string                        `json:"exam_id"`
	Serial          int64                         `json:"serial"`
	Replay          bool                          `json:"replay,omitempty"`
	Legal           bool                          `json:"legal"`
	Passed          bool                          `json:"passed"`
	Result          string                        `json:"result,omitempty"`
	SubtestScores   map[string]float64            `json:"subtest_scores,omitempty"`
	Grades          map[string]bool               `json:"grades,omitempty"`
	Missed          map[int]string                `json:"missed,omitempty"`
	EarnedPlacement []string                      `json:"earned_placement,omitempty"`
	EarnedCredit    []string                      `json:"earned_credit,omitempty"`
	DeniedPlacement map[string]model.DenialReason `json:"denied_placement,omitempty"`
	DeniedCredit    map[string]model.DenialReason `json:"denied_credit,omitempty"`
	Mastery         []mastery.SectionResult       `json:"mastery,omitempty"`
	Message         string                        `json:"message,omitempty"`
}

// Finalize grades sub and persists the result. Submitting the same attempt
// again returns a Summary with Replay set and writes nothing.
func (s *Service) Finalize(ctx context.Context, sub Submission) (*Summary, error) {
	if IsGuest(sub.StudentID) {
		return nil, ErrGuestStudent
	}
	if sub.StudentID == "" {
		return nil, fmt.Errorf("%w: missing student id", ErrNoSuchExam)
	}
	if sub.Serial == 0 {
		sub.Serial, _ = sub.Answers.Serial()
	}
	if sub.Serial == 0 {
		return nil, fmt.Errorf("%w: missing serial", ErrNoSuchExam)
	}

	exam, err := s.store.PendingExam(ctx, sub.StudentID, sub.Serial)
	if errors.Is(err, store.ErrNotFound) {
		return s.finalized(ctx, sub)
	}
	if err != nil {
		return nil, err
	}
	if sub.ExamID != "" && sub.ExamID != exam.ExamID {
		return nil, fmt.Errorf("%w: serial %d belongs to %s, not %s", ErrNoSuchExam, sub.Serial, exam.ExamID, sub.ExamID)
	}

	if exam.Type == model.TypeMastery {
		return s.finalizeMastery(ctx, exam, sub)
	}
	return s.finalizeExam(ctx, exam, sub)
}

// finalized handles a submission whose pending exam is gone: either it was
// already finalized or it was never presented.
func (s *Service) finalized(ctx context.Context, sub Submission) (*Summary, error) {
	if sub.ExamID == mastery.ExamRef {
		prior, err := s.store.MasteryAttemptsByStudent(ctx, sub.StudentID)
		if err != nil {
			return nil, err
		}
		if legality.IsMasteryReplay(prior, sub.Serial) {
			return s.replay(ctx, sub.StudentID, sub.ExamID, sub.Serial), nil
		}
		return nil, fmt.Errorf("%w: serial %d", ErrNoSuchExam, sub.Serial)
	}
	if sub.ExamID == "" {
		return nil, fmt.Errorf("%w: serial %d", ErrNoSuchExam, sub.Serial)
	}

	a, err := s.store.FindAttempt(ctx, sub.StudentID, sub.ExamID, sub.Serial)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s serial %d", ErrNoSuchExam, sub.ExamID, sub.Serial)
	}
	if err != nil {
		return nil, err
	}
	if !sub.RealizationTime.IsZero() && !legality.IsReplay([]model.Attempt{*a}, sub.ExamID, sub.Serial, sub.RealizationTime) {
		return nil, fmt.Errorf("%w: %s serial %d was realized at a different time", ErrNoSuchExam, sub.ExamID, sub.Serial)
	}
	return s.replay(ctx, sub.StudentID, sub.ExamID, sub.Serial), nil
}

func (s *Service) replay(ctx context.Context, studentID, examID string, sn int64) *Summary {
	s.log.Info("replayed submission ignored", "student", studentID, "exam", examID, "serial", sn)
	_, err := s.store.AppendLog(ctx, store.LogEntry{
		Kind: store.LogReplay, StudentID: studentID, ExamID: examID, Serial: sn, CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("append replay log", "serial", sn, "error", err)
	}
	return &Summary{StudentID: studentID, ExamID: examID, Serial: sn, Replay: true, Legal: true}
}

func (s *Service) finalizeExam(ctx context.Context, exam *model.RealizedExam, sub Submission) (*Summary, error) {
	log := s.log.With("student", sub.StudentID, "exam", exam.ExamID, "serial", exam.Serial)
	now := s.now().UTC()
	start := exam.RealizedAt
	if start.IsZero() {
		start = now
	}

	decision, err := s.checker.Check(ctx, legality.Candidate{
		StudentID: sub.StudentID,
		ExamID:    exam.ExamID,
		Type:      exam.Type,
		Serial:    exam.Serial,
		Start:     start,
		Proctored: sub.Proctored,
	})
	if err != nil {
		return nil, err
	}
	if decision.Verdict == legality.Replay {
		return s.replay(ctx, sub.StudentID, exam.ExamID, exam.Serial), nil
	}

	student, err := s.store.Student(ctx, sub.StudentID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("no profile for student, using defaults")
		student = &model.Student{ID: sub.StudentID}
	} else if err != nil {
		return nil, err
	}
	history, err := s.store.LatestSurveyAnswers(ctx, sub.StudentID)
	if err != nil {
		return nil, err
	}

	recorded := grading.RecordAnswers(exam, sub.Answers, log)
	scores := grading.ScoreSubtests(exam, recorded.Answers)
	params := demographics(student, mergeSurveys(history, recorded.Surveys), sub.Proctored, log)
	grading.PublishScores(params, scores)
	grades, passed := s.rules.Evaluate(exam, params)
	det := s.outcomes.Determine(exam, params, sub.Proctored)
	wouldEarn := len(det.EarnedPlacement)+len(det.EarnedCredit) > 0

	rec := &model.StudentExamRecord{
		StudentID:        sub.StudentID,
		ExamID:           exam.ExamID,
		Course:           exam.Course,
		Unit:             exam.Unit,
		Type:             exam.Type,
		Serial:           exam.Serial,
		Start:            start,
		Finish:           now,
		Presented:        presented(sub.Answers, start, now),
		Proctored:        sub.Proctored,
		Source:           source(sub),
		Score:            scores[grading.ScoreSubtest],
		MasteryScore:     exam.MasteryScore,
		Legal:            decision.Verdict == legality.Legal,
		SubtestScores:    scores,
		Grades:           grades,
		Missed:           recorded.Missed,
		Answers:          recorded.Answers,
		Surveys:          recorded.Surveys,
		EarnedPlacement:  det.EarnedPlacement,
		EarnedCredit:     det.EarnedCredit,
		DeniedPlacement:  det.DeniedPlacement,
		DeniedCredit:     det.DeniedCredit,
		ValidationMethod: det.ValidationMethod,
		GrantLicense:     det.GrantLicense,
	}
	if exam.Type.Category() == model.CategoryPlacement && sub.Proctored {
		rec.ValidationMethod = model.ValidationProctored
	}
	if !rec.Legal {
		log.Warn("illegal attempt", "reason", decision.Reason, "attempt", decision.AttemptNumber)
		legality.DenyIllegal(rec)
		rec.GrantLicense = false
	}
	rec.Passed = passed && rec.Legal
	rec.Result = result(exam, rec, passed, wouldEarn, decision.AttemptNumber)

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		// A concurrent finalization of the same attempt may have won.
		dup, err := tx.HasAttempt(ctx, rec.StudentID, rec.ExamID, rec.Serial)
		if err != nil {
			return err
		}
		if dup {
			return errReplay
		}
		if len(rec.Surveys) > 0 {
			if _, err := tx.UpsertSurveyAnswers(ctx, rec.StudentID, rec.ExamID, rec.Surveys, now); err != nil {
				return err
			}
		}
		if err := tx.InsertResult(ctx, rec); err != nil {
			return err
		}
		if rec.GrantLicense {
			if _, err := tx.SetLicensed(ctx, rec.StudentID); err != nil {
				return err
			}
		}
		kind := store.LogFinalized
		if !rec.Legal {
			kind = store.LogIllegal
			if err := legality.EscalateHold(ctx, tx, rec.StudentID, now); err != nil {
				return err
			}
		}
		if err := tx.DeletePendingExam(ctx, rec.StudentID, rec.Serial); err != nil {
			return err
		}
		_, err = tx.AppendLog(ctx, store.LogEntry{
			Kind: kind, StudentID: rec.StudentID, ExamID: rec.ExamID, Serial: rec.Serial,
			Detail: decision.Reason, CreatedAt: now,
		})
		return err
	})
	if errors.Is(err, errReplay) {
		return s.replay(ctx, sub.StudentID, exam.ExamID, exam.Serial), nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist %s/%d: %w", rec.ExamID, rec.Serial, err)
	}

	log.Info("exam finalized", "passed", rec.Passed, "legal", rec.Legal, "result", rec.Result,
		"station", sub.StationID)
	return &Summary{
		StudentID:       rec.StudentID,
		ExamID:          rec.ExamID,
		Serial:          rec.Serial,
		Legal:           rec.Legal,
		Passed:          rec.Passed,
		Result:          rec.Result,
		SubtestScores:   rec.SubtestScores,
		Grades:          rec.Grades,
		Missed:          rec.Missed,
		EarnedPlacement: rec.EarnedPlacement.Sorted(),
		EarnedCredit:    rec.EarnedCredit.Sorted(),
		DeniedPlacement: rec.DeniedPlacement,
		DeniedCredit:    rec.DeniedCredit,
	}, nil
}

// presented reconstructs when the student started from the duration the
// client reports, falling back to start.
func presented(raw model.RawAnswerSet, start, now time.Time) time.Time {
	d, ok := raw.Duration()
	if !ok || d < 0 || d >= maxDurationSeconds {
		return start
	}
	return now.Add(-time.Duration(d * float64(time.Second)))
}

func source(sub Submission) string {
	switch {
	case !sub.Proctored:
		return ""
	case sub.Remote:
		return SourceRemote
	default:
		return SourceTestingCenter
	}
}

// result is the value stored in the attempt's passed column. Placement and
// challenge attempts record Y when they earned something legally, the
// attempt number when an illegal attempt would have earned something, and
// N otherwise. Practice course exams record C.
func result(exam *model.RealizedExam, rec *model.StudentExamRecord, passed, wouldEarn bool, attempt int) string {
	switch exam.Type.Category() {
	case model.CategoryPlacement, model.CategoryChallenge:
		switch {
		case wouldEarn && rec.Legal:
			return "Y"
		case wouldEarn:
			return strconv.Itoa(attempt)
		default:
			return "N"
		}
	}
	if exam.Practice() {
		return "C"
	}
	if passed && rec.Legal {
		return "Y"
	}
	return "N"
}
