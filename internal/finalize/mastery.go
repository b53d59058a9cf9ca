package finalize

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/examcore/internal/legality"
	"github.com/pavelanni/examcore/internal/mastery"
	"github.com/pavelanni/examcore/internal/model"
	"github.com/pavelanni/examcore/internal/store"
)

type masteryWrite struct {
	attempt model.MasteryAttempt
	answers []model.MasteryAttemptAnswer
}

// finalizeMastery records one attempt per learning-target section of a
// synthesized exam.
func (s *Service) finalizeMastery(ctx context.Context, exam *model.RealizedExam, sub Submission) (*Summary, error) {
	log := s.log.With("student", sub.StudentID, "course", exam.Course, "serial", exam.Serial)
	now := s.now().UTC()

	prior, err := s.store.MasteryAttemptsByStudent(ctx, sub.StudentID)
	if err != nil {
		return nil, err
	}
	if legality.IsMasteryReplay(prior, exam.Serial) {
		return s.replay(ctx, sub.StudentID, exam.ExamID, exam.Serial), nil
	}

	start := exam.RealizedAt
	if start.IsZero() {
		start = now
	}
	started := presented(sub.Answers, start, now)

	results := mastery.Grade(exam, sub.Answers, log)
	grades := make(map[string]bool, len(results))
	var writes []masteryWrite
	for _, r := range results {
		_, short := mastery.SectionName(r.Unit, r.Objective)
		grades[short] = r.Passed

		standards, err := s.store.MasteryExamsFor(ctx, exam.Course, r.Unit, r.Objective)
		if err != nil {
			return nil, err
		}
		if len(standards) != 1 {
			log.Warn("learning target does not map to one standard exam, skipping",
				"unit", r.Unit, "objective", r.Objective, "matches", len(standards))
			continue
		}
		examID := standards[0].ExamID
		w := masteryWrite{attempt: model.MasteryAttempt{
			Serial:       exam.Serial,
			ExamID:       examID,
			StudentID:    sub.StudentID,
			Started:      started,
			Finished:     now,
			Score:        r.Score,
			MasteryScore: mastery.PassingScore,
			Passed:       r.Passed,
			Source:       source(sub),
		}}
		for _, q := range r.Questions {
			w.answers = append(w.answers, model.MasteryAttemptAnswer{
				Serial: exam.Serial, ExamID: examID, QuestionNbr: q.QuestionNbr, Correct: q.Correct,
			})
		}
		writes = append(writes, w)
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		dup, err := tx.HasMasteryAttempt(ctx, sub.StudentID, exam.Serial)
		if err != nil {
			return err
		}
		if dup {
			return errReplay
		}
		for _, w := range writes {
			if err := tx.InsertMasteryAttempt(ctx, w.attempt, w.answers); err != nil {
				return err
			}
		}
		if err := tx.DeletePendingExam(ctx, sub.StudentID, exam.Serial); err != nil {
			return err
		}
		_, err = tx.AppendLog(ctx, store.LogEntry{
			Kind: store.LogMastery, StudentID: sub.StudentID, ExamID: exam.ExamID, Serial: exam.Serial,
			Detail: fmt.Sprintf("%d of %d sections recorded", len(writes), len(results)), CreatedAt: now,
		})
		return err
	})
	if errors.Is(err, errReplay) {
		return s.replay(ctx, sub.StudentID, exam.ExamID, exam.Serial), nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist mastery %d: %w", exam.Serial, err)
	}

	passed := len(results) > 0
	for _, r := range results {
		passed = passed && r.Passed
	}
	log.Info("mastery exam finalized", "sections", len(results), "recorded", len(writes))
	return &Summary{
		StudentID: sub.StudentID,
		ExamID:    exam.ExamID,
		Serial:    exam.Serial,
		Legal:     true,
		Passed:    passed,
		Grades:    grades,
		Mastery:   results,
	}, nil
}
