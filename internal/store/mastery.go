package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/examcore/internal/model"
)

// UpsertMasteryExam creates or replaces a standard exam definition.
func (s *Store) UpsertMasteryExam(ctx context.Context, m model.MasteryExam) error {
	_, err := s.conn().exec(ctx,
		`INSERT INTO mastery_exams (exam_id, course, unit, objective, template_ref, active) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (exam_id) DO UPDATE SET course = excluded.course, unit = excluded.unit,
		   objective = excluded.objective, template_ref = excluded.template_ref, active = excluded.active`,
		m.ExamID, m.Course, m.Unit, m.Objective, m.TemplateRef, yn(m.Active))
	return access("upsert mastery exam", err)
}

// ActiveMasteryExams lists the active standard exams of a course.
func (s *Store) ActiveMasteryExams(ctx context.Context, course string) ([]model.MasteryExam, error) {
	return s.masteryExams(ctx,
		`SELECT exam_id, course, unit, objective, template_ref, active FROM mastery_exams
		 WHERE course = ? AND active = 'Y' ORDER BY unit, objective, exam_id`, course)
}

// MasteryExamsFor lists the active standard exams for one learning target.
func (s *Store) MasteryExamsFor(ctx context.Context, course string, unit, objective int) ([]model.MasteryExam, error) {
	return s.masteryExams(ctx,
		`SELECT exam_id, course, unit, objective, template_ref, active FROM mastery_exams
		 WHERE course = ? AND unit = ? AND objective = ? AND active = 'Y' ORDER BY exam_id`, course, unit, objective)
}

func (s *Store) masteryExams(ctx context.Context, query string, args ...any) ([]model.MasteryExam, error) {
	rows, err := s.conn().query(ctx, query, args...)
	if err != nil {
		return nil, access("query mastery exams", err)
	}
	defer rows.Close()
	var out []model.MasteryExam
	for rows.Next() {
		var m model.MasteryExam
		var active string
		if err := rows.Scan(&m.ExamID, &m.Course, &m.Unit, &m.Objective, &m.TemplateRef, &active); err != nil {
			return nil, access("scan mastery exam", err)
		}
		m.Active = active == "Y"
		out = append(out, m)
	}
	return out, access("query mastery exams", rows.Err())
}

// MasteryAttemptsByStudent lists every mastery attempt of a student.
func (s *Store) MasteryAttemptsByStudent(ctx context.Context, studentID string) ([]model.MasteryAttempt, error) {
	rows, err := s.conn().query(ctx,
		`SELECT serial, exam_id, started_ms, finished_ms, score, mastery_score, passed, first_passed, source
		 FROM mastery_attempts WHERE student_id = ? ORDER BY finished_ms, serial, exam_id`, studentID)
	if err != nil {
		return nil, access("query mastery attempts", err)
	}
	defer rows.Close()
	var out []model.MasteryAttempt
	for rows.Next() {
		a := model.MasteryAttempt{StudentID: studentID}
		var started, finished int64
		var passed, first string
		if err := rows.Scan(&a.Serial, &a.ExamID, &started, &finished, &a.Score, &a.MasteryScore, &passed, &first, &a.Source); err != nil {
			return nil, access("scan mastery attempt", err)
		}
		a.Started, a.Finished = fromMS(started), fromMS(finished)
		a.Passed = passed == "Y"
		a.FirstPassed = first == "Y"
		out = append(out, a)
	}
	return out, access("query mastery attempts", rows.Err())
}

// MasteryAttemptAnswers lists a student's answers on one standard exam.
func (s *Store) MasteryAttemptAnswers(ctx context.Context, studentID, examID string) ([]model.MasteryAttemptAnswer, error) {
	rows, err := s.conn().query(ctx,
		`SELECT q.serial, q.exam_id, q.question_nbr, q.correct
		 FROM mastery_attempt_answers q
		 JOIN mastery_attempts a ON a.serial = q.serial AND a.exam_id = q.exam_id
		 WHERE a.student_id = ? AND q.exam_id = ?
		 ORDER BY q.serial, q.question_nbr`, studentID, examID)
	if err != nil {
		return nil, access("query mastery answers", err)
	}
	defer rows.Close()
	var out []model.MasteryAttemptAnswer
	for rows.Next() {
		var a model.MasteryAttemptAnswer
		var correct string
		if err := rows.Scan(&a.Serial, &a.ExamID, &a.QuestionNbr, &correct); err != nil {
			return nil, access("scan mastery answer", err)
		}
		a.Correct = correct == "Y"
		out = append(out, a)
	}
	return out, access("query mastery answers", rows.Err())
}

// HasMasteryAttempt reports whether the student has an attempt with serial.
func (t *Tx) HasMasteryAttempt(ctx context.Context, studentID string, serial int64) (bool, error) {
	var n int
	err := t.c.queryRow(ctx,
		`SELECT COUNT(*) FROM mastery_attempts WHERE student_id = ? AND serial = ?`, studentID, serial,
	).Scan(&n)
	if err != nil {
		return false, access("query mastery attempt", err)
	}
	return n > 0, nil
}

// InsertMasteryAttempt writes one attempt and its answers. The attempt is
// marked first-passed when it passes and no earlier attempt on the same
// standard did.
func (t *Tx) InsertMasteryAttempt(ctx context.Context, a model.MasteryAttempt, answers []model.MasteryAttemptAnswer) error {
	if a.Passed {
		var earlier int
		err := t.c.queryRow(ctx,
			`SELECT COUNT(*) FROM mastery_attempts WHERE student_id = ? AND exam_id = ? AND passed = 'Y'`,
			a.StudentID, a.ExamID,
		).Scan(&earlier)
		if err != nil {
			return access("query mastery passes", err)
		}
		a.FirstPassed = earlier == 0
	}

	_, err := t.c.exec(ctx,
		`INSERT INTO mastery_attempts (serial, exam_id, student_id, started_ms, finished_ms, score, mastery_score,
		   passed, first_passed, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Serial, a.ExamID, a.StudentID, ms(a.Started), ms(a.Finished), a.Score, a.MasteryScore,
		yn(a.Passed), yn(a.FirstPassed), a.Source)
	if err != nil {
		return access("insert mastery attempt", err)
	}
	for _, q := range answers {
		if q.Serial != a.Serial || q.ExamID != a.ExamID {
			return fmt.Errorf("answer %d belongs to %s/%d, not %s/%d", q.QuestionNbr, q.ExamID, q.Serial, a.ExamID, a.Serial)
		}
		_, err := t.c.exec(ctx,
			`INSERT INTO mastery_attempt_answers (serial, exam_id, question_nbr, correct) VALUES (?, ?, ?, ?)`,
			q.Serial, q.ExamID, q.QuestionNbr, yn(q.Correct))
		if err != nil {
			return access("insert mastery answer", err)
		}
	}
	return nil
}
