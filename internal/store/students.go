package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelanni/examcore/internal/model"
)

// UpsertStudent creates or replaces a student profile.
func (s *Store) UpsertStudent(ctx context.Context, st model.Student) error {
	_, err := s.conn().exec(ctx,
		`INSERT INTO students (id, first_name, last_name, act_math, sat_math, licensed, hold_severity)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET first_name = excluded.first_name, last_name = excluded.last_name,
		   act_math = excluded.act_math, sat_math = excluded.sat_math`,
		st.ID, st.FirstName, st.LastName, st.ACTMath, st.SATMath, yn(st.Licensed), st.HoldSeverity,
	)
	return access("upsert student", err)
}

// Student returns the profile of id, or ErrNotFound.
func (s *Store) Student(ctx context.Context, id string) (*model.Student, error) {
	var st model.Student
	var licensed string
	err := s.conn().queryRow(ctx,
		`SELECT id, first_name, last_name, act_math, sat_math, licensed, hold_severity FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.FirstName, &st.LastName, &st.ACTMath, &st.SATMath, &licensed, &st.HoldSeverity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, access("query student", err)
	}
	st.Licensed = licensed == "Y"
	return &st, nil
}

// LatestSurveyAnswers returns the most recent answer to each survey
// question across all of a student's exams.
func (s *Store) LatestSurveyAnswers(ctx context.Context, studentID string) ([]model.SurveyResponse, error) {
	rows, err := s.conn().query(ctx,
		`SELECT question, answer FROM survey_answers WHERE student_id = ? ORDER BY answered_ms, exam_id, question`, studentID)
	if err != nil {
		return nil, access("query survey answers", err)
	}
	defer rows.Close()

	latest := make(map[int]string)
	var order []int
	for rows.Next() {
		var q int
		var a string
		if err := rows.Scan(&q, &a); err != nil {
			return nil, access("scan survey answer", err)
		}
		if _, seen := latest[q]; !seen {
			order = append(order, q)
		}
		latest[q] = a
	}
	if err := rows.Err(); err != nil {
		return nil, access("query survey answers", err)
	}
	out := make([]model.SurveyResponse, 0, len(order))
	for _, q := range order {
		out = append(out, model.SurveyResponse{Question: q, Answer: latest[q]})
	}
	return out, nil
}

// UpsertSurveyAnswers stores survey answers for an exam, inserting new
// answers and replacing changed ones. It returns the number of rows
// written.
func (t *Tx) UpsertSurveyAnswers(ctx context.Context, studentID, examID string, answers []model.SurveyAnswer, at time.Time) (int, error) {
	written := 0
	for _, a := range answers {
		var existing string
		err := t.c.queryRow(ctx,
			`SELECT answer FROM survey_answers WHERE student_id = ? AND exam_id = ? AND question = ?`,
			studentID, examID, a.ProblemID,
		).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = t.c.exec(ctx,
				`INSERT INTO survey_answers (student_id, exam_id, question, answer, answered_ms) VALUES (?, ?, ?, ?, ?)`,
				studentID, examID, a.ProblemID, a.Answer, ms(at))
		case err != nil:
			return written, access("query survey answer", err)
		case existing == a.Answer:
			continue
		default:
			_, err = t.c.exec(ctx,
				`UPDATE survey_answers SET answer = ?, answered_ms = ? WHERE student_id = ? AND exam_id = ? AND question = ?`,
				a.Answer, ms(at), studentID, examID, a.ProblemID)
		}
		if err != nil {
			return written, access("write survey answer", err)
		}
		written++
	}
	return written, nil
}

// SetLicensed marks the student as licensed. It reports whether the flag
// changed.
func (t *Tx) SetLicensed(ctx context.Context, studentID string) (bool, error) {
	res, err := t.c.exec(ctx, `UPDATE students SET licensed = 'Y' WHERE id = ? AND licensed <> 'Y'`, studentID)
	if err != nil {
		return false, access("set licensed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, access("set licensed", err)
	}
	return n > 0, nil
}
