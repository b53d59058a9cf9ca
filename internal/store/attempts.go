package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/pavelanni/examcore/internal/model"
)

// Placement and credit row kinds.
const (
	KindPlacement = "P"
	KindCredit    = "C"
)

// AttemptsByType lists a student's persisted attempts of one exam type.
func (s *Store) AttemptsByType(ctx context.Context, studentID string, typ model.ExamType) ([]model.Attempt, error) {
	rows, err := s.conn().query(ctx,
		`SELECT exam_id, serial, start_ms, proctored, legal FROM student_exams
		 WHERE student_id = ? AND exam_type = ? ORDER BY start_ms, serial`,
		studentID, string(typ))
	if err != nil {
		return nil, access("query attempts", err)
	}
	defer rows.Close()

	var out []model.Attempt
	for rows.Next() {
		a := model.Attempt{StudentID: studentID}
		var start int64
		var proctored, legal string
		if err := rows.Scan(&a.ExamID, &a.Serial, &start, &proctored, &legal); err != nil {
			return nil, access("scan attempt", err)
		}
		a.Start = fromMS(start)
		a.Proctored = proctored == "Y"
		a.Legal = legal == "Y"
		out = append(out, a)
	}
	return out, access("query attempts", rows.Err())
}

// FindAttempt returns the persisted attempt with the given key, or
// ErrNotFound.
func (s *Store) FindAttempt(ctx context.Context, studentID, examID string, serial int64) (*model.Attempt, error) {
	a := model.Attempt{StudentID: studentID, ExamID: examID, Serial: serial}
	var start int64
	var proctored, legal string
	err := s.conn().queryRow(ctx,
		`SELECT start_ms, proctored, legal FROM student_exams WHERE student_id = ? AND exam_id = ? AND serial = ?`,
		studentID, examID, serial,
	).Scan(&start, &proctored, &legal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, access("query attempt", err)
	}
	a.Start = fromMS(start)
	a.Proctored = proctored == "Y"
	a.Legal = legal == "Y"
	return &a, nil
}

// HasAttempt reports whether the attempt is already recorded.
func (t *Tx) HasAttempt(ctx context.Context, studentID, examID string, serial int64) (bool, error) {
	var n int
	err := t.c.queryRow(ctx,
		`SELECT COUNT(*) FROM student_exams WHERE student_id = ? AND exam_id = ? AND serial = ?`,
		studentID, examID, serial,
	).Scan(&n)
	if err != nil {
		return false, access("query attempt", err)
	}
	return n > 0, nil
}

// InsertResult writes a finalized record: the attempt row, one row per
// answer, and for placement, challenge and tutorial exams the placement,
// credit and denial rows. Course exams get their first-passed flag
// recomputed.
func (t *Tx) InsertResult(ctx context.Context, rec *model.StudentExamRecord) error {
	subtests, err := json.Marshal(rec.SubtestScores)
	if err != nil {
		return fmt.Errorf("encode subtests: %w", err)
	}
	grades, err := json.Marshal(rec.Grades)
	if err != nil {
		return fmt.Errorf("encode grades: %w", err)
	}

	_, err = t.c.exec(ctx,
		`INSERT INTO student_exams (student_id, exam_id, serial, course, unit, exam_type, start_ms, finish_ms,
		   presented_ms, score, mastery_score, passed, legal, proctored, how_validated, source, subtests_json, grades_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StudentID, rec.ExamID, rec.Serial, rec.Course, rec.Unit, string(rec.Type), ms(rec.Start), ms(rec.Finish),
		ms(rec.Presented), rec.Score, rec.MasteryScore, rec.Result, yn(rec.Legal), yn(rec.Proctored), rec.ValidationMethod, rec.Source,
		string(subtests), string(grades),
	)
	if err != nil {
		return access("insert exam", err)
	}

	for _, a := range rec.Answers {
		_, err := t.c.exec(ctx,
			`INSERT INTO exam_answers (student_id, exam_id, serial, problem_id, subtest, objective, ref, answer, correct, weight)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.StudentID, rec.ExamID, rec.Serial, a.ProblemID, a.Subtest, a.Objective, a.Ref, a.Answer, yn(a.Correct), a.Weight,
		)
		if err != nil {
			return access("insert answer", err)
		}
	}

	switch cat := rec.Type.Category(); {
	case cat.RecordsOutcomes():
		if err := t.insertOutcomes(ctx, rec); err != nil {
			return err
		}
	case cat == model.CategoryCourse:
		if err := t.recomputeFirstPassed(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) insertOutcomes(ctx context.Context, rec *model.StudentExamRecord) error {
	at := ms(rec.Finish)
	award := func(course, kind string) error {
		_, err := t.c.exec(ctx,
			`INSERT INTO placement_results (student_id, course, kind, exam_id, serial, how_validated, source, awarded_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.StudentID, course, kind, rec.ExamID, rec.Serial, rec.ValidationMethod, rec.Source, at)
		return access("insert placement result", err)
	}
	denyRow := func(course, kind string, reason model.DenialReason) error {
		_, err := t.c.exec(ctx,
			`INSERT INTO denied_results (student_id, course, kind, reason, exam_id, serial, source, denied_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.StudentID, course, kind, string(reason), rec.ExamID, rec.Serial, rec.Source, at)
		return access("insert denied result", err)
	}

	for _, course := range rec.EarnedPlacement.Sorted() {
		if rec.EarnedCredit.Has(course) {
			continue
		}
		if err := award(course, KindPlacement); err != nil {
			return err
		}
	}
	for _, course := range rec.EarnedCredit.Sorted() {
		if err := award(course, KindCredit); err != nil {
			return err
		}
	}
	for _, course := range sortedKeys(rec.DeniedCredit) {
		if err := denyRow(course, KindCredit, rec.DeniedCredit[course]); err != nil {
			return err
		}
	}
	for _, course := range sortedKeys(rec.DeniedPlacement) {
		if err := denyRow(course, KindPlacement, rec.DeniedPlacement[course]); err != nil {
			return err
		}
	}
	return nil
}

// recomputeFirstPassed marks the earliest passing attempt for the
// student, course, unit and exam type.
func (t *Tx) recomputeFirstPassed(ctx context.Context, rec *model.StudentExamRecord) error {
	_, err := t.c.exec(ctx,
		`UPDATE student_exams SET is_first_passed = 'N'
		 WHERE student_id = ? AND course = ? AND unit = ? AND exam_type = ?`,
		rec.StudentID, rec.Course, rec.Unit, string(rec.Type))
	if err != nil {
		return access("reset first passed", err)
	}

	var examID string
	var serial int64
	err = t.c.queryRow(ctx,
		`SELECT exam_id, serial FROM student_exams
		 WHERE student_id = ? AND course = ? AND unit = ? AND exam_type = ? AND passed = 'Y'
		 ORDER BY finish_ms, serial LIMIT 1`,
		rec.StudentID, rec.Course, rec.Unit, string(rec.Type),
	).Scan(&examID, &serial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return access("query first passed", err)
	}
	_, err = t.c.exec(ctx,
		`UPDATE student_exams SET is_first_passed = 'Y' WHERE student_id = ? AND exam_id = ? AND serial = ?`,
		rec.StudentID, examID, serial)
	return access("set first passed", err)
}

// ExamResults lists a student's persisted exam attempts with answers.
func (s *Store) ExamResults(ctx context.Context, studentID string) ([]model.ExamResult, error) {
	rows, err := s.conn().query(ctx,
		`SELECT exam_id, course, unit, exam_type, serial, start_ms, finish_ms, score, passed, is_first_passed,
		   legal, how_validated, source, subtests_json
		 FROM student_exams WHERE student_id = ? ORDER BY finish_ms, serial`, studentID)
	if err != nil {
		return nil, access("query exams", err)
	}
	defer rows.Close()

	var out []model.ExamResult
	for rows.Next() {
		var r model.ExamResult
		var typ, first, legal, subtests string
		var start, finish int64
		if err := rows.Scan(&r.ExamID, &r.Course, &r.Unit, &typ, &r.Serial, &start, &finish, &r.Score, &r.Passed,
			&first, &legal, &r.HowValidated, &r.Source, &subtests); err != nil {
			return nil, access("scan exam", err)
		}
		r.Type = model.ExamType(typ)
		r.Start, r.Finish = fromMS(start), fromMS(finish)
		r.FirstPassed = first == "Y"
		r.Legal = legal == "Y"
		if err := json.Unmarshal([]byte(subtests), &r.Subtests); err != nil {
			return nil, fmt.Errorf("decode subtests of %s/%d: %w", r.ExamID, r.Serial, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, access("query exams", err)
	}
	rows.Close()

	for i := range out {
		answers, err := s.examAnswers(ctx, studentID, out[i].ExamID, out[i].Serial)
		if err != nil {
			return nil, err
		}
		out[i].Answers = answers
	}
	return out, nil
}

func (s *Store) examAnswers(ctx context.Context, studentID, examID string, serial int64) ([]model.AnswerRecord, error) {
	rows, err := s.conn().query(ctx,
		`SELECT problem_id, subtest, objective, ref, answer, correct, weight FROM exam_answers
		 WHERE student_id = ? AND exam_id = ? AND serial = ? ORDER BY problem_id`,
		studentID, examID, serial)
	if err != nil {
		return nil, access("query answers", err)
	}
	defer rows.Close()
	var out []model.AnswerRecord
	for rows.Next() {
		var a model.AnswerRecord
		var correct string
		if err := rows.Scan(&a.ProblemID, &a.Subtest, &a.Objective, &a.Ref, &a.Answer, &correct, &a.Weight); err != nil {
			return nil, access("scan answer", err)
		}
		a.Correct = correct == "Y"
		out = append(out, a)
	}
	return out, access("query answers", rows.Err())
}

// CourseResults lists a student's placement and credit rows.
func (s *Store) CourseResults(ctx context.Context, studentID string) ([]model.CourseResult, error) {
	return s.courseRows(ctx,
		`SELECT course, kind, '', exam_id, serial, source, awarded_ms FROM placement_results
		 WHERE student_id = ? ORDER BY awarded_ms, course, kind`, studentID)
}

// DeniedResults lists a student's denial rows.
func (s *Store) DeniedResults(ctx context.Context, studentID string) ([]model.CourseResult, error) {
	return s.courseRows(ctx,
		`SELECT course, kind, reason, exam_id, serial, source, denied_ms FROM denied_results
		 WHERE student_id = ? ORDER BY denied_ms, course, kind`, studentID)
}

func (s *Store) courseRows(ctx context.Context, query, studentID string) ([]model.CourseResult, error) {
	rows, err := s.conn().query(ctx, query, studentID)
	if err != nil {
		return nil, access("query course results", err)
	}
	defer rows.Close()
	var out []model.CourseResult
	for rows.Next() {
		var r model.CourseResult
		var at int64
		if err := rows.Scan(&r.Course, &r.Kind, &r.Reason, &r.ExamID, &r.Serial, &r.Source, &at); err != nil {
			return nil, access("scan course result", err)
		}
		r.At = fromMS(at)
		out = append(out, r)
	}
	return out, access("query course results", rows.Err())
}

func sortedKeys(m map[string]model.DenialReason) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
