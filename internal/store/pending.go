package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/pavelanni/examcore/internal/model"
)

// MetaLastSerial is the metadata key holding the largest issued serial.
const MetaLastSerial = "last_serial"

// SavePendingExam stores a realized exam until it is finalized and
// remembers its serial as the latest issued.
func (s *Store) SavePendingExam(ctx context.Context, exam *model.RealizedExam) error {
	data, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("encode exam: %w", err)
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.c.exec(ctx,
			`INSERT INTO pending_exams (serial, student_id, exam_id, realized_ms, exam_json) VALUES (?, ?, ?, ?, ?)`,
			exam.Serial, exam.StudentID, exam.ExamID, ms(exam.RealizedAt), string(data))
		if err != nil {
			return access("insert pending exam", err)
		}
		abs := exam.Serial
		if abs < 0 {
			abs = -abs
		}
		return setMetadataMax(ctx, tx.c, MetaLastSerial, abs)
	})
}

// PendingExam returns the realized exam for (student, serial), or
// ErrNotFound.
func (s *Store) PendingExam(ctx context.Context, studentID string, serial int64) (*model.RealizedExam, error) {
	var data string
	err := s.conn().queryRow(ctx,
		`SELECT exam_json FROM pending_exams WHERE serial = ? AND student_id = ?`, serial, studentID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, access("query pending exam", err)
	}
	var exam model.RealizedExam
	if err := json.Unmarshal([]byte(data), &exam); err != nil {
		return nil, fmt.Errorf("decode pending exam %d: %w", serial, err)
	}
	return &exam, nil
}

// DeletePendingExam removes the pending exam once it is finalized.
func (t *Tx) DeletePendingExam(ctx context.Context, studentID string, serial int64) error {
	_, err := t.c.exec(ctx, `DELETE FROM pending_exams WHERE serial = ? AND student_id = ?`, serial, studentID)
	return access("delete pending exam", err)
}

// LastSerial returns the largest serial recorded by SavePendingExam, or 0.
func (s *Store) LastSerial(ctx context.Context) (int64, error) {
	v, err := s.GetMetadata(ctx, MetaLastSerial)
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metadata %s: %w", MetaLastSerial, err)
	}
	return n, nil
}
