package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelanni/examcore/internal/model"
)

// AdminHold returns the student's hold with the given code, or nil.
func (t *Tx) AdminHold(ctx context.Context, studentID, code string) (*model.Hold, error) {
	return adminHold(ctx, t.c, studentID, code)
}

func adminHold(ctx context.Context, c conn, studentID, code string) (*model.Hold, error) {
	h := model.Hold{StudentID: studentID, Code: code}
	var created int64
	err := c.queryRow(ctx,
		`SELECT severity, times_display, created_ms FROM admin_holds WHERE student_id = ? AND hold_code = ?`,
		studentID, code,
	).Scan(&h.Severity, &h.TimesDisplay, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, access("query hold", err)
	}
	h.CreatedAt = fromMS(created)
	return &h, nil
}

// InsertHold adds a hold.
func (t *Tx) InsertHold(ctx context.Context, h model.Hold) error {
	_, err := t.c.exec(ctx,
		`INSERT INTO admin_holds (student_id, hold_code, severity, times_display, created_ms) VALUES (?, ?, ?, ?, ?)`,
		h.StudentID, h.Code, h.Severity, h.TimesDisplay, ms(h.CreatedAt))
	return access("insert hold", err)
}

// RefreshHold moves an existing hold's date to at.
func (t *Tx) RefreshHold(ctx context.Context, studentID, code string, at time.Time) error {
	_, err := t.c.exec(ctx,
		`UPDATE admin_holds SET created_ms = ? WHERE student_id = ? AND hold_code = ?`,
		ms(at), studentID, code)
	return access("refresh hold", err)
}

// SetHoldSeverity records the student's overall hold severity.
func (t *Tx) SetHoldSeverity(ctx context.Context, studentID, severity string) error {
	_, err := t.c.exec(ctx, `UPDATE students SET hold_severity = ? WHERE id = ?`, severity, studentID)
	return access("update hold severity", err)
}

// Holds lists a student's holds.
func (s *Store) Holds(ctx context.Context, studentID string) ([]model.Hold, error) {
	rows, err := s.conn().query(ctx,
		`SELECT hold_code, severity, times_display, created_ms FROM admin_holds WHERE student_id = ? ORDER BY hold_code`,
		studentID)
	if err != nil {
		return nil, access("query holds", err)
	}
	defer rows.Close()
	var holds []model.Hold
	for rows.Next() {
		h := model.Hold{StudentID: studentID}
		var created int64
		if err := rows.Scan(&h.Code, &h.Severity, &h.TimesDisplay, &created); err != nil {
			return nil, access("scan hold", err)
		}
		h.CreatedAt = fromMS(created)
		holds = append(holds, h)
	}
	return holds, access("query holds", rows.Err())
}

// Hold returns one hold outside a transaction, or nil.
func (s *Store) Hold(ctx context.Context, studentID, code string) (*model.Hold, error) {
	return adminHold(ctx, s.conn(), studentID, code)
}
