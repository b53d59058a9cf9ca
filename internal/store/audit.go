package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Finalization log kinds.
const (
	LogFinalized = "finalized"
	LogReplay    = "replay"
	LogIllegal   = "illegal"
	LogMastery   = "mastery"
)

// LogEntry is one row of the finalization audit log.
type LogEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	StudentID string    `json:"student_id"`
	ExamID    string    `json:"exam_id"`
	Serial    int64     `json:"serial"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendLog adds an entry to the finalization log and returns its id.
func (t *Tx) AppendLog(ctx context.Context, e LogEntry) (string, error) {
	return appendLog(ctx, t.c, e)
}

// AppendLog adds an entry outside a finalization transaction, for events
// such as replays that write nothing else.
func (s *Store) AppendLog(ctx context.Context, e LogEntry) (string, error) {
	return appendLog(ctx, s.conn(), e)
}

func appendLog(ctx context.Context, c conn, e LogEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := c.exec(ctx,
		`INSERT INTO finalize_log (id, kind, student_id, exam_id, serial, detail, created_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.StudentID, e.ExamID, e.Serial, e.Detail, ms(e.CreatedAt))
	if err != nil {
		return "", access("append log", err)
	}
	return e.ID, nil
}

// LogEntries lists a student's finalization log, oldest first.
func (s *Store) LogEntries(ctx context.Context, studentID string) ([]LogEntry, error) {
	rows, err := s.conn().query(ctx,
		`SELECT id, kind, student_id, exam_id, serial, detail, created_ms FROM finalize_log
		 WHERE student_id = ? ORDER BY created_ms, id`, studentID)
	if err != nil {
		return nil, access("query log", err)
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.StudentID, &e.ExamID, &e.Serial, &e.Detail, &created); err != nil {
			return nil, access("scan log", err)
		}
		e.CreatedAt = fromMS(created)
		out = append(out, e)
	}
	return out, access("query log", rows.Err())
}
