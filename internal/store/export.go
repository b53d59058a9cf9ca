package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/examcore/internal/model"
)

// ExportStudent builds an export of every finalized record of a student.
func (s *Store) ExportStudent(ctx context.Context, studentID string) (*model.StudentExport, error) {
	st, err := s.Student(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get student %s: %w", studentID, err)
	}

	exams, err := s.ExamResults(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	placements, err := s.CourseResults(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list placements: %w", err)
	}
	denials, err := s.DeniedResults(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list denials: %w", err)
	}
	mastery, err := s.MasteryAttemptsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list mastery attempts: %w", err)
	}
	holds, err := s.Holds(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}

	return &model.StudentExport{
		StudentID:   st.ID,
		DisplayName: strings.TrimSpace(st.FirstName + " " + st.LastName),
		ExportedAt:  time.Now().UTC(),
		Exams:       exams,
		Placements:  placements,
		Denials:     denials,
		Mastery:     mastery,
		Holds:       holds,
	}, nil
}
