package model

import "time"

// StudentExport is the top-level JSON structure for a student's finalized
// results.
type StudentExport struct {
	StudentID   string           `json:"student_id"`
	DisplayName string           `json:"display_name"`
	ExportedAt  time.Time        `json:"exported_at"`
	Exams       []ExamResult     `json:"exams"`
	Placements  []CourseResult   `json:"placements"`
	Denials     []CourseResult   `json:"denials"`
	Mastery     []MasteryAttempt `json:"mastery"`
	Holds       []Hold           `json:"holds"`
}

// ExamResult is one persisted exam attempt.
type ExamResult struct {
	ExamID       string             `json:"exam_id"`
	Course       string             `json:"course"`
	Unit         int                `json:"unit"`
	Type         ExamType           `json:"type"`
	Serial       int64              `json:"serial"`
	Start        time.Time          `json:"start"`
	Finish       time.Time          `json:"finish"`
	Score        float64            `json:"score"`
	Passed       string             `json:"passed"`
	FirstPassed  bool               `json:"first_passed"`
	Legal        bool               `json:"legal"`
	HowValidated string             `json:"how_validated,omitempty"`
	Source       string             `json:"source,omitempty"`
	Subtests     map[string]float64 `json:"subtests"`
	Answers      []AnswerRecord     `json:"answers"`
}

// CourseResult is a placement, credit or denial row.
type CourseResult struct {
	Course string    `json:"course"`
	Kind   string    `json:"kind"`
	Reason string    `json:"reason,omitempty"`
	ExamID string    `json:"exam_id"`
	Serial int64     `json:"serial"`
	Source string    `json:"source,omitempty"`
	At     time.Time `json:"at"`
}
