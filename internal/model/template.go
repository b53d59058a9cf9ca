package model

import (
	"fmt"
	"time"
)

// TemplateProblem is a problem slot with its candidate variants.
type TemplateProblem struct {
	ID        int       `yaml:"id"`
	Name      string    `yaml:"name"`
	Objective string    `yaml:"objective"`
	Weight    float64   `yaml:"weight"`
	Variants  []Variant `yaml:"variants"`
}

// TemplateSection groups template problems.
type TemplateSection struct {
	Name      string            `yaml:"name"`
	ShortName string            `yaml:"short_name"`
	Survey    bool              `yaml:"survey"`
	Problems  []TemplateProblem `yaml:"problems"`
}

// ExamTemplate is an exam definition as authored in the content repository.
type ExamTemplate struct {
	Ref            string            `yaml:"ref"`
	ExamID         string            `yaml:"exam_id"`
	Name           string            `yaml:"name"`
	Course         string            `yaml:"course"`
	Unit           int               `yaml:"unit"`
	Type           ExamType          `yaml:"type"`
	MasteryScore   *float64          `yaml:"mastery_score"`
	AllowedSeconds int64             `yaml:"allowed_seconds"`
	Sections       []TemplateSection `yaml:"sections"`
	Subtests       []Subtest         `yaml:"subtests"`
	Rules          []GradingRule     `yaml:"rules"`
	Outcomes       []Outcome         `yaml:"outcomes"`
}

// Validate checks the structural rules a template must satisfy before it
// can be realized.
func (t *ExamTemplate) Validate() error {
	if t.Ref == "" {
		return fmt.Errorf("template has no ref")
	}
	if err := t.Type.Validate(); err != nil {
		return fmt.Errorf("template %s: %w", t.Ref, err)
	}
	ids := make(map[int]bool)
	for _, s := range t.Sections {
		for _, p := range s.Problems {
			if p.ID <= 0 {
				return fmt.Errorf("template %s: problem %q has id %d, ids start at 1", t.Ref, p.Name, p.ID)
			}
			if ids[p.ID] {
				return fmt.Errorf("template %s: duplicate problem id %d", t.Ref, p.ID)
			}
			ids[p.ID] = true
			if len(p.Variants) == 0 {
				return fmt.Errorf("template %s: problem %d has no variants", t.Ref, p.ID)
			}
		}
	}
	for _, st := range t.Subtests {
		for _, id := range st.ProblemIDs {
			if !ids[id] {
				return fmt.Errorf("template %s: subtest %q names unknown problem %d", t.Ref, st.Name, id)
			}
		}
	}
	return nil
}

// Realize selects one variant per problem and returns the exam instance
// for student. Variant selection depends only on serial.
func (t *ExamTemplate) Realize(studentID string, serial int64, now time.Time, proctored bool) (*RealizedExam, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	pick := serial
	if pick < 0 {
		pick = -pick
	}

	exam := &RealizedExam{
		ExamID:         t.ExamID,
		Ref:            t.Ref,
		Name:           t.Name,
		Course:         t.Course,
		Unit:           t.Unit,
		Type:           t.Type,
		Serial:         serial,
		StudentID:      studentID,
		RealizedAt:     now,
		Proctored:      proctored,
		MasteryScore:   t.MasteryScore,
		AllowedSeconds: t.AllowedSeconds,
		Subtests:       t.Subtests,
		Rules:          t.Rules,
		Outcomes:       t.Outcomes,
	}
	if exam.ExamID == "" {
		exam.ExamID = t.Ref
	}
	for _, ts := range t.Sections {
		s := Section{Name: ts.Name, ShortName: ts.ShortName, Survey: ts.Survey}
		for _, tp := range ts.Problems {
			s.Problems = append(s.Problems, Problem{
				ID:        tp.ID,
				Name:      tp.Name,
				Objective: tp.Objective,
				Weight:    tp.Weight,
				Variant:   tp.Variants[int(pick%int64(len(tp.Variants)))],
			})
		}
		exam.Sections = append(exam.Sections, s)
	}
	return exam, nil
}
