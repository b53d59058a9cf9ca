// Package mastery builds synthesized learning-target mastery exams and
// grades them section by section.
package mastery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/examcore/internal/content"
	"github.com/pavelanni/examcore/internal/model"
)

const (
	ExamRef  = "synthetic"
	ExamName = "Learning Target Mastery"

	// SecondsPerStandard is the time allowed for each eligible standard.
	SecondsPerStandard = 600
	// PassingScore is the number of correct questions needed to master a
	// standard.
	PassingScore = 2

	questionsPerStandard = 2
	bothMastered         = 0x03
)

// ErrNoEligibleStandards is returned when every standard is already
// mastered.
var ErrNoEligibleStandards = errors.New("no eligible standards")

// Standard is an eligible standard exam with the questions already
// answered correctly twice: bit 0x01 for question 1, 0x02 for question 2.
type Standard struct {
	model.MasteryExam
	PassedTwice int
}

// SectionName returns the long and short names of the section covering
// unit and objective.
func SectionName(unit, objective int) (name, short string) {
	short = fmt.Sprintf("Target %d.%d", unit, objective)
	return "Learning " + short, short
}

// ParseShortName extracts unit and objective from a "Target U.O" name.
func ParseShortName(short string) (unit, objective int, err error) {
	rest, ok := strings.CutPrefix(short, "Target ")
	if !ok {
		return 0, 0, fmt.Errorf("section %q is not a learning target", short)
	}
	u, o, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, 0, fmt.Errorf("section %q has no objective", short)
	}
	if unit, err = strconv.Atoi(u); err != nil {
		return 0, 0, fmt.Errorf("section %q: bad unit: %w", short, err)
	}
	if objective, err = strconv.Atoi(o); err != nil {
		return 0, 0, fmt.Errorf("section %q: bad objective: %w", short, err)
	}
	return unit, objective, nil
}

// PassedTwiceMask computes the passed-twice mask from a student's answers
// on one standard exam.
func PassedTwiceMask(answers []model.MasteryAttemptAnswer) int {
	correct := make(map[int]int)
	for _, a := range answers {
		if a.Correct {
			correct[a.QuestionNbr]++
		}
	}
	mask := 0
	for q := 1; q <= questionsPerStandard; q++ {
		if correct[q] >= 2 {
			mask |= 1 << (q - 1)
		}
	}
	return mask
}

// Synthesizer assembles mastery exams from standard exam templates.
type Synthesizer struct {
	repo content.Repository
	log  *slog.Logger
}

// NewSynthesizer returns a Synthesizer resolving templates from repo.
func NewSynthesizer(repo content.Repository, log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{repo: repo, log: log}
}

// Synthesize builds one exam with a section per (unit, objective) of the
// eligible standards. Questions already mastered are replaced by
// auto-correct placeholders; fully mastered standards are left out.
func (s *Synthesizer) Synthesize(ctx context.Context, studentID, course string, eligible []Standard,
	serial int64, now time.Time, proctored bool) (*model.RealizedExam, error) {

	sorted := make([]Standard, len(eligible))
	copy(sorted, eligible)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Unit != sorted[j].Unit {
			return sorted[i].Unit < sorted[j].Unit
		}
		return sorted[i].Objective < sorted[j].Objective
	})

	exam := &model.RealizedExam{
		ExamID:         ExamRef,
		Ref:            ExamRef,
		Name:           ExamName,
		Course:         course,
		Type:           model.TypeMastery,
		Serial:         serial,
		StudentID:      studentID,
		RealizedAt:     now,
		Proctored:      proctored,
		AllowedSeconds: int64(SecondsPerStandard * len(eligible)),
	}

	nextID := 1
	var current *model.Section
	lastUnit, lastObjective := -1, -1
	for _, std := range sorted {
		if std.PassedTwice&bothMastered == bothMastered {
			continue
		}
		questions, err := s.questions(ctx, studentID, std, serial, now)
		if err != nil {
			return nil, err
		}

		if current == nil || std.Unit != lastUnit || std.Objective != lastObjective {
			name, short := SectionName(std.Unit, std.Objective)
			exam.Sections = append(exam.Sections, model.Section{Name: name, ShortName: short})
			current = &exam.Sections[len(exam.Sections)-1]
			lastUnit, lastObjective = std.Unit, std.Objective
		}

		objective := fmt.Sprintf("%d.%d", std.Unit, std.Objective)
		for q := 0; q < questionsPerStandard; q++ {
			p := questions[q]
			p.ID = nextID
			p.Objective = objective
			p.Weight = 1
			if std.PassedTwice&(1<<q) != 0 {
				p.Variant = model.AutoCorrectVariant()
			}
			current.Problems = append(current.Problems, p)
			nextID++
		}
	}

	if len(exam.Sections) == 0 {
		return nil, ErrNoEligibleStandards
	}
	return exam, nil
}

func (s *Synthesizer) questions(ctx context.Context, studentID string, std Standard, serial int64, now time.Time) ([]model.Problem, error) {
	tmpl, err := s.repo.Template(ctx, std.TemplateRef)
	if err != nil {
		return nil, fmt.Errorf("standard %s: %w", std.ExamID, err)
	}
	realized, err := tmpl.Realize(studentID, serial, now, false)
	if err != nil {
		return nil, fmt.Errorf("standard %s: %w", std.ExamID, err)
	}
	var problems []model.Problem
	for _, sec := range realized.Sections {
		problems = append(problems, sec.Problems...)
	}
	if len(problems) < questionsPerStandard {
		return nil, fmt.Errorf("standard %s: template %s has %d questions, need %d",
			std.ExamID, std.TemplateRef, len(problems), questionsPerStandard)
	}
	return problems[:questionsPerStandard], nil
}

// QuestionResult is the graded result of one question in a section.
type QuestionResult struct {
	QuestionNbr int  `json:"question_nbr"`
	Correct     bool `json:"correct"`
}

// SectionResult is the graded result of one learning-target section.
type SectionResult struct {
	Unit      int              `json:"unit"`
	Objective int              `json:"objective"`
	Score     int              `json:"score"`
	Passed    bool             `json:"passed"`
	Questions []QuestionResult `json:"questions"`
}

// Grade scores each section of a synthesized exam. Questions without a
// response are left out; auto-correct placeholders always count as
// correct. Sections whose name cannot be parsed are logged and skipped.
func Grade(exam *model.RealizedExam, raw model.RawAnswerSet, log *slog.Logger) []SectionResult {
	if log == nil {
		log = slog.Default()
	}
	var out []SectionResult
	for _, sec := range exam.Sections {
		unit, objective, err := ParseShortName(sec.ShortName)
		if err != nil {
			log.Warn("skipping mastery section", "serial", exam.Serial, "error", err)
			continue
		}
		res := SectionResult{Unit: unit, Objective: objective}
		for i, p := range sec.Problems {
			response := raw.Response(p.ID)
			if response == nil && p.Variant.Kind != model.KindAutoCorrect {
				log.Warn("mastery question has no answer", "serial", exam.Serial, "section", sec.ShortName, "problem", p.ID)
				continue
			}
			g, err := p.Variant.Grade(response)
			if err != nil {
				log.Warn("malformed mastery answer", "serial", exam.Serial, "problem", p.ID, "error", err)
			}
			res.Questions = append(res.Questions, QuestionResult{QuestionNbr: i + 1, Correct: g.Correct})
			if g.Correct {
				res.Score++
			}
		}
		res.Passed = res.Score >= PassingScore
		out = append(out, res)
	}
	return out
}
