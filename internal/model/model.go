package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pavelanni/examcore/internal/formula"
)

// ExamType identifies the kind of exam and selects how its results are
// recorded.
type ExamType string

const (
	TypePlacement  ExamType = "PL"
	TypeChallenge  ExamType = "CH"
	TypeTutorial   ExamType = "TU"
	TypeUnit       ExamType = "U"
	TypeReview     ExamType = "R"
	TypeFinal      ExamType = "F"
	TypeQualifying ExamType = "Q"
	TypeUsers      ExamType = "UE"
	TypeMastery    ExamType = "MA"
)

// Category groups exam types that share persistence and legality rules.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryPlacement
	CategoryChallenge
	CategoryTutorial
	CategoryCourse
	CategoryUsers
	CategoryMastery
)

// Category returns the persistence category of t.
func (t ExamType) Category() Category {
	switch t {
	case TypePlacement:
		return CategoryPlacement
	case TypeChallenge:
		return CategoryChallenge
	case TypeTutorial:
		return CategoryTutorial
	case TypeUnit, TypeReview, TypeFinal, TypeQualifying:
		return CategoryCourse
	case TypeUsers:
		return CategoryUsers
	case TypeMastery:
		return CategoryMastery
	}
	return CategoryUnknown
}

// Validate reports an error for unknown exam types.
func (t ExamType) Validate() error {
	if t.Category() == CategoryUnknown {
		return fmt.Errorf("unknown exam type %q", t)
	}
	return nil
}

// RecordsOutcomes reports whether placement/credit rows are written for c.
func (c Category) RecordsOutcomes() bool {
	return c == CategoryPlacement || c == CategoryChallenge || c == CategoryTutorial
}

// DenialReason explains why an outcome was not granted.
type DenialReason string

const (
	DeniedByPrereq     DenialReason = "P"
	DeniedByValidation DenialReason = "V"
	DeniedByIllegal    DenialReason = "I"
)

// ValidationUnvalidated marks an award kept even though no validation
// passed.
const ValidationUnvalidated = "U"

// ValidationProctored marks a placement taken under proctoring.
const ValidationProctored = "P"

// Section is an ordered group of problems.
type Section struct {
	Name      string    `json:"name" yaml:"name"`
	ShortName string    `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	Survey    bool      `json:"survey,omitempty" yaml:"survey,omitempty"`
	Problems  []Problem `json:"problems" yaml:"problems"`
}

// Problem is one realized problem: a template slot with its chosen variant.
type Problem struct {
	ID        int     `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Objective string  `json:"objective,omitempty" yaml:"objective,omitempty"`
	Weight    float64 `json:"weight" yaml:"weight"`
	Variant   Variant `json:"variant" yaml:"variant"`
}

// Subtest is a named group of problems scored together.
type Subtest struct {
	Name       string `json:"name" yaml:"name"`
	ProblemIDs []int  `json:"problems" yaml:"problems"`
}

// RuleKind distinguishes rules that decide passing from informational
// grades.
type RuleKind string

const (
	RulePassFail RuleKind = "pass_fail"
	RuleGrade    RuleKind = "grade"
)

// GradingRule sets the grade Name to true when any condition holds.
type GradingRule struct {
	Name       string         `json:"name" yaml:"name"`
	Kind       RuleKind       `json:"kind" yaml:"kind"`
	Conditions []formula.Expr `json:"conditions" yaml:"conditions"`
}

// ActionKind is what an outcome grants.
type ActionKind string

const (
	ActionPlacement ActionKind = "placement"
	ActionCredit    ActionKind = "credit"
	ActionLicense   ActionKind = "license"
)

// Action grants placement or credit in Course, or a license.
type Action struct {
	Kind   ActionKind `json:"kind" yaml:"kind"`
	Course string     `json:"course,omitempty" yaml:"course,omitempty"`
}

// Validation is a check that, when true, validates an outcome using
// method How.
type Validation struct {
	How  string       `json:"how" yaml:"how"`
	When formula.Expr `json:"when" yaml:"when"`
}

// Outcome is a conditional grant attached to an exam.
type Outcome struct {
	Name          string         `json:"name" yaml:"name"`
	Condition     formula.Expr   `json:"condition" yaml:"condition"`
	Prerequisites []formula.Expr `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Validations   []Validation   `json:"validations,omitempty" yaml:"validations,omitempty"`
	Actions       []Action       `json:"actions" yaml:"actions"`
	LogDenial     bool           `json:"log_denial,omitempty" yaml:"log_denial,omitempty"`
}

// RealizedExam is an exam instance presented to one student.
type RealizedExam struct {
	ExamID         string        `json:"exam_id"`
	Ref            string        `json:"ref"`
	Name           string        `json:"name"`
	Course         string        `json:"course"`
	Unit           int           `json:"unit"`
	Type           ExamType      `json:"type"`
	Serial         int64         `json:"serial"`
	StudentID      string        `json:"student_id"`
	RealizedAt     time.Time     `json:"realized_at"`
	Proctored      bool          `json:"proctored"`
	MasteryScore   *float64      `json:"mastery_score,omitempty"`
	AllowedSeconds int64         `json:"allowed_seconds"`
	Sections       []Section     `json:"sections"`
	Subtests       []Subtest     `json:"subtests,omitempty"`
	Rules          []GradingRule `json:"rules,omitempty"`
	Outcomes       []Outcome     `json:"outcomes,omitempty"`
}

// Practice reports whether the exam was realized with a practice serial.
func (e *RealizedExam) Practice() bool { return e.Serial < 0 }

// HasSubtest reports whether the exam defines a subtest named name.
func (e *RealizedExam) HasSubtest(name string) bool {
	for _, s := range e.Subtests {
		if s.Name == name {
			return true
		}
	}
	return false
}

// StudentExamRecord is the finalized, persistable result of one attempt.
type StudentExamRecord struct {
	StudentID        string                  `json:"student_id"`
	ExamID           string                  `json:"exam_id"`
	Course           string                  `json:"course"`
	Unit             int                     `json:"unit"`
	Type             ExamType                `json:"type"`
	Serial           int64                   `json:"serial"`
	Start            time.Time               `json:"start"`
	Finish           time.Time               `json:"finish"`
	Presented        time.Time               `json:"presented"`
	Proctored        bool                    `json:"proctored"`
	Source           string                  `json:"source,omitempty"`
	Score            float64                 `json:"score"`
	MasteryScore     *float64                `json:"mastery_score,omitempty"`
	Passed           bool                    `json:"passed"`
	Result           string                  `json:"result"`
	Legal            bool                    `json:"legal"`
	SubtestScores    map[string]float64      `json:"subtest_scores"`
	Grades           map[string]bool         `json:"grades"`
	Missed           map[int]string          `json:"missed"`
	Answers          []AnswerRecord          `json:"answers"`
	Surveys          []SurveyAnswer          `json:"surveys,omitempty"`
	EarnedPlacement  CourseSet               `json:"earned_placement"`
	EarnedCredit     CourseSet               `json:"earned_credit"`
	DeniedPlacement  map[string]DenialReason `json:"denied_placement"`
	DeniedCredit     map[string]DenialReason `json:"denied_credit"`
	ValidationMethod string                  `json:"validation_method,omitempty"`
	GrantLicense     bool                    `json:"grant_license,omitempty"`
}

// AnswerRecord is the graded answer to one problem.
type AnswerRecord struct {
	ProblemID int     `json:"problem_id"`
	Subtest   string  `json:"subtest,omitempty"`
	Ref       string  `json:"ref"`
	Objective string  `json:"objective,omitempty"`
	Answer    string  `json:"answer"`
	Correct   bool    `json:"correct"`
	Weight    float64 `json:"weight"`
}

// SurveyAnswer is a response to a survey problem.
type SurveyAnswer struct {
	ProblemID int    `json:"problem_id"`
	Answer    string `json:"answer"`
}

// CourseSet is a set of course identifiers.
type CourseSet map[string]struct{}

// Add inserts course.
func (s CourseSet) Add(course string) { s[course] = struct{}{} }

// Has reports whether course is in s.
func (s CourseSet) Has(course string) bool {
	_, ok := s[course]
	return ok
}

// Sorted returns the members of s in lexical order.
func (s CourseSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Attempt is a persisted exam attempt, as seen by the legality checks.
type Attempt struct {
	StudentID string    `json:"student_id"`
	ExamID    string    `json:"exam_id"`
	Serial    int64     `json:"serial"`
	Start     time.Time `json:"start"`
	Proctored bool      `json:"proctored"`
	Legal     bool      `json:"legal"`
}

// Student is the profile data the finalizer needs.
type Student struct {
	ID           string `json:"id" yaml:"id"`
	FirstName    string `json:"first_name" yaml:"first_name"`
	LastName     string `json:"last_name" yaml:"last_name"`
	ACTMath      int    `json:"act_math" yaml:"act_math"`
	SATMath      int    `json:"sat_math" yaml:"sat_math"`
	Licensed     bool   `json:"licensed" yaml:"licensed"`
	HoldSeverity string `json:"hold_severity,omitempty" yaml:"hold_severity,omitempty"`
}

// SurveyResponse is a stored answer to a profile survey question.
type SurveyResponse struct {
	Question int    `json:"question"`
	Answer   string `json:"answer"`
}

// Hold is an administrative hold on a student account.
type Hold struct {
	StudentID    string    `json:"student_id"`
	Code         string    `json:"code"`
	Severity     string    `json:"severity"`
	TimesDisplay int       `json:"times_display"`
	CreatedAt    time.Time `json:"created_at"`
}

// MasteryExam is an active standard exam covering one learning target.
type MasteryExam struct {
	ExamID      string `json:"exam_id" yaml:"exam_id"`
	Course      string `json:"course" yaml:"course"`
	Unit        int    `json:"unit" yaml:"unit"`
	Objective   int    `json:"objective" yaml:"objective"`
	TemplateRef string `json:"template_ref" yaml:"template_ref"`
	Active      bool   `json:"active" yaml:"active"`
}

// MasteryAttempt is one attempt on one standard.
type MasteryAttempt struct {
	Serial       int64     `json:"serial"`
	ExamID       string    `json:"exam_id"`
	StudentID    string    `json:"student_id"`
	Started      time.Time `json:"started"`
	Finished     time.Time `json:"finished"`
	Score        int       `json:"score"`
	MasteryScore int       `json:"mastery_score"`
	Passed       bool      `json:"passed"`
	FirstPassed  bool      `json:"first_passed"`
	Source       string    `json:"source,omitempty"`
}

// MasteryAttemptAnswer is the result of one question of a MasteryAttempt.
type MasteryAttemptAnswer struct {
	Serial      int64  `json:"serial"`
	ExamID      string `json:"exam_id"`
	QuestionNbr int    `json:"question_nbr"`
	Correct     bool   `json:"correct"`
}

func (s CourseSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *CourseSet) UnmarshalJSON(data []byte) error {
	var courses []string
	if err := json.Unmarshal(data, &courses); err != nil {
		return err
	}
	*s = make(CourseSet, len(courses))
	for _, c := range courses {
		s.Add(c)
	}
	return nil
}
