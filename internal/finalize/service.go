// Package finalize turns submitted answers into persisted exam results.
//
// A Service presents exams (issuing a serial and storing the realized exam
// until it is submitted) and finalizes submissions: it records and scores
// the answers, evaluates the grading rules and outcomes, applies the
// attempt limits, and writes everything in one transaction.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examcore/internal/content"
	"github.com/pavelanni/examcore/internal/grading"
	"github.com/pavelanni/examcore/internal/legality"
	"github.com/pavelanni/examcore/internal/mastery"
	"github.com/pavelanni/examcore/internal/model"
	"github.com/pavelanni/examcore/internal/serial"
	"github.com/pavelanni/examcore/internal/store"
)

var (
	// ErrNoSuchExam is returned when a submission matches no presented exam.
	ErrNoSuchExam = errors.New("no such exam")
	// ErrGuestStudent is returned for accounts whose results are never kept.
	ErrGuestStudent = errors.New("guest submissions are not recorded")
	// ErrInvalidRequest is returned when a request lacks required fields.
	ErrInvalidRequest = errors.New("invalid request")
)

var guestIDs = map[string]bool{"GUEST": true, "AACTUTOR": true}

// IsGuest reports whether studentID is a shared guest account.
func IsGuest(studentID string) bool { return guestIDs[studentID] }

// Service presents and finalizes exams.
type Service struct {
	store    *store.Store
	repo     content.Repository
	serials  *serial.Generator
	checker  *legality.Checker
	rules    *grading.RuleEvaluator
	outcomes *grading.OutcomeDeterminer
	synth    *mastery.Synthesizer
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service persisting to st and resolving templates from repo.
func New(st *store.Store, repo content.Repository, gen *serial.Generator, opts ...Option) *Service {
	s := &Service{
		store:   st,
		repo:    repo,
		serials: gen,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.checker = legality.NewChecker(st, s.log)
	s.rules = grading.NewRuleEvaluator(s.log)
	s.outcomes = grading.NewOutcomeDeterminer(s.log)
	s.synth = mastery.NewSynthesizer(repo, s.log)
	return s
}

// PresentRequest asks for a new exam instance.
type PresentRequest struct {
	StudentID string `json:"student_id"`
	Ref       string `json:"ref"`
	Proctored bool   `json:"proctored"`
	Practice  bool   `json:"practice"`
}

// Present realizes the template req.Ref for the student under a fresh
// serial and keeps it until the submission arrives.
func (s *Service) Present(ctx context.Context, req PresentRequest) (*model.RealizedExam, error) {
	if req.StudentID == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidRequest)
	}
	tmpl, err := s.repo.Template(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", req.Ref, err)
	}
	sn := s.serials.Next(req.Practice)
	exam, err := tmpl.Realize(req.StudentID, sn, s.now().UTC(), req.Proctored)
	if err != nil {
		return nil, fmt.Errorf("realize %s: %w", req.Ref, err)
	}
	if err := s.store.SavePendingExam(ctx, exam); err != nil {
		return nil, fmt.Errorf("save exam %d: %w", sn, err)
	}
	s.log.Info("exam presented", "student", req.StudentID, "exam", exam.ExamID, "serial", sn)
	return exam, nil
}

// MasteryRequest asks for a synthesized mastery exam.
type MasteryRequest struct {
	StudentID string `json:"student_id"`
	Course    string `json:"course"`
	Proctored bool   `json:"proctored"`
}

// PresentMastery synthesizes a mastery exam from the course's active
// standards the student has not passed yet.
func (s *Service) PresentMastery(ctx context.Context, req MasteryRequest) (*model.RealizedExam, error) {
	if req.StudentID == "" || req.Course == "" {
		return nil, fmt.Errorf("%w: student id and course are required", ErrInvalidRequest)
	}
	eligible, err := s.EligibleStandards(ctx, req.StudentID, req.Course)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, mastery.ErrNoEligibleStandards
	}

	sn := s.serials.Next(false)
	exam, err := s.synth.Synthesize(ctx, req.StudentID, req.Course, eligible, sn, s.now().UTC(), req.Proctored)
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", req.Course, err)
	}
	if err := s.store.SavePendingExam(ctx, exam); err != nil {
		return nil, fmt.Errorf("save exam %d: %w", sn, err)
	}
	s.log.Info("mastery exam presented", "student", req.StudentID, "course", req.Course,
		"serial", sn, "sections", len(exam.Sections))
	return exam, nil
}

// EligibleStandards lists the course's active standards the student has
// not passed, each with the mask of questions already answered correctly
// twice.
func (s *Service) EligibleStandards(ctx context.Context, studentID, course string) ([]mastery.Standard, error) {
	active, err := s.store.ActiveMasteryExams(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("list standards: %w", err)
	}
	attempts, err := s.store.MasteryAttemptsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list mastery attempts: %w", err)
	}
	passed := make(map[string]bool)
	for _, a := range attempts {
		if a.Passed {
			passed[a.ExamID] = true
		}
	}

	var out []mastery.Standard
	for _, m := range active {
		if passed[m.ExamID] {
			continue
		}
		answers, err := s.store.MasteryAttemptAnswers(ctx, studentID, m.ExamID)
		if err != nil {
			return nil, fmt.Errorf("list answers of %s: %w", m.ExamID, err)
		}
		out = append(out, mastery.Standard{MasteryExam: m, PassedTwice: mastery.PassedTwiceMask(answers)})
	}
	return out, nil
}
