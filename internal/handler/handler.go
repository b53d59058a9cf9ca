package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examcore/internal/content"
	"github.com/pavelanni/examcore/internal/finalize"
	appI18n "github.com/pavelanni/examcore/internal/i18n"
	"github.com/pavelanni/examcore/internal/mastery"
	"github.com/pavelanni/examcore/internal/model"
	"github.com/pavelanni/examcore/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc   *finalize.Service
	store *store.Store
}

// New creates a new Handler.
func New(svc *finalize.Service, s *store.Store) (*Handler, error) {
	if svc == nil || s == nil {
		return nil, errors.New("handler needs a finalize service and a store")
	}
	return &Handler{svc: svc, store: s}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/exams/present", h.handlePresent)
		r.Post("/exams/finalize", h.handleFinalize)
		r.Post("/mastery/{course}/exam", h.handleMasteryExam)
		r.Get("/students/{id}/results", h.handleResults)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePresent(w http.ResponseWriter, r *http.Request) {
	var req finalize.PresentRequest
	if !decode(w, r, &req) {
		return
	}
	exam, err := h.svc.Present(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var sub finalize.Submission
	if !decode(w, r, &sub) {
		return
	}
	sum, err := h.svc.Finalize(r.Context(), sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum.Message = Message(r.Context(), sum)
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleMasteryExam(w http.ResponseWriter, r *http.Request) {
	var req finalize.MasteryRequest
	if !decode(w, r, &req) {
		return
	}
	req.Course = chi.URLParam(r, "course")
	exam, err := h.svc.PresentMastery(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	exp, err := h.store.ExportStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// Message builds the localized text shown to the student for sum.
func Message(ctx context.Context, sum *finalize.Summary) string {
	exam := map[string]any{"Exam": sum.ExamID}
	if sum.Replay {
		return appI18n.Td(ctx, "ExamReplay", exam)
	}
	if len(sum.Mastery) > 0 {
		n := 0
		for _, s := range sum.Mastery {
			if s.Passed {
				n++
			}
		}
		return appI18n.Td(ctx, "ExamRecorded", exam) + " " + appI18n.Tp(ctx, "TargetsMastered", n)
	}

	var parts []string
	_, graded := sum.Grades["passed"]
	switch {
	case !sum.Legal:
		parts = append(parts, appI18n.T(ctx, "IllegalAttempt"))
	case sum.Result == "C":
		parts = append(parts, appI18n.Td(ctx, "PracticeRecorded", exam))
	case !graded:
		parts = append(parts, appI18n.Td(ctx, "ExamRecorded", exam))
	case sum.Passed:
		parts = append(parts, appI18n.Td(ctx, "ExamPassed", exam))
	default:
		parts = append(parts, appI18n.Td(ctx, "ExamNotPassed", exam))
	}
	if len(sum.Missed) > 0 {
		parts = append(parts, appI18n.Tp(ctx, "QuestionsMissed", len(sum.Missed)))
	}
	if len(sum.EarnedCredit) > 0 {
		parts = append(parts, appI18n.Td(ctx, "CreditEarned", map[string]any{"Courses": strings.Join(sum.EarnedCredit, ", ")}))
	}
	if len(sum.EarnedPlacement) > 0 {
		parts = append(parts, appI18n.Td(ctx, "PlacementEarned", map[string]any{"Courses": strings.Join(sum.EarnedPlacement, ", ")}))
	}
	if denied := deniedText(ctx, sum.DeniedCredit, sum.DeniedPlacement); denied != "" {
		parts = append(parts, appI18n.Td(ctx, "NotGranted", map[string]any{"Courses": denied}))
	}
	return strings.Join(parts, " ")
}

func deniedText(ctx context.Context, maps ...map[string]model.DenialReason) string {
	seen := make(map[string]model.DenialReason)
	for _, m := range maps {
		for course, reason := range m {
			if _, ok := seen[course]; !ok {
				seen[course] = reason
			}
		}
	}
	courses := make([]string, 0, len(seen))
	for c := range seen {
		courses = append(courses, c)
	}
	sort.Strings(courses)
	for i, c := range courses {
		courses[i] = fmt.Sprintf("%s (%s)", c, appI18n.Reason(ctx, seen[c]))
	}
	return strings.Join(courses, ", ")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		slog.Warn("bad request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{appI18n.T(r.Context(), "ErrBadRequest")})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, finalize.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{appI18n.T(ctx, "ErrBadRequest")})
	case errors.Is(err, finalize.ErrGuestStudent):
		writeJSON(w, http.StatusForbidden, errorBody{appI18n.T(ctx, "ErrGuest")})
	case errors.Is(err, finalize.ErrNoSuchExam), errors.Is(err, content.ErrTemplateNotFound), errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{appI18n.T(ctx, "ErrNoSuchExam")})
	case errors.Is(err, mastery.ErrNoEligibleStandards):
		writeJSON(w, http.StatusConflict, errorBody{appI18n.T(ctx, "ErrNoStandards")})
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{appI18n.T(ctx, "ErrInternal")})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
