package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/examcore/internal/content"
	"github.com/pavelanni/examcore/internal/finalize"
	appI18n "github.com/pavelanni/examcore/internal/i18n"
	"github.com/pavelanni/examcore/internal/model"
	"github.com/pavelanni/examcore/internal/serial"
	"github.com/pavelanni/examcore/internal/store"
)

const studentID = "888888888"

func unitTemplate() *model.ExamTemplate {
	threshold := 2.0
	problem := func(id int) model.TemplateProblem {
		return model.TemplateProblem{ID: id, Objective: "1.1", Weight: 1,
			Variants: []model.Variant{{Ref: "v", Kind: model.KindChoice, Correct: []int{1}}}}
	}
	return &model.ExamTemplate{
		Ref: "171UE", Course: "M 117", Unit: 1, Type: model.TypeUnit, MasteryScore: &threshold,
		Sections: []model.TemplateSection{{Problems: []model.TemplateProblem{problem(1), problem(2), problem(3)}}},
		Subtests: []model.Subtest{{Name: "score", ProblemIDs: []int{1, 2, 3}}},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.UpsertStudent(context.Background(), model.Student{ID: studentID, FirstName: "Ada"}); err != nil {
		t.Fatalf("UpsertStudent: %v", err)
	}

	clock := func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
	svc := finalize.New(st, content.Static{"171UE": unitTemplate()}, serial.New(serial.WithClock(clock)),
		finalize.WithClock(clock), finalize.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h, err := New(svc, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(NewRouter(h, "en", []string{"http://station.example.edu"}))
	t.Cleanup(srv.Close)
	return srv, st
}

func post(t *testing.T, srv *httptest.Server, path, body, lang string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if lang != "" {
		req.Header.Set("Accept-Language", lang)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestPresentAndFinalize(t *testing.T) {
	srv, st := newTestServer(t)

	resp := post(t, srv, "/api/exams/present", `{"student_id":"888888888","ref":"171UE"}`, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("present: expected 200, got %d", resp.StatusCode)
	}
	var exam model.RealizedExam
	decodeBody(t, resp, &exam)
	if exam.Serial <= 0 || len(exam.Sections) != 1 {
		t.Fatalf("unexpected exam %+v", exam)
	}

	sub, _ := json.Marshal(finalize.Submission{
		StudentID: studentID,
		ExamID:    "171UE",
		Answers:   model.RawAnswerSet{[]any{exam.Serial, nil, nil, nil}, 1, 1, 2},
	})
	resp = post(t, srv, "/api/exams/finalize", string(sub), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d", resp.StatusCode)
	}
	var sum finalize.Summary
	decodeBody(t, resp, &sum)
	if !sum.Passed {
		t.Errorf("expected passed, got %+v", sum)
	}
	if sum.Message != "You passed 171UE. 1 question missed." {
		t.Errorf("unexpected message %q", sum.Message)
	}

	resp = post(t, srv, "/api/exams/finalize", string(sub), "es")
	var again finalize.Summary
	decodeBody(t, resp, &again)
	if !again.Replay || !strings.Contains(again.Message, "ya estaba registrado") {
		t.Errorf("expected Spanish replay summary, got %+v", again)
	}

	results, _ := st.ExamResults(context.Background(), studentID)
	if len(results) != 1 {
		t.Errorf("expected one stored result, got %d", len(results))
	}

	get, err := srv.Client().Get(srv.URL + "/api/students/" + studentID + "/results")
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	defer get.Body.Close()
	var exp model.StudentExport
	decodeBody(t, get, &exp)
	if len(exp.Exams) != 1 || exp.DisplayName != "Ada" {
		t.Errorf("unexpected export %+v", exp)
	}
}

func TestErrorStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"malformed json", "/api/exams/finalize", `{"student_id":`, http.StatusBadRequest},
		{"guest", "/api/exams/finalize", `{"student_id":"GUEST","exam_id":"171UE","serial":5}`, http.StatusForbidden},
		{"unknown exam", "/api/exams/finalize", `{"student_id":"888888888","exam_id":"171UE","serial":5}`, http.StatusNotFound},
		{"unknown template", "/api/exams/present", `{"student_id":"888888888","ref":"nope"}`, http.StatusNotFound},
		{"missing student", "/api/exams/present", `{"ref":"171UE"}`, http.StatusBadRequest},
		{"no standards", "/api/mastery/M%20125/exam", `{"student_id":"888888888"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, tt.path, tt.body, "")
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			var body errorBody
			decodeBody(t, resp, &body)
			if body.Error == "" {
				t.Error("expected an error message")
			}
		})
	}

	resp, err := srv.Client().Get(srv.URL + "/api/students/nobody/results")
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown student, got %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/exams/finalize", nil)
	req.Header.Set("Origin", "http://station.example.edu")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://station.example.edu" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}

func TestMessage(t *testing.T) {
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer("en"))

	tests := []struct {
		name string
		sum  finalize.Summary
		want string
	}{
		{
			"illegal",
			finalize.Summary{ExamID: "MPTTC", DeniedCredit: map[string]model.DenialReason{"M 117": model.DeniedByIllegal}},
			"This attempt exceeds the number of attempts allowed. No placement or credit was granted. Not granted: M 117 (illegal attempt).",
		},
		{
			"placement",
			finalize.Summary{ExamID: "MPTTC", Legal: true, EarnedCredit: []string{"M 117"}, EarnedPlacement: []string{"M 121"}},
			"Your exam MPTTC has been recorded. Credit earned: M 117. Placement earned: M 121.",
		},
		{
			"practice",
			finalize.Summary{ExamID: "171UE", Legal: true, Result: "C"},
			"Practice exam 171UE recorded.",
		},
		{
			"not passed",
			finalize.Summary{ExamID: "171UE", Legal: true, Grades: map[string]bool{"passed": false}, Missed: map[int]string{1: "1.1", 2: "1.2"}},
			"You did not pass 171UE. 2 questions missed.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(ctx, &tt.sum); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}
