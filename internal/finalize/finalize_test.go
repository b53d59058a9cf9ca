package finalize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examcore/internal/content"
	"github.com/pavelanni/examcore/internal/formula"
	"github.com/pavelanni/examcore/internal/legality"
	"github.com/pavelanni/examcore/internal/mastery"
	"github.com/pavelanni/examcore/internal/model"
	"github.com/pavelanni/examcore/internal/serial"
	"github.com/pavelanni/examcore/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

const studentID = "888888888"

func choiceProblem(id int, objective string) model.TemplateProblem {
	return model.TemplateProblem{
		ID: id, Name: "q", Objective: objective, Weight: 1,
		Variants: []model.Variant{{Ref: "v", Kind: model.KindChoice, Correct: []int{id}}},
	}
}

func masteryTemplate(ref string) *model.ExamTemplate {
	return &model.ExamTemplate{
		Ref:  ref,
		Type: model.TypeMastery,
		Sections: []model.TemplateSection{{Problems: []model.TemplateProblem{
			{ID: 1, Weight: 1, Variants: []model.Variant{{Ref: ref + ".1", Kind: model.KindChoice, Correct: []int{1}}}},
			{ID: 2, Weight: 1, Variants: []model.Variant{{Ref: ref + ".2", Kind: model.KindChoice, Correct: []int{2}}}},
		}}},
	}
}

func testRepo() content.Static {
	threshold := 3.0
	return content.Static{
		"171UE": {
			Ref: "171UE", Course: "M 117", Unit: 1, Type: model.TypeUnit, MasteryScore: &threshold,
			Sections: []model.TemplateSection{{Name: "Unit 1", Problems: []model.TemplateProblem{
				choiceProblem(1, "1.1"), choiceProblem(2, "1.2"), choiceProblem(3, "1.3"), choiceProblem(4, "1.4"),
			}}},
			Subtests: []model.Subtest{{Name: "score", ProblemIDs: []int{1, 2, 3, 4}}},
		},
		"MPTTC": {
			Ref: "MPTTC", Course: "M 100P", Type: model.TypePlacement,
			Sections: []model.TemplateSection{
				{Name: "Placement", Problems: []model.TemplateProblem{choiceProblem(1, "A"), choiceProblem(2, "B")}},
				{Name: "Profile", Survey: true, Problems: []model.TemplateProblem{
					{ID: 3, Variants: []model.Variant{{Kind: model.KindSurvey}}},
				}},
			},
			Subtests: []model.Subtest{{Name: "score", ProblemIDs: []int{1, 2}}},
			Outcomes: []model.Outcome{{
				Name:      "calculus",
				Condition: formula.MustExpr("score >= 2 && {hours-preparing} >= 0"),
				Validations: []model.Validation{
					{How: "Proctored", When: formula.MustExpr("proctored")},
				},
				Actions: []model.Action{
					{Kind: model.ActionPlacement, Course: "M 117"},
					{Kind: model.ActionCredit, Course: "M 117"},
				},
				LogDenial: true,
			}},
		},
		"LT11": masteryTemplate("LT11"),
		"LT12": masteryTemplate("LT12"),
	}
}

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.UpsertStudent(context.Background(), model.Student{ID: studentID, ACTMath: 28}); err != nil {
		t.Fatalf("UpsertStudent: %v", err)
	}
	clock := func() time.Time { return t0 }
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(st, testRepo(), serial.New(serial.WithClock(clock)), WithClock(clock), WithLogger(log))
	return svc, st
}

func present(t *testing.T, svc *Service, ref string, proctored bool) *model.RealizedExam {
	t.Helper()
	exam, err := svc.Present(context.Background(), PresentRequest{StudentID: studentID, Ref: ref, Proctored: proctored})
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	return exam
}

func answers(serial int64, responses ...any) model.RawAnswerSet {
	raw := model.RawAnswerSet{[]any{float64(serial), nil, nil, nil}}
	return append(raw, responses...)
}

func TestFinalizeUnitExamPasses(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	exam := present(t, svc, "171UE", false)

	sum, err := svc.Finalize(ctx, Submission{
		StudentID: studentID,
		ExamID:    "171UE",
		Answers:   answers(exam.Serial, float64(1), float64(2), float64(3), float64(1)),
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !sum.Passed || sum.Replay || sum.Result != "Y" {
		t.Errorf("expected a passing first finalization, got %+v", sum)
	}
	if sum.SubtestScores["score"] != 3 {
		t.Errorf("expected score 3, got %v", sum.SubtestScores["score"])
	}
	if diff := cmp.Diff(map[int]string{4: "1.4"}, sum.Missed); diff != "" {
		t.Errorf("missed mismatch (-want +got):\n%s", diff)
	}

	results, err := st.ExamResults(ctx, studentID)
	if err != nil {
		t.Fatalf("ExamResults: %v", err)
	}
	if len(results) != 1 || results[0].Passed != "Y" || !results[0].FirstPassed || len(results[0].Answers) != 4 {
		t.Errorf("unexpected persisted results %+v", results)
	}
	if _, err := st.PendingExam(ctx, studentID, exam.Serial); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected pending exam removed, got %v", err)
	}
}

func TestFinalizeReplay(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	tmpl, _ := testRepo().Template(ctx, "171UE")
	exam, err := tmpl.Realize(studentID, 123456789, t0.Add(-time.Hour), false)
	if err != nil {
		t.Fatalf("Realize: %v", err)
	}
	if err := st.SavePendingExam(ctx, exam); err != nil {
		t.Fatalf("SavePendingExam: %v", err)
	}

	sub := Submission{
		StudentID:       studentID,
		ExamID:          "171UE",
		Serial:          123456789,
		RealizationTime: exam.RealizedAt,
		Answers:         answers(123456789, float64(1), float64(2), float64(3), float64(4)),
	}
	first, err := svc.Finalize(ctx, sub)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if first.Replay {
		t.Fatal("first finalization reported as replay")
	}
	second, err := svc.Finalize(ctx, sub)
	if err != nil {
		t.Fatalf("Finalize replay: %v", err)
	}
	if !second.Replay {
		t.Errorf("expected replay, got %+v", second)
	}

	results, _ := st.ExamResults(ctx, studentID)
	if len(results) != 1 {
		t.Errorf("expected one persisted record, got %d", len(results))
	}
	entries, _ := st.LogEntries(ctx, studentID)
	if len(entries) != 2 || entries[1].Kind != store.LogReplay {
		t.Errorf("expected finalized and replay log entries, got %+v", entries)
	}

	sub.RealizationTime = exam.RealizedAt.Add(time.Minute)
	if _, err := svc.Finalize(ctx, sub); !errors.Is(err, ErrNoSuchExam) {
		t.Errorf("expected ErrNoSuchExam for a different realization time, got %v", err)
	}
}

func TestFinalizeConcurrentSubmissions(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	exam := present(t, svc, "171UE", false)
	sub := Submission{StudentID: studentID, ExamID: "171UE", Answers: answers(exam.Serial, float64(1))}

	const workers = 8
	replays := make([]bool, workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			sum, err := svc.Finalize(ctx, sub)
			if err != nil {
				return err
			}
			replays[i] = sum.Replay
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	fresh := 0
	for _, r := range replays {
		if !r {
			fresh++
		}
	}
	if fresh != 1 {
		t.Errorf("expected exactly one non-replay finalization, got %d", fresh)
	}
	results, _ := st.ExamResults(ctx, studentID)
	if len(results) != 1 {
		t.Errorf("expected one persisted record, got %d", len(results))
	}
}

func insertPlacementAttempt(t *testing.T, st *store.Store, serial int64) {
	t.Helper()
	rec := &model.StudentExamRecord{
		StudentID: studentID, ExamID: "MPTTC", Course: "M 100P", Type: model.TypePlacement,
		Serial: serial, Start: t0.Add(-time.Duration(serial) * 24 * time.Hour), Finish: t0,
		Proctored: true, Legal: true, Result: "N",
	}
	err := st.WithTx(context.Background(), func(tx *store.Tx) error { return tx.InsertResult(context.Background(), rec) })
	if err != nil {
		t.Fatalf("InsertResult: %v", err)
	}
}

func TestFinalizePlacement(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	exam := present(t, svc, "MPTTC", true)

	sum, err := svc.Finalize(ctx, Submission{
		StudentID: studentID,
		ExamID:    "MPTTC",
		Proctored: true,
		Answers:   answers(exam.Serial, float64(1), float64(2), "4"),
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if diff := cmp.Diff([]string{"M 117"}, sum.EarnedCredit); diff != "" {
		t.Errorf("earned credit mismatch (-want +got):\n%s", diff)
	}
	if len(sum.EarnedPlacement) != 0 {
		t.Errorf("credit must suppress placement, got %v", sum.EarnedPlacement)
	}

	rows, _ := st.CourseResults(ctx, studentID)
	if len(rows) != 1 || rows[0].Kind != store.KindCredit {
		t.Errorf("expected a single credit row, got %+v", rows)
	}
	results, _ := st.ExamResults(ctx, studentID)
	if len(results) != 1 || results[0].Passed != "Y" || results[0].HowValidated != model.ValidationProctored ||
		results[0].Source != SourceTestingCenter {
		t.Errorf("unexpected placement record %+v", results)
	}
	survey, _ := st.LatestSurveyAnswers(ctx, studentID)
	if diff := cmp.Diff([]model.SurveyResponse{{Question: 3, Answer: "4"}}, survey); diff != "" {
		t.Errorf("survey mismatch (-want +got):\n%s", diff)
	}
}

func TestFinalizeIllegalPlacement(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	insertPlacementAttempt(t, st, 1)
	insertPlacementAttempt(t, st, 2)
	exam := present(t, svc, "MPTTC", true)

	sum, err := svc.Finalize(ctx, Submission{
		StudentID: studentID,
		ExamID:    "MPTTC",
		Proctored: true,
		Answers:   answers(exam.Serial, float64(1), float64(2)),
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if sum.Legal || sum.Result != "3" {
		t.Errorf("expected illegal third attempt, got %+v", sum)
	}
	if len(sum.EarnedCredit) != 0 || len(sum.EarnedPlacement) != 0 {
		t.Errorf("expected nothing earned, got %v %v", sum.EarnedCredit, sum.EarnedPlacement)
	}
	if diff := cmp.Diff(map[string]model.DenialReason{"M 117": model.DeniedByIllegal}, sum.DeniedCredit); diff != "" {
		t.Errorf("denied credit mismatch (-want +got):\n%s", diff)
	}

	hold, err := st.Hold(ctx, studentID, legality.HoldCode)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if hold == nil || hold.Severity != legality.HoldSeverity || !hold.CreatedAt.Equal(t0) {
		t.Errorf("expected hold created at %v, got %+v", t0, hold)
	}
	denials, _ := st.DeniedResults(ctx, studentID)
	if len(denials) != 1 || denials[0].Reason != string(model.DeniedByIllegal) {
		t.Errorf("unexpected denial rows %+v", denials)
	}
	if rows, _ := st.CourseResults(ctx, studentID); len(rows) != 0 {
		t.Errorf("expected no placement rows, got %+v", rows)
	}
}

func TestFinalizeMastery(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	for _, m := range []model.MasteryExam{
		{ExamID: "LT11", Course: "M 125", Unit: 1, Objective: 1, TemplateRef: "LT11", Active: true},
		{ExamID: "LT12", Course: "M 125", Unit: 1, Objective: 2, TemplateRef: "LT12", Active: true},
	} {
		if err := st.UpsertMasteryExam(ctx, m); err != nil {
			t.Fatalf("UpsertMasteryExam: %v", err)
		}
	}
	// Question 1 of LT12 answered correctly twice already.
	for _, sn := range []int64{-1, -2} {
		err := st.WithTx(ctx, func(tx *store.Tx) error {
			return tx.InsertMasteryAttempt(ctx,
				model.MasteryAttempt{Serial: sn, ExamID: "LT12", StudentID: studentID, Score: 1, MasteryScore: 2},
				[]model.MasteryAttemptAnswer{
					{Serial: sn, ExamID: "LT12", QuestionNbr: 1, Correct: true},
					{Serial: sn, ExamID: "LT12", QuestionNbr: 2, Correct: false},
				})
		})
		if err != nil {
			t.Fatalf("InsertMasteryAttempt: %v", err)
		}
	}

	exam, err := svc.PresentMastery(ctx, MasteryRequest{StudentID: studentID, Course: "M 125"})
	if err != nil {
		t.Fatalf("PresentMastery: %v", err)
	}
	if len(exam.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(exam.Sections))
	}
	second := exam.Sections[1].Problems
	if len(second) != 2 || second[0].Variant.Kind != model.KindAutoCorrect || second[1].Variant.Kind != model.KindChoice {
		t.Errorf("expected a placeholder then a live question, got %+v", second)
	}

	sub := Submission{
		StudentID: studentID,
		ExamID:    mastery.ExamRef,
		Answers:   answers(exam.Serial, float64(1), float64(2), nil, float64(2)),
	}
	sum, err := svc.Finalize(ctx, sub)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !sum.Passed || len(sum.Mastery) != 2 {
		t.Errorf("expected both targets passed, got %+v", sum)
	}
	if diff := cmp.Diff(map[string]bool{"Target 1.1": true, "Target 1.2": true}, sum.Grades); diff != "" {
		t.Errorf("grades mismatch (-want +got):\n%s", diff)
	}

	attempts, _ := st.MasteryAttemptsByStudent(ctx, studentID)
	recorded := map[string]bool{}
	for _, a := range attempts {
		if a.Serial == exam.Serial {
			recorded[a.ExamID] = a.FirstPassed
		}
	}
	if diff := cmp.Diff(map[string]bool{"LT11": true, "LT12": true}, recorded); diff != "" {
		t.Errorf("recorded attempts mismatch (-want +got):\n%s", diff)
	}

	again, err := svc.Finalize(ctx, sub)
	if err != nil {
		t.Fatalf("Finalize replay: %v", err)
	}
	if !again.Replay {
		t.Errorf("expected replay, got %+v", again)
	}

	eligible, err := svc.EligibleStandards(ctx, studentID, "M 125")
	if err != nil {
		t.Fatalf("EligibleStandards: %v", err)
	}
	if len(eligible) != 0 {
		t.Errorf("expected no eligible standards after passing both, got %+v", eligible)
	}
	if _, err := svc.PresentMastery(ctx, MasteryRequest{StudentID: studentID, Course: "M 125"}); !errors.Is(err, mastery.ErrNoEligibleStandards) {
		t.Errorf("expected ErrNoEligibleStandards, got %v", err)
	}
}

func TestFinalizeRejects(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sub  Submission
		want error
	}{
		{"guest", Submission{StudentID: "GUEST", ExamID: "171UE", Serial: 1}, ErrGuestStudent},
		{"tutor", Submission{StudentID: "AACTUTOR", ExamID: "171UE", Serial: 1}, ErrGuestStudent},
		{"no serial", Submission{StudentID: studentID, ExamID: "171UE"}, ErrNoSuchExam},
		{"unknown serial", Submission{StudentID: studentID, ExamID: "171UE", Serial: 42}, ErrNoSuchExam},
		{"unknown mastery serial", Submission{StudentID: studentID, ExamID: mastery.ExamRef, Serial: 42}, ErrNoSuchExam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Finalize(ctx, tt.sub); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFinalizePracticeCourseExam(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	exam, err := svc.Present(ctx, PresentRequest{StudentID: studentID, Ref: "171UE", Practice: true})
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	if exam.Serial >= 0 {
		t.Fatalf("expected a negative practice serial, got %d", exam.Serial)
	}
	if _, err := svc.Finalize(ctx, Submission{StudentID: studentID, ExamID: "171UE",
		Answers: answers(exam.Serial, float64(1), float64(2), float64(3), float64(4))}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	results, _ := st.ExamResults(ctx, studentID)
	if len(results) != 1 || results[0].Passed != "C" || results[0].FirstPassed {
		t.Errorf("expected practice record, got %+v", results)
	}
}

func TestPresented(t *testing.T) {
	start := t0.Add(-2 * time.Hour)
	tests := []struct {
		name string
		raw  model.RawAnswerSet
		want time.Time
	}{
		{"duration", model.RawAnswerSet{[]any{float64(1), nil, float64(100), float64(1900)}}, t0.Add(-30 * time.Minute)},
		{"no control", model.RawAnswerSet{}, start},
		{"negative", model.RawAnswerSet{[]any{float64(1), nil, float64(500), float64(100)}}, start},
		{"too long", model.RawAnswerSet{[]any{float64(1), nil, float64(0), float64(maxDurationSeconds)}}, start},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := presented(tt.raw, start, t0); !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDemographics(t *testing.T) {
	st := &model.Student{ID: studentID, ACTMath: 24, SATMath: 610}
	survey := mergeSurveys(
		[]model.SurveyResponse{{Question: 1, Answer: "3"}, {Question: 4, Answer: "x"}, {Question: 5, Answer: "2"}},
		[]model.SurveyAnswer{{ProblemID: 6, Answer: "7"}},
	)
	p := demographics(st, survey, true, slog.New(slog.NewTextHandler(io.Discard, nil)))

	want := formula.Params{
		ParamProctored:        formula.Bool(true),
		ParamACTMath:          formula.Int(24),
		ParamSATMath:          formula.Int(610),
		ParamHoursPreparing:   formula.Int(3),
		ParamResourcesUsed:    formula.Int(0),
		ParamTimeSinceMath:    formula.Int(6),
		ParamTypicalMathGrade: formula.Int(9),
		ParamHighestMath:      formula.Int(7),
	}
	for name, v := range want {
		if p[name] != v {
			t.Errorf("%s: expected %v, got %v", name, v, p[name])
		}
	}
}
