package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavelanni/examcore/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "Exam Finalization" {
		t.Errorf("T(AppTitle) = %q, want 'Exam Finalization'", got)
	}

	got = T(ctx, "ErrGuest")
	if got != "Guest submissions are not recorded." {
		t.Errorf("T(ErrGuest) = %q", got)
	}
}

func TestTranslateSpanish(t *testing.T) {
	ctx := initLang(t, "es")

	got := Td(ctx, "ExamPassed", map[string]any{"Exam": "171UE"})
	if got != "Aprobó 171UE." {
		t.Errorf("Td(ExamPassed) = %q, want 'Aprobó 171UE.'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "QuestionsMissed", 1)
	if got1 != "1 question missed." {
		t.Errorf("Tp(QuestionsMissed, 1) = %q, want '1 question missed.'", got1)
	}

	got5 := Tp(ctx, "QuestionsMissed", 5)
	if got5 != "5 questions missed." {
		t.Errorf("Tp(QuestionsMissed, 5) = %q, want '5 questions missed.'", got5)
	}
}

func TestReason(t *testing.T) {
	ctx := initLang(t, "en")

	tests := []struct {
		reason model.DenialReason
		want   string
	}{
		{model.DeniedByPrereq, "prerequisite not met"},
		{model.DeniedByValidation, "not validated"},
		{model.DeniedByIllegal, "illegal attempt"},
		{"Z", "Z"},
	}
	for _, tt := range tests {
		if got := Reason(ctx, tt.reason); got != tt.want {
			t.Errorf("Reason(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	initLang(t, "en")

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "DeniedValidation")
	}))

	tests := []struct {
		header string
		want   string
	}{
		{"es-MX,es;q=0.9", "no validado"},
		{"fr", "not validated"},
		{"", "not validated"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Accept-Language", tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != tt.want {
			t.Errorf("Accept-Language %q: got %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestDefaultLanguageWithoutLocalizer(t *testing.T) {
	if err := Init("es"); err != nil {
		t.Fatalf("Init(es): %v", err)
	}
	t.Cleanup(func() { _ = Init("en") })

	if got := Reason(context.Background(), model.DeniedByValidation); got != "no validado" {
		t.Errorf("Reason without localizer = %q, want 'no validado'", got)
	}
}
