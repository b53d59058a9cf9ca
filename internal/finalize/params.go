package finalize

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pavelanni/examcore/internal/formula"
	"github.com/pavelanni/examcore/internal/model"
)

// Parameter names available to grading and outcome formulas.
const (
	ParamProctored        = "proctored"
	ParamACTMath          = "student-ACT-math"
	ParamSATMath          = "student-SAT-math"
	ParamHoursPreparing   = "hours-preparing"
	ParamResourcesUsed    = "resources-used-preparing"
	ParamTimeSinceMath    = "time-since-last-math"
	ParamTypicalMathGrade = "typical-math-grade"
	ParamHighestMath      = "highest-math-taken"
)

// Placement survey questions feeding the parameters above. Every question
// from firstCourseQuestion on names a course taken; the highest answer wins.
var surveyParams = []struct {
	question int
	name     string
	fallback int64
}{
	{1, ParamHoursPreparing, 0},
	{2, ParamResourcesUsed, 0},
	{3, ParamTimeSinceMath, 6},
	{4, ParamTypicalMathGrade, 9},
}

const firstCourseQuestion = 5

// demographics seeds the formula parameters from the student profile and
// survey answers.
func demographics(st *model.Student, survey map[int]string, proctored bool, log *slog.Logger) formula.Params {
	p := formula.Params{}
	p.SetBool(ParamProctored, proctored)
	p.SetInt(ParamACTMath, int64(st.ACTMath))
	p.SetInt(ParamSATMath, int64(st.SATMath))

	for _, sp := range surveyParams {
		p.SetInt(sp.name, sp.fallback)
		raw, ok := survey[sp.question]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			log.Warn("unusable survey answer", "question", sp.question, "answer", raw)
			continue
		}
		p.SetInt(sp.name, n)
	}

	var highest int64
	for q, raw := range survey {
		if q < firstCourseQuestion {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			log.Warn("unusable survey answer", "question", q, "answer", raw)
			continue
		}
		highest = max(highest, n)
	}
	p.SetInt(ParamHighestMath, highest)
	return p
}

// mergeSurveys overlays the answers of the current submission on the
// student's stored answers.
func mergeSurveys(stored []model.SurveyResponse, current []model.SurveyAnswer) map[int]string {
	out := make(map[int]string, len(stored)+len(current))
	for _, r := range stored {
		out[r.Question] = r.Answer
	}
	for _, a := range current {
		out[a.ProblemID] = a.Answer
	}
	return out
}
