// Package grading turns a raw answer submission into graded answers,
// subtest scores, grades and outcome determinations.
package grading

import (
	"log/slog"

	"github.com/pavelanni/examcore/internal/model"
)

// Recorded is the result of walking an exam's problems against a
// submission.
type Recorded struct {
	Answers []model.AnswerRecord
	Surveys []model.SurveyAnswer
	// Missed maps the ids of unanswered or incorrect problems to their
	// objectives.
	Missed map[int]string
}

// RecordAnswers grades every problem of exam against raw, in section and
// problem order. Malformed responses count as missed and never abort the
// walk.
func RecordAnswers(exam *model.RealizedExam, raw model.RawAnswerSet, log *slog.Logger) Recorded {
	if log == nil {
		log = slog.Default()
	}
	memberOf := subtestIndex(exam)
	rec := Recorded{Missed: make(map[int]string)}

	for _, section := range exam.Sections {
		for _, p := range section.Problems {
			response := raw.Response(p.ID)

			if section.Survey || p.Variant.Kind == model.KindSurvey {
				if response == nil {
					continue
				}
				g, err := p.Variant.Grade(response)
				if err != nil {
					log.Warn("unreadable survey response", "exam", exam.ExamID, "serial", exam.Serial, "problem", p.ID, "error", err)
					continue
				}
				rec.Surveys = append(rec.Surveys, model.SurveyAnswer{ProblemID: p.ID, Answer: g.Answer})
				continue
			}

			g, err := p.Variant.Grade(response)
			if err != nil {
				log.Warn("malformed response recorded as missed",
					"exam", exam.ExamID, "serial", exam.Serial, "problem", p.ID, "error", err)
				g = model.Graded{Answer: model.ChoiceLetters()}
			}
			rec.Answers = append(rec.Answers, model.AnswerRecord{
				ProblemID: p.ID,
				Subtest:   memberOf[p.ID],
				Ref:       p.Variant.Ref,
				Objective: p.Objective,
				Answer:    g.Answer,
				Correct:   g.Correct,
				Weight:    p.Weight,
			})
			if !g.Correct {
				rec.Missed[p.ID] = p.Objective
			}
		}
	}
	return rec
}

// subtestIndex maps each problem id to the first subtest that lists it.
func subtestIndex(exam *model.RealizedExam) map[int]string {
	idx := make(map[int]string)
	for _, st := range exam.Subtests {
		for _, id := range st.ProblemIDs {
			if _, ok := idx[id]; !ok {
				idx[id] = st.Name
			}
		}
	}
	return idx
}
