package grading

import (
	"github.com/pavelanni/examcore/internal/formula"
	"github.com/pavelanni/examcore/internal/model"
)

// ScoreSubtests sums weight × correctness over each subtest's problems.
// Problems without a recorded answer contribute nothing.
func ScoreSubtests(exam *model.RealizedExam, answers []model.AnswerRecord) map[string]float64 {
	byID := make(map[int]model.AnswerRecord, len(answers))
	for _, a := range answers {
		byID[a.ProblemID] = a
	}
	scores := make(map[string]float64, len(exam.Subtests))
	for _, st := range exam.Subtests {
		var total float64
		for _, id := range st.ProblemIDs {
			if a, ok := byID[id]; ok && a.Correct {
				total += a.Weight
			}
		}
		scores[st.Name] = total
	}
	return scores
}

// PublishScores exposes each subtest score as a numeric parameter.
func PublishScores(params formula.Params, scores map[string]float64) {
	for name, score := range scores {
		params.SetNumber(name, score)
	}
}
