package grading

const (
	// QuestionNotFound replaces the reference answer when a question cannot be resolved.
	QuestionNotFound = "QUESTION_NOT_FOUND"
	// ErrorPlaceholder fills text fields of records whose grading failed.
	ErrorPlaceholder = "ERROR"
	// MaxMark is the highest mark the rubric awards.
	MaxMark = 10
)

// Mark maps a similarity score onto the fixed four-band rubric. Lower bounds are inclusive.
func Mark(score float64) int {
	switch {
	case score >= 0.80:
		return 10
	case score >= 0.65:
		return 8
	case score >= 0.50:
		return 6
	default:
		return 3
	}
}

// Band names the rubric band of a score.
func Band(score float64) string {
	switch Mark(score) {
	case 10:
		return "excellent"
	case 8:
		return "good"
	case 6:
		return "fair"
	default:
		return "poor"
	}
}
