package dialogue

import "github.com/samiam2007/kc-media-leadgen/internal/store"

// CalculateLeadScore is a pure function of the qualification data. The
// same input always yields the same score; all I/O stays with callers.
func CalculateLeadScore(q store.QualificationData) int {
	score := 0

	switch q.Timeline {
	case TimelineImmediate:
		score += 10
	case TimelineQuarter:
		score += 5
	}

	switch {
	case q.PropertiesCount >= 5:
		score += 8
	case q.PropertiesCount >= 2:
		score += 5
	}

	if q.NeedsVideo {
		score += 5
	}
	if q.NeedsPhotos {
		score += 3
	}

	switch q.BudgetRange {
	case BudgetHigh:
		score += 10
	case BudgetMid:
		score += 7
	case "":
		// no budget signal yet
	default:
		score += 3
	}

	if q.DecisionMaker {
		score += 5
	}

	return score
}
