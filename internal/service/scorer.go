package service

import "github.com/pothole-prioritizer/backend/internal/models"

// Severity weights. Critical jumps to 5 so safety hazards outrank any
// accumulation of confirmations on lesser defects.
var severityBase = map[models.Severity]int{
	models.SeverityLow:      1,
	models.SeverityMedium:   2,
	models.SeverityHigh:     3,
	models.SeverityCritical: 5,
}

func SeverityBase(s models.Severity) int {
	if base, ok := severityBase[s]; ok {
		return base
	}
	return 1
}

// PriorityScore combines severity, citizen confirmations, and community votes.
// Each confirmation beyond the first adds one point; net upvotes add on top
// but can never pull the score below the severity+confirmation baseline.
func PriorityScore(severity models.Severity, reportCount, votes int) int {
	if reportCount < 1 {
		reportCount = 1
	}
	baseline := SeverityBase(severity) + (reportCount - 1)
	score := baseline + votes
	if score < baseline {
		score = baseline
	}
	if score < 1 {
		score = 1
	}
	return score
}
