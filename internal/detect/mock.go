package detect

import (
	"context"
	"time"

	"github.com/pothole-prioritizer/backend/internal/models"
	"github.com/pothole-prioritizer/backend/internal/utils"
)

// MockAdapter is used when no DETECTOR_URL is configured. Results are
// deterministic per image reference so repeated analyses agree.
type MockAdapter struct {
	ModelVersion string
}

func (m MockAdapter) AnalyzeImage(ctx context.Context, imageRef string) (models.Detection, int64, error) {
	start := time.Now()
	h := utils.HashStringToUint64(imageRef)

	severities := []models.Severity{
		models.SeverityLow,
		models.SeverityMedium,
		models.SeverityHigh,
		models.SeverityCritical,
	}
	severity := severities[h%uint64(len(severities))]
	confidence := 0.70 + float64(h%25)/100
	count := 1 + int((h/7)%3)

	detection := models.Detection{
		Severity:     severity,
		Confidence:   confidence,
		PotholeCount: count,
		ModelVersion: m.ModelVersion,
		CreatedAt:    time.Now().UTC(),
	}
	return detection, time.Since(start).Milliseconds(), nil
}
