package detect

import (
	"context"

	"github.com/pothole-prioritizer/backend/internal/models"
)

// Adapter wraps the external pothole detection model service. Inference
// itself is out of scope here; this is the client seam only.
type Adapter interface {
	AnalyzeImage(ctx context.Context, imageRef string) (models.Detection, int64, error)
}
