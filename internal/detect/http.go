package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pothole-prioritizer/backend/internal/models"
)

type HTTPAdapter struct {
	BaseURL string
	Client  *http.Client
}

type requestBody struct {
	ImageRef string `json:"image_ref"`
}

type responseBody struct {
	Severity     string  `json:"severity"`
	Confidence   float64 `json:"confidence"`
	PotholeCount int     `json:"pothole_count"`
	ModelVersion string  `json:"model_version"`
}

func (h HTTPAdapter) AnalyzeImage(ctx context.Context, imageRef string) (models.Detection, int64, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 15 * time.Second}
	}

	b, _ := json.Marshal(requestBody{ImageRef: imageRef})
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/detect", bytes.NewBuffer(b))
	if err != nil {
		return models.Detection{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return models.Detection{}, time.Since(start).Milliseconds(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Detection{}, time.Since(start).Milliseconds(), errors.New("detector service error")
	}

	var r responseBody
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return models.Detection{}, time.Since(start).Milliseconds(), err
	}

	detection := models.Detection{
		Severity:     models.Severity(r.Severity),
		Confidence:   r.Confidence,
		PotholeCount: r.PotholeCount,
		ModelVersion: r.ModelVersion,
		CreatedAt:    time.Now().UTC(),
	}
	if !detection.Severity.Valid() {
		return models.Detection{}, time.Since(start).Milliseconds(), errors.New("detector returned unknown severity")
	}
	return detection, time.Since(start).Milliseconds(), nil
}
