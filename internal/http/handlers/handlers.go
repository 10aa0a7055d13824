package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pothole-prioritizer/backend/internal/detect"
	"github.com/pothole-prioritizer/backend/internal/geocode"
	"github.com/pothole-prioritizer/backend/internal/http/middleware"
	"github.com/pothole-prioritizer/backend/internal/models"
	"github.com/pothole-prioritizer/backend/internal/service"
)

type Handler struct {
	Store     service.ReportStore
	Intake    *service.IntakeService
	Detector  detect.Adapter
	Geocoder  geocode.Geocoder
	Validator *validator.Validate
	Logger    zerolog.Logger
	Timeout   time.Duration
}

// reqCtx bounds every store-touching operation. A hung connection surfaces
// as STORE_UNAVAILABLE instead of an indefinitely blocked request.
func (h *Handler) reqCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitRequest tolerates the legacy field aliases the frontend sends
// (lat/latitude, lng/lon/longitude). Normalization happens here and nowhere
// else; everything past this boundary uses the canonical shape.
type SubmitRequest struct {
	Latitude     *float64 `json:"latitude"`
	Lat          *float64 `json:"lat"`
	Longitude    *float64 `json:"longitude"`
	Lng          *float64 `json:"lng"`
	Lon          *float64 `json:"lon"`
	Severity     string   `json:"severity" validate:"required"`
	Description  string   `json:"description" validate:"required"`
	ReporterName string   `json:"reporter_name" validate:"required"`
	ImageRef     string   `json:"image_ref"`
	ForceCreate  bool     `json:"force_create"`
}

func (r SubmitRequest) coordinates() (float64, float64, error) {
	lat := firstCoord(r.Latitude, r.Lat)
	lon := firstCoord(r.Longitude, r.Lng, r.Lon)
	if lat == nil || lon == nil {
		return 0, 0, errors.New("latitude and longitude are required")
	}
	return *lat, *lon, nil
}

func firstCoord(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// @Summary Submit a pothole report
// @Description Creates a new report, or returns nearby open reports within 25 m for an explicit caller decision
// @Tags reports
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/reports [post]
func (h *Handler) SubmitReport(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	lat, lon, err := req.coordinates()
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	in := service.SubmitInput{
		Latitude:     lat,
		Longitude:    lon,
		Severity:     models.Severity(strings.ToLower(strings.TrimSpace(req.Severity))),
		Description:  strings.TrimSpace(req.Description),
		ReporterName: strings.TrimSpace(req.ReporterName),
		ImageRef:     req.ImageRef,
		ForceCreate:  req.ForceCreate,
	}
	ctx, cancel := h.reqCtx(c)
	defer cancel()
	h.resolveRegion(ctx, &in)
	h.submit(ctx, c, in)
}

func (h *Handler) submit(ctx context.Context, c *gin.Context, in service.SubmitInput) {
	result, err := h.Intake.Submit(ctx, in)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	middleware.RecordIntakeOutcome(string(result.Outcome))

	switch result.Outcome {
	case service.OutcomeNearbyFound:
		c.JSON(http.StatusOK, gin.H{
			"status":         string(result.Outcome),
			"message":        fmt.Sprintf("Found %d report(s) within %.0f meters", len(result.Candidates), h.Intake.RadiusMeters),
			"nearby_reports": candidateViews(result.Candidates),
			"location":       gin.H{"latitude": in.Latitude, "longitude": in.Longitude},
			"reporter":       in.ReporterName,
		})
	default:
		c.JSON(http.StatusCreated, gin.H{
			"status":  string(result.Outcome),
			"message": "Pothole reported successfully",
			"report":  result.Report,
		})
	}
}

func candidateViews(candidates []service.Candidate) []gin.H {
	out := make([]gin.H, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, gin.H{
			"id":               cand.Report.ID,
			"reference_number": cand.Report.ReferenceNumber,
			"distance_meters":  math.Round(cand.DistanceMeters*10) / 10,
			"severity":         cand.Report.Severity,
			"status":           cand.Report.Status,
			"description":      cand.Report.Description,
			"priority_score":   cand.Report.PriorityScore,
			"report_count":     cand.Report.ReportCount,
			"reported_at":      cand.Report.CreatedAt,
		})
	}
	return out
}

type ConfirmRequest struct {
	ReporterName string `json:"reporter_name" validate:"required"`
}

// @Summary Confirm an existing report
// @Description Merges one citizen confirmation into the report; repeat confirmations inside the cooldown return already_confirmed
// @Tags reports
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} map[string]any
// @Router /api/reports/{id}/confirm [post]
func (h *Handler) ConfirmReport(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()
	result, err := h.Intake.Confirm(ctx, c.Param("id"), strings.TrimSpace(req.ReporterName))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	middleware.RecordIntakeOutcome(string(result.Outcome))

	if result.Outcome == service.OutcomeAlreadyConfirmed {
		c.JSON(http.StatusOK, gin.H{
			"status":   string(result.Outcome),
			"message":  "You already confirmed this pothole",
			"reporter": result.Reporter,
			"report":   result.Report,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  string(result.Outcome),
		"message": "Confirmation recorded",
		"report":  result.Report,
	})
}

type VoteRequest struct {
	Delta *int `json:"delta"`
}

func (h *Handler) VoteReport(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	// Omitted delta means a plain upvote; an explicit 0 is rejected rather
	// than promoted.
	delta := 1
	if req.Delta != nil {
		delta = *req.Delta
	}
	if delta != -1 && delta != 1 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "delta must be -1 or 1", nil)
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()
	report, err := h.Intake.Vote(ctx, c.Param("id"), delta)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "report": report})
}

func (h *Handler) ReportsList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	f := service.ReportFilter{
		Status:   strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Severity: strings.ToLower(strings.TrimSpace(c.Query("severity"))),
		Query:    c.Query("q"),
		Limit:    limit,
		Offset:   offset,
	}
	ctx, cancel := h.reqCtx(c)
	defer cancel()
	items, err := h.Store.ListReports(ctx, f)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) ReportDetails(c *gin.Context) {
	ctx, cancel := h.reqCtx(c)
	defer cancel()
	report, err := h.Store.GetReport(ctx, c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// @Summary Track a report by reference number
// @Tags reports
// @Produce json
// @Param reference path string true "Reference number (PH-YYYY-XXXXXX)"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/track/{reference} [get]
func (h *Handler) TrackReport(c *gin.Context) {
	ctx, cancel := h.reqCtx(c)
	defer cancel()
	report, err := h.Store.GetReportByReference(ctx, c.Param("reference"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "report": report})
}

func (h *Handler) PublicStats(c *gin.Context) {
	ctx, cancel := h.reqCtx(c)
	defer cancel()
	stats, err := h.Store.Stats(ctx)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// @Summary Update report status
// @Description Forward-only workflow: reported -> verified -> in_progress -> fixed. Fixed is terminal.
// @Tags reports
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} map[string]any
// @Router /api/reports/{id}/status [patch]
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	next := models.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if !next.Valid() {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status value", req.Status)
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()
	id := c.Param("id")
	report, err := h.Store.GetReport(ctx, id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if report.Status == models.StatusFixed {
		writeError(c, http.StatusForbidden, "INVALID_STATE", "Fixed reports are immutable", nil)
		return
	}
	if !service.CanTransition(report.Status, next) {
		writeError(c, http.StatusBadRequest, "INVALID_TRANSITION",
			fmt.Sprintf("Cannot transition from %s to %s", report.Status, next), nil)
		return
	}

	ok, err := h.Store.UpdateStatus(ctx, id, report.Status, next)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if !ok {
		writeError(c, http.StatusConflict, "CONFLICT", "Report status changed concurrently, retry", nil)
		return
	}

	updated, err := h.Store.GetReport(ctx, id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.Logger.Info().
		Str("report_id", id).
		Str("from", string(report.Status)).
		Str("to", string(next)).
		Msg("report status updated")
	c.JSON(http.StatusOK, gin.H{"status": "success", "report": updated})
}

type AnalyzeRequest struct {
	ImageRef     string   `json:"image_ref" validate:"required"`
	Latitude     *float64 `json:"latitude"`
	Lat          *float64 `json:"lat"`
	Longitude    *float64 `json:"longitude"`
	Lng          *float64 `json:"lng"`
	Lon          *float64 `json:"lon"`
	ReporterName string   `json:"reporter_name" validate:"required"`
	ForceCreate  bool     `json:"force_create"`
}

// AnalyzeImage runs the external detection model on an already-uploaded image
// and feeds the result through the same intake decision as a manual report.
func (h *Handler) AnalyzeImage(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	lat := firstCoord(req.Latitude, req.Lat)
	lon := firstCoord(req.Longitude, req.Lng, req.Lon)
	if lat == nil || lon == nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "latitude and longitude are required", nil)
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()
	detection, latencyMs, err := h.Detector.AnalyzeImage(ctx, req.ImageRef)
	if err != nil {
		h.Logger.Error().Err(err).Str("image_ref", req.ImageRef).Msg("detection failed")
		writeError(c, http.StatusBadGateway, "DETECTOR_ERROR", "Image analysis failed", err.Error())
		return
	}
	h.Logger.Info().
		Str("image_ref", req.ImageRef).
		Str("severity", string(detection.Severity)).
		Float64("confidence", detection.Confidence).
		Int64("latency_ms", latencyMs).
		Msg("image analyzed")

	in := service.SubmitInput{
		Latitude:     *lat,
		Longitude:    *lon,
		Severity:     detection.Severity,
		Description:  fmt.Sprintf("Auto-detected %s pothole (%.1f%% confidence)", detection.Severity, detection.Confidence*100),
		ReporterName: strings.TrimSpace(req.ReporterName),
		ImageRef:     req.ImageRef,
		ForceCreate:  req.ForceCreate,
	}
	h.resolveRegion(ctx, &in)
	h.submit(ctx, c, in)
}

// resolveRegion fills administrative-area fields best-effort. A geocoder
// outage never blocks intake.
func (h *Handler) resolveRegion(ctx context.Context, in *service.SubmitInput) {
	if h.Geocoder == nil {
		return
	}
	geoCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	region, err := h.Geocoder.Reverse(geoCtx, in.Latitude, in.Longitude)
	if err != nil {
		if !errors.Is(err, geocode.ErrNotFound) {
			h.Logger.Debug().Err(err).Msg("reverse geocode failed")
		}
		return
	}
	in.State = region.State
	in.District = region.District
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Report not found", nil)
	case errors.Is(err, service.ErrReportFixed):
		writeError(c, http.StatusForbidden, "INVALID_STATE", "Fixed reports are immutable", nil)
	case errors.Is(err, service.ErrConflict):
		writeError(c, http.StatusConflict, "CONFLICT", "Concurrent modification, retry", nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Store timed out, submission not lost, retry", nil)
	default:
		h.Logger.Error().Err(err).Msg("store error")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Storage failure", err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
