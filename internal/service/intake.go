package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pothole-prioritizer/backend/internal/cooldown"
	"github.com/pothole-prioritizer/backend/internal/models"
)

var (
	// ErrValidation marks terminal input errors the caller has to fix.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when the referenced report does not exist.
	ErrNotFound = errors.New("report not found")
	// ErrReportFixed rejects any mutation of a fixed (terminal) report.
	ErrReportFixed = errors.New("report is fixed")
	// ErrConflict means the optimistic version check failed twice in a row.
	ErrConflict = errors.New("concurrent modification conflict")
)

type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeNearbyFound      Outcome = "nearby_found"
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
)

// ReportUpdate carries the mutable confirmation/vote state of a report. The
// store applies it only when the expected version still matches.
type ReportUpdate struct {
	ReportCount   int
	Reporters     []string
	Votes         int
	PriorityScore int
}

type ReportFilter struct {
	Status   string
	Severity string
	Query    string
	Limit    int
	Offset   int
}

// ReportStore is the persistence surface the intake engine needs. The
// concrete pgx implementation lives in internal/db.
type ReportStore interface {
	Ping(ctx context.Context) error
	FindNearbyCandidates(ctx context.Context, lat, lon, radiusMeters float64) ([]models.Report, error)
	GetReport(ctx context.Context, id string) (models.Report, error)
	GetReportByReference(ctx context.Context, ref string) (models.Report, error)
	// InsertReportChecked inserts the report and, inside the same
	// transaction, re-checks proximity against concurrent inserts. A twin
	// that appeared since the matcher ran is recorded as DuplicateOfHint on
	// the returned report rather than rejected.
	InsertReportChecked(ctx context.Context, r models.Report, radiusMeters float64) (models.Report, error)
	// ApplyReportUpdate persists upd iff the row still carries
	// expectedVersion. It returns false (and no error) when the version
	// moved, so the caller can re-read and retry.
	ApplyReportUpdate(ctx context.Context, id string, expectedVersion int64, upd ReportUpdate) (bool, error)
	ListReports(ctx context.Context, f ReportFilter) ([]models.Report, error)
	UpdateStatus(ctx context.Context, id string, from, to models.Status) (bool, error)
	Stats(ctx context.Context) (models.PublicStats, error)
}

// ErrDuplicateReference is returned by stores when the generated reference
// number collides with an existing one.
var ErrDuplicateReference = errors.New("duplicate reference number")

type SubmitInput struct {
	Latitude     float64
	Longitude    float64
	Severity     models.Severity
	Description  string
	ReporterName string
	ImageRef     string
	State        string
	District     string
	ForceCreate  bool
}

func (in SubmitInput) Validate() error {
	if in.Latitude < -90 || in.Latitude > 90 {
		return fmt.Errorf("%w: latitude must be within [-90, 90]", ErrValidation)
	}
	if in.Longitude < -180 || in.Longitude > 180 {
		return fmt.Errorf("%w: longitude must be within [-180, 180]", ErrValidation)
	}
	if !in.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrValidation, in.Severity)
	}
	if in.ReporterName == "" {
		return fmt.Errorf("%w: reporter_name is required", ErrValidation)
	}
	if in.Description == "" {
		return fmt.Errorf("%w: description is required", ErrValidation)
	}
	return nil
}

type SubmitResult struct {
	Outcome    Outcome
	Report     *models.Report
	Candidates []Candidate
}

type ConfirmResult struct {
	Outcome  Outcome
	Report   models.Report
	Reporter string
}

// IntakeService decides, for each inbound submission, whether it describes a
// new pothole or confirms a known one. Proximity matches are never merged
// silently: the caller gets the candidate set back and must explicitly
// confirm an existing report or force-create a new one.
type IntakeService struct {
	Store        ReportStore
	Cooldown     cooldown.Cooldown
	RadiusMeters float64
	Logger       zerolog.Logger
}

func (s *IntakeService) radius() float64 {
	if s.RadiusMeters > 0 {
		return s.RadiusMeters
	}
	return DefaultMatchRadiusMeters
}

func (s *IntakeService) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if err := in.Validate(); err != nil {
		return SubmitResult{}, err
	}

	if !in.ForceCreate {
		rows, err := s.Store.FindNearbyCandidates(ctx, in.Latitude, in.Longitude, s.radius())
		if err != nil {
			return SubmitResult{}, err
		}
		if candidates := FindNearby(rows, in.Latitude, in.Longitude, s.radius()); len(candidates) > 0 {
			return SubmitResult{Outcome: OutcomeNearbyFound, Candidates: candidates}, nil
		}
	}

	now := time.Now().UTC()
	report := models.Report{
		ID:            uuid.NewString(),
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Severity:      in.Severity,
		Status:        models.StatusReported,
		ReporterName:  in.ReporterName,
		Description:   in.Description,
		ImageRef:      in.ImageRef,
		State:         in.State,
		District:      in.District,
		PriorityScore: PriorityScore(in.Severity, 1, 0),
		ReportCount:   1,
		Reporters:     []string{in.ReporterName},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Reference collisions are rare (36^6 space per year) but the store
	// enforces uniqueness, so regenerate a few times before giving up.
	var stored models.Report
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		report.ReferenceNumber = NewReferenceNumber(now)
		stored, err = s.Store.InsertReportChecked(ctx, report, s.radius())
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateReference) {
			return SubmitResult{}, err
		}
	}
	if err != nil {
		return SubmitResult{}, err
	}

	if stored.DuplicateOfHint != nil {
		s.Logger.Warn().
			Str("report_id", stored.ID).
			Str("duplicate_of", *stored.DuplicateOfHint).
			Bool("force_create", in.ForceCreate).
			Msg("created report within match radius of an existing one")
	}
	return SubmitResult{Outcome: OutcomeCreated, Report: &stored}, nil
}

// Confirm applies one citizen confirmation to an existing report. The
// cooldown makes repeat confirmations by the same reporter a recognized
// outcome, not an error; the optimistic version check makes sure concurrent
// confirmations from different reporters all land.
func (s *IntakeService) Confirm(ctx context.Context, reportID, reporter string) (ConfirmResult, error) {
	if reporter == "" {
		return ConfirmResult{}, fmt.Errorf("%w: reporter_name is required", ErrValidation)
	}

	report, err := s.Store.GetReport(ctx, reportID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if report.Status == models.StatusFixed {
		return ConfirmResult{}, ErrReportFixed
	}

	acquired, err := s.Cooldown.Acquire(ctx, reporter, reportID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if !acquired {
		return ConfirmResult{Outcome: OutcomeAlreadyConfirmed, Report: report, Reporter: reporter}, nil
	}

	updated, err := s.applyConfirmation(ctx, report, reporter)
	if err != nil {
		if relErr := s.Cooldown.Release(ctx, reporter, reportID); relErr != nil {
			s.Logger.Warn().Err(relErr).Str("report_id", reportID).Msg("cooldown release failed")
		}
		return ConfirmResult{}, err
	}
	return ConfirmResult{Outcome: OutcomeConfirmed, Report: updated, Reporter: reporter}, nil
}

func (s *IntakeService) applyConfirmation(ctx context.Context, report models.Report, reporter string) (models.Report, error) {
	// One transparent retry when another confirmation won the version race.
	for attempt := 0; attempt < 2; attempt++ {
		upd := ReportUpdate{
			ReportCount:   report.ReportCount + 1,
			Reporters:     append(append([]string{}, report.Reporters...), reporter),
			Votes:         report.Votes,
			PriorityScore: PriorityScore(report.Severity, report.ReportCount+1, report.Votes),
		}
		ok, err := s.Store.ApplyReportUpdate(ctx, report.ID, report.Version, upd)
		if err != nil {
			return models.Report{}, err
		}
		if ok {
			report.ReportCount = upd.ReportCount
			report.Reporters = upd.Reporters
			report.PriorityScore = upd.PriorityScore
			report.Version++
			return report, nil
		}

		fresh, err := s.Store.GetReport(ctx, report.ID)
		if err != nil {
			return models.Report{}, err
		}
		if fresh.Status == models.StatusFixed {
			return models.Report{}, ErrReportFixed
		}
		report = fresh
	}
	return models.Report{}, ErrConflict
}

// Vote adjusts the community vote tally and recomputes the priority score.
// The scorer floors the result at the severity+confirmation baseline, so
// downvotes can never push a report below it.
func (s *IntakeService) Vote(ctx context.Context, reportID string, delta int) (models.Report, error) {
	report, err := s.Store.GetReport(ctx, reportID)
	if err != nil {
		return models.Report{}, err
	}
	if report.Status == models.StatusFixed {
		return models.Report{}, ErrReportFixed
	}

	for attempt := 0; attempt < 2; attempt++ {
		votes := report.Votes + delta
		if votes < 0 {
			votes = 0
		}
		upd := ReportUpdate{
			ReportCount:   report.ReportCount,
			Reporters:     report.Reporters,
			Votes:         votes,
			PriorityScore: PriorityScore(report.Severity, report.ReportCount, votes),
		}
		ok, err := s.Store.ApplyReportUpdate(ctx, report.ID, report.Version, upd)
		if err != nil {
			return models.Report{}, err
		}
		if ok {
			report.Votes = votes
			report.PriorityScore = upd.PriorityScore
			report.Version++
			return report, nil
		}

		fresh, err := s.Store.GetReport(ctx, report.ID)
		if err != nil {
			return models.Report{}, err
		}
		if fresh.Status == models.StatusFixed {
			return models.Report{}, ErrReportFixed
		}
		report = fresh
	}
	return models.Report{}, ErrConflict
}
