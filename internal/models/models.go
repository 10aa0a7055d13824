package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Status string

const (
	StatusReported   Status = "reported"
	StatusVerified   Status = "verified"
	StatusInProgress Status = "in_progress"
	StatusFixed      Status = "fixed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusReported, StatusVerified, StatusInProgress, StatusFixed:
		return true
	}
	return false
}

// Report is the canonical pothole record. One report per physical pothole;
// repeat sightings are merged into ReportCount/Reporters instead of new rows.
// ReportCount must always equal len(Reporters).
type Report struct {
	ID              string     `json:"id"`
	ReferenceNumber string     `json:"reference_number"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Severity        Severity   `json:"severity"`
	Status          Status     `json:"status"`
	ReporterName    string     `json:"reporter_name"`
	Description     string     `json:"description"`
	ImageRef        string     `json:"image_ref,omitempty"`
	State           string     `json:"state,omitempty"`
	District        string     `json:"district,omitempty"`
	PriorityScore   int        `json:"priority_score"`
	ReportCount     int        `json:"report_count"`
	Reporters       []string   `json:"reporters"`
	Votes           int        `json:"votes"`
	DuplicateOfHint *string    `json:"duplicate_of_hint,omitempty"`
	Version         int64      `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FixedAt         *time.Time `json:"fixed_at,omitempty"`
}

// Detection is what the external image analysis service returns for one image.
type Detection struct {
	Severity     Severity  `json:"severity"`
	Confidence   float64   `json:"confidence"`
	PotholeCount int       `json:"pothole_count"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

type PublicStats struct {
	TotalReports    int     `json:"total_reports"`
	ReportedCount   int     `json:"reported_count"`
	VerifiedCount   int     `json:"verified_count"`
	InProgressCount int     `json:"in_progress_count"`
	FixedCount      int     `json:"fixed_count"`
	PendingCount    int     `json:"pending_count"`
	AvgFixDays      float64 `json:"avg_fix_days"`
}
