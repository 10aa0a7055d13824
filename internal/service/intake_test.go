package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pothole-prioritizer/backend/internal/cooldown"
	"github.com/pothole-prioritizer/backend/internal/models"
	"github.com/pothole-prioritizer/backend/internal/utils"
)

// fakeStore implements ReportStore in memory with real optimistic-version
// semantics, so the intake retry path is exercised the same way it is
// against postgres.
type fakeStore struct {
	mu      sync.Mutex
	reports map[string]models.Report
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: map[string]models.Report{}}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) FindNearbyCandidates(ctx context.Context, lat, lon, radiusMeters float64) ([]models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Coarse prefilter contract: over-selection is fine, the matcher filters.
	var out []models.Report
	for _, r := range f.reports {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) GetReport(ctx context.Context, id string) (models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return models.Report{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) GetReportByReference(ctx context.Context, ref string) (models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reports {
		if r.ReferenceNumber == ref {
			return r, nil
		}
	}
	return models.Report{}, ErrNotFound
}

func (f *fakeStore) InsertReportChecked(ctx context.Context, r models.Report, radiusMeters float64) (models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.reports {
		if existing.ReferenceNumber == r.ReferenceNumber {
			return models.Report{}, ErrDuplicateReference
		}
	}
	for _, existing := range f.reports {
		if existing.Status == models.StatusFixed {
			continue
		}
		if utils.HaversineMeters(r.Latitude, r.Longitude, existing.Latitude, existing.Longitude) <= radiusMeters {
			hint := existing.ID
			r.DuplicateOfHint = &hint
			break
		}
	}
	f.reports[r.ID] = r
	return r, nil
}

func (f *fakeStore) ApplyReportUpdate(ctx context.Context, id string, expectedVersion int64, upd ReportUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok || r.Version != expectedVersion || r.Status == models.StatusFixed {
		return false, nil
	}
	r.ReportCount = upd.ReportCount
	r.Reporters = upd.Reporters
	r.Votes = upd.Votes
	r.PriorityScore = upd.PriorityScore
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	f.reports[id] = r
	return true, nil
}

func (f *fakeStore) ListReports(ctx context.Context, filter ReportFilter) ([]models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Report
	for _, r := range f.reports {
		if filter.Status != "" && string(r.Status) != filter.Status {
			continue
		}
		if filter.Severity != "" && string(r.Severity) != filter.Severity {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore == out[j].PriorityScore {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PriorityScore > out[j].PriorityScore
	})
	return out, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, from, to models.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.Version++
	if to == models.StatusFixed {
		now := time.Now().UTC()
		r.FixedAt = &now
	}
	f.reports[id] = r
	return true, nil
}

func (f *fakeStore) Stats(ctx context.Context) (models.PublicStats, error) {
	return models.PublicStats{}, nil
}

func newIntake(store ReportStore) *IntakeService {
	return &IntakeService{
		Store:        store,
		Cooldown:     cooldown.NewMemory(time.Hour),
		RadiusMeters: DefaultMatchRadiusMeters,
		Logger:       zerolog.Nop(),
	}
}

func submitInput(lat, lon float64, severity models.Severity, reporter string) SubmitInput {
	return SubmitInput{
		Latitude:     lat,
		Longitude:    lon,
		Severity:     severity,
		Description:  "Deep pothole near the junction",
		ReporterName: reporter,
	}
}

func TestSubmitCreatesWhenNothingNearby(t *testing.T) {
	svc := newIntake(newFakeStore())

	res, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", res.Outcome)
	}
	if res.Report.PriorityScore != 3 {
		t.Fatalf("expected priority 3 for high, got %d", res.Report.PriorityScore)
	}
	if res.Report.ReportCount != 1 || len(res.Report.Reporters) != 1 {
		t.Fatalf("expected single-reporter record, got %+v", res.Report)
	}
	if res.Report.Status != models.StatusReported {
		t.Fatalf("expected reported status, got %s", res.Report.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := newIntake(newFakeStore())
	cases := []SubmitInput{
		submitInput(91, 77.5946, models.SeverityHigh, "asha"),
		submitInput(12.9716, -181, models.SeverityHigh, "asha"),
		submitInput(12.9716, 77.5946, models.Severity("terrible"), "asha"),
		submitInput(12.9716, 77.5946, models.SeverityHigh, ""),
	}
	for i, in := range cases {
		if _, err := svc.Submit(context.Background(), in); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestSubmitSurfacesNearbyInsteadOfMerging(t *testing.T) {
	store := newFakeStore()
	svc := newIntake(store)

	first, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// ~1.5 m away: must surface the match, not merge or create.
	res, err := svc.Submit(context.Background(), submitInput(12.97161, 77.59461, models.SeverityMedium, "ravi"))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Outcome != OutcomeNearbyFound {
		t.Fatalf("expected nearby_found, got %s", res.Outcome)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Report.ID != first.Report.ID {
		t.Fatalf("expected the first report as candidate, got %+v", res.Candidates)
	}
	if d := res.Candidates[0].DistanceMeters; d < 1 || d > 3 {
		t.Fatalf("expected ~1.5 m distance, got %.2f", d)
	}
	if len(store.reports) != 1 {
		t.Fatalf("expected no new record, got %d", len(store.reports))
	}
}

func TestSubmitCreatesBeyondRadius(t *testing.T) {
	svc := newIntake(newFakeStore())

	if _, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// ~40 m north of the first.
	res, err := svc.Submit(context.Background(), submitInput(12.97196, 77.5946, models.SeverityCritical, "ravi"))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created out of radius, got %s", res.Outcome)
	}
	if res.Report.PriorityScore != 5 {
		t.Fatalf("expected priority 5 for critical, got %d", res.Report.PriorityScore)
	}
}

func TestSubmitForceCreateBypassesMatch(t *testing.T) {
	store := newFakeStore()
	svc := newIntake(store)

	first, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	in := submitInput(12.97161, 77.59461, models.SeverityMedium, "ravi")
	in.ForceCreate = true
	res, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("force submit: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created on force, got %s", res.Outcome)
	}
	// The sub-radius twin is flagged, never left silently unmarked.
	if res.Report.DuplicateOfHint == nil || *res.Report.DuplicateOfHint != first.Report.ID {
		t.Fatalf("expected duplicate hint pointing at %s, got %+v", first.Report.ID, res.Report.DuplicateOfHint)
	}
}

func TestSubmitIgnoresFixedReports(t *testing.T) {
	store := newFakeStore()
	svc := newIntake(store)

	first, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if ok, err := store.UpdateStatus(context.Background(), first.Report.ID, models.StatusReported, models.StatusFixed); err != nil || !ok {
		t.Fatalf("fix report: ok=%v err=%v", ok, err)
	}

	res, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityLow, "ravi"))
	if err != nil {
		t.Fatalf("submit near fixed: %v", err)
	}
	if res.Outcome != OutcomeCreated {
		t.Fatalf("fixed reports must not match; expected created, got %s", res.Outcome)
	}
}

func TestConfirmIncrementsAndRescores(t *testing.T) {
	svc := newIntake(newFakeStore())

	created, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := svc.Confirm(context.Background(), created.Report.ID, "ravi")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Outcome != OutcomeConfirmed {
		t.Fatalf("expected confirmed, got %s", res.Outcome)
	}
	if res.Report.ReportCount != 2 {
		t.Fatalf("expected report_count 2, got %d", res.Report.ReportCount)
	}
	if res.Report.PriorityScore != 4 {
		t.Fatalf("expected priority 4 (3 + 1 confirmation), got %d", res.Report.PriorityScore)
	}
	if len(res.Report.Reporters) != res.Report.ReportCount {
		t.Fatalf("reporter list out of sync: %+v", res.Report)
	}
	if res.Report.Reporters[1] != "ravi" {
		t.Fatalf("expected insertion-ordered reporters, got %v", res.Report.Reporters)
	}
}

func TestConfirmCooldownYieldsAlreadyConfirmed(t *testing.T) {
	svc := newIntake(newFakeStore())

	created, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Confirm(context.Background(), created.Report.ID, "ravi"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	res, err := svc.Confirm(context.Background(), created.Report.ID, "ravi")
	if err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if res.Outcome != OutcomeAlreadyConfirmed {
		t.Fatalf("expected already_confirmed, got %s", res.Outcome)
	}
	if res.Report.ReportCount != 2 {
		t.Fatalf("repeat confirm must not increment, got %d", res.Report.ReportCount)
	}
}

func TestConfirmFixedReportRefused(t *testing.T) {
	store := newFakeStore()
	svc := newIntake(store)

	created, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ok, _ := store.UpdateStatus(context.Background(), created.Report.ID, models.StatusReported, models.StatusFixed); !ok {
		t.Fatalf("failed to fix report")
	}

	if _, err := svc.Confirm(context.Background(), created.Report.ID, "ravi"); !errors.Is(err, ErrReportFixed) {
		t.Fatalf("expected ErrReportFixed, got %v", err)
	}
}

func TestConfirmUnknownReport(t *testing.T) {
	svc := newIntake(newFakeStore())
	if _, err := svc.Confirm(context.Background(), "missing", "ravi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentConfirmationsBothLand(t *testing.T) {
	store := newFakeStore()
	svc := newIntake(store)

	created, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityHigh, "asha"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, reporter := range []string{"ravi", "meera"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := svc.Confirm(context.Background(), created.Report.ID, name); err != nil {
				errs <- err
			}
		}(reporter)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent confirm failed: %v", err)
	}

	final, err := store.GetReport(context.Background(), created.Report.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.ReportCount != 3 {
		t.Fatalf("lost update: expected report_count 3, got %d", final.ReportCount)
	}
	if len(final.Reporters) != 3 {
		t.Fatalf("expected 3 reporters, got %v", final.Reporters)
	}
	if final.PriorityScore != 5 {
		t.Fatalf("expected priority 5 (3 + 2 confirmations), got %d", final.PriorityScore)
	}
}

func TestVoteAdjustsScoreWithBaselineFloor(t *testing.T) {
	store := newFakeStore()
	svc := newIntake(store)

	created, err := svc.Submit(context.Background(), submitInput(12.9716, 77.5946, models.SeverityMedium, "asha"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	up, err := svc.Vote(context.Background(), created.Report.ID, 1)
	if err != nil {
		t.Fatalf("upvote: %v", err)
	}
	if up.Votes != 1 || up.PriorityScore != 3 {
		t.Fatalf("expected votes=1 score=3, got votes=%d score=%d", up.Votes, up.PriorityScore)
	}

	down, err := svc.Vote(context.Background(), created.Report.ID, -1)
	if err != nil {
		t.Fatalf("downvote: %v", err)
	}
	if down.Votes != 0 || down.PriorityScore != 2 {
		t.Fatalf("expected back to baseline, got votes=%d score=%d", down.Votes, down.PriorityScore)
	}

	// Votes never go negative, score never dips below the baseline.
	again, err := svc.Vote(context.Background(), created.Report.ID, -1)
	if err != nil {
		t.Fatalf("second downvote: %v", err)
	}
	if again.Votes != 0 || again.PriorityScore != 2 {
		t.Fatalf("expected floor hold, got votes=%d score=%d", again.Votes, again.PriorityScore)
	}
}
