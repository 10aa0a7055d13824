package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pothole-prioritizer/backend/internal/models"
	"github.com/pothole-prioritizer/backend/internal/service"
	"github.com/pothole-prioritizer/backend/internal/utils"
)

const reportColumns = `id, reference_number, latitude, longitude, severity, status,
	reporter_name, description, image_ref, state, district,
	priority_score, report_count, reporters, votes, duplicate_of_hint,
	version, created_at, updated_at, fixed_at`

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EnsureSchema creates the reports table when it does not exist yet. The
// deployment has no separate migration step; the schema is small enough to
// own here.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reports (
			id                TEXT PRIMARY KEY,
			reference_number  TEXT NOT NULL UNIQUE,
			latitude          DOUBLE PRECISION NOT NULL,
			longitude         DOUBLE PRECISION NOT NULL,
			severity          TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'reported',
			reporter_name     TEXT NOT NULL,
			description       TEXT NOT NULL,
			image_ref         TEXT NOT NULL DEFAULT '',
			state             TEXT NOT NULL DEFAULT '',
			district          TEXT NOT NULL DEFAULT '',
			priority_score    INT NOT NULL DEFAULT 1,
			report_count      INT NOT NULL DEFAULT 1,
			reporters         TEXT[] NOT NULL,
			votes             INT NOT NULL DEFAULT 0,
			duplicate_of_hint TEXT,
			version           BIGINT NOT NULL DEFAULT 1,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			fixed_at          TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS reports_location_idx ON reports (latitude, longitude) WHERE status != 'fixed';
		CREATE INDEX IF NOT EXISTS reports_priority_idx ON reports (priority_score DESC, created_at ASC);
	`)
	return err
}

// FindNearbyCandidates pulls open reports inside a coarse bounding box around
// the candidate location. The box over-selects on purpose; the authoritative
// Haversine filter runs in the service layer.
func (s *Store) FindNearbyCandidates(ctx context.Context, lat, lon, radiusMeters float64) ([]models.Report, error) {
	latDelta, lonDelta := boundingBoxDeltas(lat, radiusMeters)
	rows, err := s.Pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE status != 'fixed'
		  AND latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		ORDER BY created_at ASC
	`, lat-latDelta, lat+latDelta, lon-lonDelta, lon+lonDelta)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

func boundingBoxDeltas(lat, radiusMeters float64) (latDelta, lonDelta float64) {
	const metersPerDegree = 111320.0
	latDelta = radiusMeters / metersPerDegree
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		// Near the poles longitude degrees shrink to nothing; scan them all.
		return latDelta, 180
	}
	return latDelta, radiusMeters / (metersPerDegree * cosLat)
}

func (s *Store) GetReport(ctx context.Context, id string) (models.Report, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Report{}, service.ErrNotFound
	}
	return r, err
}

func (s *Store) GetReportByReference(ctx context.Context, ref string) (models.Report, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE reference_number = $1`, strings.ToUpper(strings.TrimSpace(ref)))
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Report{}, service.ErrNotFound
	}
	return r, err
}

// InsertReportChecked inserts r and re-checks proximity inside the same
// transaction. A neighbor that slipped in between the matcher read and this
// write is recorded as duplicate_of_hint instead of failing the insert, so a
// later reconciliation can merge the pair.
func (s *Store) InsertReportChecked(ctx context.Context, r models.Report, radiusMeters float64) (models.Report, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		latDelta, lonDelta := boundingBoxDeltas(r.Latitude, radiusMeters)
		rows, err := tx.Query(ctx, `
			SELECT `+reportColumns+`
			FROM reports
			WHERE status != 'fixed'
			  AND latitude BETWEEN $1 AND $2
			  AND longitude BETWEEN $3 AND $4
			ORDER BY created_at ASC
		`, r.Latitude-latDelta, r.Latitude+latDelta, r.Longitude-lonDelta, r.Longitude+lonDelta)
		if err != nil {
			return err
		}
		neighbors, err := scanReports(rows)
		if err != nil {
			return err
		}
		for _, n := range neighbors {
			if utils.HaversineMeters(r.Latitude, r.Longitude, n.Latitude, n.Longitude) <= radiusMeters {
				hint := n.ID
				r.DuplicateOfHint = &hint
				break
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO reports (id, reference_number, latitude, longitude, severity, status,
				reporter_name, description, image_ref, state, district,
				priority_score, report_count, reporters, votes, duplicate_of_hint,
				version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		`, r.ID, r.ReferenceNumber, r.Latitude, r.Longitude, string(r.Severity), string(r.Status),
			r.ReporterName, r.Description, r.ImageRef, r.State, r.District,
			r.PriorityScore, r.ReportCount, r.Reporters, r.Votes, r.DuplicateOfHint,
			r.Version, r.CreatedAt, r.UpdatedAt)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "reference") {
			return models.Report{}, service.ErrDuplicateReference
		}
		return models.Report{}, err
	}
	return r, nil
}

// ApplyReportUpdate is the optimistic-concurrency write used by confirm and
// vote. Zero rows affected means the version moved under us (or the report
// was fixed in the meantime); the caller re-reads and retries.
func (s *Store) ApplyReportUpdate(ctx context.Context, id string, expectedVersion int64, upd service.ReportUpdate) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE reports
		SET report_count = $1, reporters = $2, votes = $3, priority_score = $4,
			version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6 AND status != 'fixed'
	`, upd.ReportCount, upd.Reporters, upd.Votes, upd.PriorityScore, id, expectedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to models.Status) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE reports
		SET status = $1,
			fixed_at = CASE WHEN $1 = 'fixed' THEN NOW() ELSE fixed_at END,
			version = version + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(to), id, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListReports(ctx context.Context, f service.ReportFilter) ([]models.Report, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	var args []any
	var wheres []string
	if f.Status != "" {
		args = append(args, f.Status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		wheres = append(wheres, fmt.Sprintf("severity = $%d", len(args)))
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		wheres = append(wheres, fmt.Sprintf("(description ILIKE $%d OR reference_number ILIKE $%d)", len(args), len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY priority_score DESC, created_at ASC"
	query += " LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

func (s *Store) Stats(ctx context.Context) (models.PublicStats, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'reported'),
			COUNT(*) FILTER (WHERE status = 'verified'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'fixed'),
			COALESCE(AVG(EXTRACT(EPOCH FROM fixed_at - created_at) / 86400) FILTER (WHERE fixed_at IS NOT NULL), 0)
		FROM reports
	`)
	var st models.PublicStats
	if err := row.Scan(&st.TotalReports, &st.ReportedCount, &st.VerifiedCount, &st.InProgressCount, &st.FixedCount, &st.AvgFixDays); err != nil {
		return models.PublicStats{}, err
	}
	st.PendingCount = st.ReportedCount + st.VerifiedCount + st.InProgressCount
	return st, nil
}

func scanReports(rows pgx.Rows) ([]models.Report, error) {
	var out []models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReport(row pgx.Row) (models.Report, error) {
	var (
		r        models.Report
		severity string
		status   string
	)
	if err := row.Scan(
		&r.ID, &r.ReferenceNumber, &r.Latitude, &r.Longitude, &severity, &status,
		&r.ReporterName, &r.Description, &r.ImageRef, &r.State, &r.District,
		&r.PriorityScore, &r.ReportCount, &r.Reporters, &r.Votes, &r.DuplicateOfHint,
		&r.Version, &r.CreatedAt, &r.UpdatedAt, &r.FixedAt,
	); err != nil {
		return models.Report{}, err
	}
	r.Severity = models.Severity(severity)
	r.Status = models.Status(status)
	return r, nil
}
