package repositories

import (
	"context"
	"errors"

	"slidecast/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRenderJobNotFound = errors.New("render job not found")
var ErrRenderJobExists = errors.New("render job already recorded")

const renderJobsSchema = `
	CREATE TABLE IF NOT EXISTS render_jobs (
		id            TEXT PRIMARY KEY,
		request_id    TEXT,
		status        TEXT NOT NULL,
		slide_count   INTEGER NOT NULL,
		width         INTEGER NOT NULL,
		height        INTEGER NOT NULL,
		fps           INTEGER NOT NULL,
		duration_sec  DOUBLE PRECISION NOT NULL,
		error_code    TEXT,
		error_text    TEXT,
		output_bytes  BIGINT NOT NULL DEFAULT 0,
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS render_jobs_started_at_idx ON render_jobs (started_at DESC);
`

type RenderJobRepository struct {
	db *pgxpool.Pool
}

func NewRenderJobRepository(db *pgxpool.Pool) *RenderJobRepository {
	return &RenderJobRepository{db: db}
}

// EnsureSchema creates render_jobs when missing. Safe to run on every start.
func (r *RenderJobRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, renderJobsSchema)
	return err
}

func (r *RenderJobRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *RenderJobRepository) Start(ctx context.Context, j *models.RenderJob) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO render_jobs (id, request_id, status, slide_count, width, height, fps, duration_sec, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, j.ID, nullIfEmpty(j.RequestID), j.Status, j.SlideCount, j.Width, j.Height, j.FPS, j.DurationSec, j.StartedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrRenderJobExists
		}
		return err
	}
	return nil
}

func (r *RenderJobRepository) Finish(ctx context.Context, j *models.RenderJob) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status=$2, error_code=$3, error_text=$4, output_bytes=$5, finished_at=$6
		WHERE id=$1
	`, j.ID, j.Status, j.ErrorCode, j.ErrorText, j.OutputBytes, j.FinishedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRenderJobNotFound
	}
	return nil
}

func (r *RenderJobRepository) Get(ctx context.Context, id string) (*models.RenderJob, error) {
	var j models.RenderJob
	var requestID *string
	err := r.db.QueryRow(ctx, `
		SELECT id, request_id, status, slide_count, width, height, fps, duration_sec,
		       error_code, error_text, output_bytes, started_at, finished_at
		FROM render_jobs
		WHERE id=$1
	`, id).Scan(
		&j.ID,
		&requestID,
		&j.Status,
		&j.SlideCount,
		&j.Width,
		&j.Height,
		&j.FPS,
		&j.DurationSec,
		&j.ErrorCode,
		&j.ErrorText,
		&j.OutputBytes,
		&j.StartedAt,
		&j.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRenderJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if requestID != nil {
		j.RequestID = *requestID
	}
	return &j, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
