package experiments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/promptforge/promptforge/pkg/contracts"
)

// PostgresStore implements contracts.ExperimentStore on PostgreSQL. Params,
// metrics, and tags live in JSONB columns so run shapes can evolve without
// migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and migrates the schema.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("experiments connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("experiments ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("experiments migrate: %w", err)
	}

	log.Info().Msg("postgres experiment store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS pf_experiments (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS pf_runs (
			id            TEXT PRIMARY KEY,
			experiment_id TEXT NOT NULL REFERENCES pf_experiments(id),
			name          TEXT NOT NULL DEFAULT '',
			params        JSONB NOT NULL DEFAULT '{}',
			metrics       JSONB NOT NULL DEFAULT '{}',
			tags          JSONB NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS pf_run_artifacts (
			run_id     TEXT NOT NULL REFERENCES pf_runs(id),
			name       TEXT NOT NULL,
			data       BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (run_id, name)
		);

		CREATE INDEX IF NOT EXISTS idx_pf_runs_experiment ON pf_runs (experiment_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_pf_runs_tags ON pf_runs USING GIN (tags);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) EnsureExperiment(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pf_experiments (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, id, name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensure experiment: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, experimentID, name string) (*contracts.Run, error) {
	run := &contracts.Run{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		Name:         name,
		Params:       map[string]string{},
		Metrics:      map[string]float64{},
		Tags:         map[string]string{},
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pf_runs (id, experiment_id, name, created_at)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.ExperimentID, run.Name, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) LogRun(ctx context.Context, runID string, params map[string]string, metrics map[string]float64, tags map[string]string) error {
	if params == nil {
		params = map[string]string{}
	}
	if metrics == nil {
		metrics = map[string]float64{}
	}
	if tags == nil {
		tags = map[string]string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pf_runs
		SET params = params || $2, metrics = metrics || $3, tags = tags || $4
		WHERE id = $1`,
		runID, params, metrics, tags)
	if err != nil {
		return fmt.Errorf("log run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

func (s *PostgresStore) AttachArtifact(ctx context.Context, runID, name string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pf_run_artifacts (run_id, name, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, name) DO UPDATE SET data = EXCLUDED.data`,
		runID, name, data)
	if err != nil {
		return fmt.Errorf("attach artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, runID, name string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM pf_run_artifacts WHERE run_id = $1 AND name = $2`,
		runID, name).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("artifact %s not found for run %s", name, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) SearchRuns(ctx context.Context, experimentID string, filter contracts.RunFilter) ([]contracts.Run, error) {
	query := `
		SELECT id, experiment_id, name, params, metrics, tags, created_at
		FROM pf_runs
		WHERE experiment_id = $1`
	args := []interface{}{experimentID}
	argIdx := 2

	if len(filter.Tags) > 0 {
		query += fmt.Sprintf(" AND tags @> $%d", argIdx)
		args = append(args, filter.Tags)
		argIdx++
	}
	if filter.MinMetric != "" {
		query += fmt.Sprintf(" AND (metrics ->> $%d)::float8 >= $%d", argIdx, argIdx+1)
		args = append(args, filter.MinMetric, filter.MinValue)
		argIdx += 2
	}
	if filter.Category != "" {
		query += fmt.Sprintf(
			` AND EXISTS (SELECT 1 FROM jsonb_each_text(tags) WHERE key LIKE 'category\_%%' AND value LIKE '%%' || $%d || '%%')`,
			argIdx)
		args = append(args, filter.Category)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	defer rows.Close()

	var runs []contracts.Run
	for rows.Next() {
		var run contracts.Run
		if err := rows.Scan(&run.ID, &run.ExperimentID, &run.Name, &run.Params, &run.Metrics, &run.Tags, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*contracts.Run, error) {
	var run contracts.Run
	err := s.pool.QueryRow(ctx, `
		SELECT id, experiment_id, name, params, metrics, tags, created_at
		FROM pf_runs WHERE id = $1`, runID).
		Scan(&run.ID, &run.ExperimentID, &run.Name, &run.Params, &run.Metrics, &run.Tags, &run.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// HealthCheck pings the pool.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
