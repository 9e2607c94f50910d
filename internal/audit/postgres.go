package audit

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"transcode-fleet/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Log writes job events to Postgres. It is an operator's history of who
// processed what; it plays no part in deciding claims.
type Log struct {
	pool *pgxpool.Pool
}

// Open creates a pooled connection to Postgres.
func Open(ctx context.Context, dsn string) (*Log, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Log{pool: pool}, nil
}

func (l *Log) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in name order.
func (l *Log) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := l.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Record appends an event row.
func (l *Log) Record(ctx context.Context, ev models.JobEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Recorded.IsZero() {
		ev.Recorded = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO job_events (id, job_key, worker_id, event, detail, duration_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.JobKey, ev.WorkerID, ev.Event, emptyToNil(ev.Detail), ev.Duration.Milliseconds(), ev.Recorded)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// History returns the latest events for a job key, newest first.
func (l *Log) History(ctx context.Context, jobKey string, limit int) ([]models.JobEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, job_key, worker_id, event, detail, duration_ms, recorded_at
		FROM job_events WHERE job_key = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, jobKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	var out []models.JobEvent
	for rows.Next() {
		var (
			ev     models.JobEvent
			id     pgtype.UUID
			detail pgtype.Text
			ms     int64
		)
		if err := rows.Scan(&id, &ev.JobKey, &ev.WorkerID, &ev.Event, &detail, &ms, &ev.Recorded); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		if id.Valid {
			ev.ID = uuid.UUID(id.Bytes).String()
		}
		if detail.Valid {
			ev.Detail = detail.String
		}
		ev.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job events: %w", err)
	}
	return out, nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
