package sources

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/events"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresSource reads events from a table with the event table columns
// plus a bigserial id that fixes row order.
type PostgresSource struct {
	pool  *pgxpool.Pool
	table string

	// Since and Until restrict the timestamp column to [Since, Until) when
	// non-zero.
	Since int64
	Until int64
}

// NewPostgresSource connects, verifies the connection, and creates the
// events table if it does not exist.
func NewPostgresSource(ctx context.Context, cfg config.PostgresConfig) (*PostgresSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: postgres url is empty", ErrNotConfigured)
	}
	table := cfg.Table
	if table == "" {
		table = "events"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid events table name %q", table)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 5 * time.Minute
	poolCfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PostgresSource{pool: pool, table: table}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *PostgresSource) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

func (s *PostgresSource) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id BIGSERIAL PRIMARY KEY,
		source_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_type TEXT NOT NULL,
		relationship_type TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		feature1 DOUBLE PRECISION NOT NULL,
		feature2 DOUBLE PRECISION NOT NULL
	);

	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(timestamp);
	`, s.ident(), pgx.Identifier{"idx_" + s.table + "_timestamp"}.Sanitize())

	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresSource) Name() string {
	return "postgres"
}

func (s *PostgresSource) Load(ctx context.Context) ([]events.Event, error) {
	query, args := s.selectQuery()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	evs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Event, error) {
		var ev events.Event
		err := row.Scan(
			&ev.SourceID,
			&ev.SourceType,
			&ev.TargetID,
			&ev.TargetType,
			&ev.RelationshipType,
			&ev.Timestamp,
			&ev.Feature1,
			&ev.Feature2,
		)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	if len(evs) == 0 {
		return nil, events.ErrEmptyEvents
	}
	return evs, nil
}

func (s *PostgresSource) selectQuery() (string, []any) {
	query := `SELECT source_id, source_type, target_id, target_type, relationship_type, timestamp, feature1, feature2 FROM ` + s.ident()
	var args []any
	switch {
	case s.Since != 0 && s.Until != 0:
		query += ` WHERE timestamp >= $1 AND timestamp < $2`
		args = append(args, s.Since, s.Until)
	case s.Since != 0:
		query += ` WHERE timestamp >= $1`
		args = append(args, s.Since)
	case s.Until != 0:
		query += ` WHERE timestamp < $1`
		args = append(args, s.Until)
	}
	return query + ` ORDER BY id`, args
}

// Insert appends evs with COPY, preserving their order.
func (s *PostgresSource) Insert(ctx context.Context, evs []events.Event) (int64, error) {
	if err := events.Validate(evs); err != nil {
		return 0, err
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{s.table},
		[]string{"source_id", "source_type", "target_id", "target_type", "relationship_type", "timestamp", "feature1", "feature2"},
		pgx.CopyFromSlice(len(evs), func(i int) ([]any, error) {
			ev := evs[i]
			return []any{ev.SourceID, ev.SourceType, ev.TargetID, ev.TargetType, ev.RelationshipType, ev.Timestamp, ev.Feature1, ev.Feature2}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy events: %w", err)
	}
	return n, nil
}

// Ping checks database connectivity
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
