package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds configuration for the Postgres backend
type PostgresConfig struct {
	DSN            string
	BlockedTable   string
	AccessLogTable string
}

// Postgres persists records over database/sql with the lib/pq driver.
type Postgres struct {
	config PostgresConfig
	db     *sql.DB
}

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateTableName guards identifiers that are interpolated into SQL.
func validateTableName(name string) error {
	if name == "" || len(name) > 63 || !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}

func (c PostgresConfig) validate() error {
	if err := validateTableName(c.BlockedTable); err != nil {
		return err
	}
	return validateTableName(c.AccessLogTable)
}

// OpenPostgres connects, pings and bootstraps the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store: postgres DSN is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{config: cfg, db: db}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing handle without touching the schema.
func NewPostgres(db *sql.DB, cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Postgres{config: cfg, db: db}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	blocked, access := p.config.BlockedTable, p.config.AccessLogTable
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			fingerprint       TEXT PRIMARY KEY,
			reason            TEXT NOT NULL,
			user_agent        TEXT NOT NULL DEFAULT '',
			detection_details JSONB NOT NULL DEFAULT '{}'::jsonb,
			is_permanent      BOOLEAN NOT NULL DEFAULT FALSE,
			blocked_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_attempt      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, blocked),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                BIGSERIAL PRIMARY KEY,
			fingerprint       TEXT NOT NULL,
			is_suspicious     BOOLEAN NOT NULL DEFAULT FALSE,
			user_agent        TEXT NOT NULL DEFAULT '',
			detection_results JSONB NOT NULL DEFAULT '{}'::jsonb,
			accessed_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, access),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_suspicious ON %s (fingerprint, accessed_at) WHERE is_suspicious`, access, access),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) IsBlocked(ctx context.Context, fingerprint string) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE fingerprint = $1 LIMIT 1`, p.config.BlockedTable)
	var one int
	err := p.db.QueryRowContext(ctx, q, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup block: %w", err)
	}
	return true, nil
}

func (p *Postgres) Block(ctx context.Context, rec BlockRecord) error {
	stampBlock(&rec)
	details, err := marshalSnapshot(rec.Detection)
	if err != nil {
		return err
	}
	t := p.config.BlockedTable
	q := fmt.Sprintf(`INSERT INTO %s (fingerprint, reason, user_agent, detection_details, is_permanent, blocked_at, last_attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fingerprint) DO UPDATE SET
			last_attempt = EXCLUDED.last_attempt,
			is_permanent = %s.is_permanent OR EXCLUDED.is_permanent`, t, t)
	if _, err := p.db.ExecContext(ctx, q,
		rec.Fingerprint, rec.Reason, rec.UserAgent, details, rec.IsPermanent, rec.BlockedAt, rec.LastAttempt,
	); err != nil {
		return fmt.Errorf("upsert block: %w", err)
	}
	return nil
}

func (p *Postgres) LogAccess(ctx context.Context, rec AccessRecord) error {
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now().UTC()
	}
	results, err := marshalSnapshot(rec.Detection)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (fingerprint, is_suspicious, user_agent, detection_results, accessed_at)
		VALUES ($1, $2, $3, $4, $5)`, p.config.AccessLogTable)
	if _, err := p.db.ExecContext(ctx, q,
		rec.Fingerprint, rec.IsSuspicious, rec.UserAgent, results, rec.AccessedAt,
	); err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

func (p *Postgres) SuspiciousCount(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE fingerprint = $1 AND is_suspicious = TRUE AND accessed_at >= $2`,
		p.config.AccessLogTable)
	var n int
	if err := p.db.QueryRowContext(ctx, q, fingerprint, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count suspicious accesses: %w", err)
	}
	return n, nil
}

func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
