// Package store persists block-list and access-log records for fingerprints.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shortontech/originguard/internal/detection"
	"github.com/shortontech/originguard/pkg/config"
)

var ErrInvalidTableName = errors.New("store: invalid table name")

// Snapshot is the serialized detection outcome stored alongside a record.
type Snapshot struct {
	Score      int                `json:"score"`
	Detections []string           `json:"detections"`
	Reason     string             `json:"reason,omitempty"`
	Details    *detection.Details `json:"details,omitempty"`
}

// BlockRecord is one row of the block list. Re-blocking a fingerprint keeps
// BlockedAt and Reason, ORs IsPermanent and refreshes LastAttempt.
type BlockRecord struct {
	Fingerprint string    `json:"fingerprint"`
	Reason      string    `json:"reason"`
	UserAgent   string    `json:"user_agent"`
	Detection   Snapshot  `json:"detection_details"`
	IsPermanent bool      `json:"is_permanent"`
	BlockedAt   time.Time `json:"blocked_at"`
	LastAttempt time.Time `json:"last_attempt"`
}

// AccessRecord is one append-only access-log row.
type AccessRecord struct {
	Fingerprint  string    `json:"fingerprint"`
	IsSuspicious bool      `json:"is_suspicious"`
	UserAgent    string    `json:"user_agent"`
	Detection    Snapshot  `json:"detection_results"`
	AccessedAt   time.Time `json:"accessed_at"`
}

type Store interface {
	IsBlocked(ctx context.Context, fingerprint string) (bool, error)
	Block(ctx context.Context, rec BlockRecord) error
	LogAccess(ctx context.Context, rec AccessRecord) error
	// SuspiciousCount counts suspicious access rows for fingerprint at or after since.
	SuspiciousCount(ctx context.Context, fingerprint string, since time.Time) (int, error)
	Close() error
	Name() string
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return OpenPostgres(ctx, PostgresConfig{
			DSN:            cfg.PostgresDSN,
			BlockedTable:   cfg.BlockedTable,
			AccessLogTable: cfg.AccessLogTable,
		})
	case "redis":
		return OpenRedis(ctx, RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Prefix:    cfg.RedisPrefix,
			Retention: cfg.RedisRetention,
		})
	}
	return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
}

func marshalSnapshot(s Snapshot) ([]byte, error) {
	if s.Detections == nil {
		s.Detections = []string{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal detection snapshot: %w", err)
	}
	return b, nil
}

func stampBlock(rec *BlockRecord) {
	now := time.Now().UTC()
	if rec.BlockedAt.IsZero() {
		rec.BlockedAt = now
	}
	if rec.LastAttempt.IsZero() {
		rec.LastAttempt = rec.BlockedAt
	}
}
