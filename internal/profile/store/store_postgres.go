package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"cis/internal/profile/models"
	"cis/pkg/platform/sentinel"
	txcontext "cis/pkg/platform/tx"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresStore persists profiles as JSONB documents keyed by user_id.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed profile store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the profile and audit tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate profile store: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn in one transaction so the profile write and its audit record
// commit together.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Find(ctx context.Context, userID string) (*Record, error) {
	var (
		doc       []byte
		version   int64
		updatedAt time.Time
	)
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT document, version, updated_at FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&doc, &version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	p, err := models.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("decode stored profile %s: %w", userID, err)
	}
	return &Record{Profile: p, Version: version, UpdatedAt: updatedAt}, nil
}

func (s *PostgresStore) Save(ctx context.Context, p *models.Profile, expectedVersion int64) (int64, error) {
	doc, err := p.JSON()
	if err != nil {
		return 0, fmt.Errorf("encode profile: %w", err)
	}
	var uuid sql.NullString
	if v := p.UUID.StringValue(); v != "" {
		uuid = sql.NullString{String: v, Valid: true}
	}
	now := time.Now().UTC()

	if expectedVersion == 0 {
		_, err := s.execer(ctx).ExecContext(ctx, `
			INSERT INTO profiles (user_id, uuid, version, document, updated_at)
			VALUES ($1, $2, 1, $3, $4)
		`, p.UserIDValue(), uuid, doc, now)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return 0, sentinel.ErrConflict
			}
			return 0, fmt.Errorf("insert profile: %w", err)
		}
		return 1, nil
	}

	result, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE profiles
		SET document = $3, uuid = $4, version = version + 1, updated_at = $5
		WHERE user_id = $1 AND version = $2
	`, p.UserIDValue(), expectedVersion, doc, uuid, now)
	if err != nil {
		return 0, fmt.Errorf("update profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update profile: %w", err)
	}
	if n == 0 {
		return 0, sentinel.ErrConflict
	}
	return expectedVersion + 1, nil
}
