package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/swipefi/swipefi/internal/scoring"
)

// PostgresSource persists ingested snapshots as JSONB.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a PostgreSQL-backed snapshot store
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

var _ Store = (*PostgresSource)(nil)

// Migrate creates the wallet_snapshots table.
func (p *PostgresSource) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_snapshots (
			wallet_address  VARCHAR(42) PRIMARY KEY,
			snapshot        JSONB NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (p *PostgresSource) Snapshot(ctx context.Context, addr string) (*scoring.Snapshot, error) {
	key := strings.ToLower(addr)

	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT snapshot FROM wallet_snapshots WHERE wallet_address = $1
	`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &scoring.Snapshot{Address: key, DefiProtocols: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var s scoring.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.DefiProtocols == nil {
		s.DefiProtocols = []string{}
	}
	return &s, nil
}

func (p *PostgresSource) Put(ctx context.Context, s *scoring.Snapshot) error {
	n := Normalize(*s)
	if n.Address == "" {
		return ErrInvalidAddress
	}

	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO wallet_snapshots (wallet_address, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (wallet_address) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = NOW()
	`, n.Address, raw)
	return err
}
