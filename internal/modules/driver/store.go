// README: Driver store interface and the PostgreSQL implementation.
package driver

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"farebid/internal/types"
)

var ErrNotFound = errors.New("driver not found")

type Store interface {
	Get(ctx context.Context, id types.ID) (*Driver, error)
	Upsert(ctx context.Context, d *Driver) error
	SetStatus(ctx context.Context, id types.ID, status Status) error
	ListAvailable(ctx context.Context) ([]*Driver, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, tier, status, device_token, updated_at
        FROM drivers WHERE id = $1`, string(id))
	var d Driver
	err := row.Scan(&d.ID, &d.Tier, &d.Status, &d.DeviceToken, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGStore) Upsert(ctx context.Context, d *Driver) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO drivers (id, tier, status, device_token, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (id) DO UPDATE
        SET tier = EXCLUDED.tier,
            status = EXCLUDED.status,
            device_token = EXCLUDED.device_token,
            updated_at = NOW()`,
		string(d.ID), string(d.Tier), string(d.Status), d.DeviceToken,
	)
	return err
}

func (s *PGStore) SetStatus(ctx context.Context, id types.ID, status Status) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE drivers SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListAvailable(ctx context.Context) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, tier, status, device_token, updated_at
        FROM drivers
        WHERE status = 'available'
        ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		var d Driver
		if err := rows.Scan(&d.ID, &d.Tier, &d.Status, &d.DeviceToken, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
