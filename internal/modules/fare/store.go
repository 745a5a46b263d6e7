// README: Rate/coupon store backed by PostgreSQL, with an in-memory double.
package fare

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"farebid/internal/types"
)

var ErrNoCoupon = errors.New("unknown coupon code")

type RateStore interface {
	GetRate(ctx context.Context, tier types.Tier) (Rate, error)
	GetCoupon(ctx context.Context, code string) (Coupon, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetRate(ctx context.Context, tier types.Tier) (Rate, error) {
	row := s.db.QueryRow(ctx, `
        SELECT tier, base_fare, per_km, per_min, currency
        FROM fare_rates WHERE tier = $1`, string(tier))
	var r Rate
	err := row.Scan(&r.Tier, &r.BaseFare, &r.PerKm, &r.PerMin, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		if def, ok := DefaultRates[tier]; ok {
			return def, nil
		}
		return Rate{}, errors.New("no rate for tier " + string(tier))
	}
	return r, err
}

func (s *PGStore) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	row := s.db.QueryRow(ctx, `
        SELECT code, percent_off FROM coupons WHERE code = $1 AND active`, code)
	var c Coupon
	err := row.Scan(&c.Code, &c.PercentOff)
	if errors.Is(err, pgx.ErrNoRows) {
		return Coupon{}, ErrNoCoupon
	}
	return c, err
}

// MemStore serves the default rates and a fixed coupon set.
type MemStore struct {
	mu      sync.Mutex
	coupons map[string]Coupon
}

func NewMemStore() *MemStore {
	return &MemStore{coupons: make(map[string]Coupon)}
}

func (s *MemStore) AddCoupon(c Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[strings.ToUpper(c.Code)] = c
}

func (s *MemStore) GetRate(_ context.Context, tier types.Tier) (Rate, error) {
	if r, ok := DefaultRates[tier]; ok {
		return r, nil
	}
	return Rate{}, errors.New("no rate for tier " + string(tier))
}

func (s *MemStore) GetCoupon(_ context.Context, code string) (Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.coupons[strings.ToUpper(code)]; ok {
		return c, nil
	}
	return Coupon{}, ErrNoCoupon
}
