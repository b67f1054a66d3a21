// README: Pricing rates backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRateNotFound = errors.New("rate not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, carType string) (Rate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT car_type, base_fare, base_km, per_unit, unit_km, per_min_off_peak, per_min_peak, multiplier, currency
		FROM fare_rates WHERE car_type=$1`, carType)
	var r Rate
	err := row.Scan(&r.CarType, &r.BaseFare, &r.BaseKm, &r.PerUnit, &r.UnitKm, &r.PerMinOffPeak, &r.PerMinPeak, &r.Multiplier, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrRateNotFound
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}

func (s *Store) UpsertRate(ctx context.Context, r Rate) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO fare_rates (car_type, base_fare, base_km, per_unit, unit_km, per_min_off_peak, per_min_peak, multiplier, currency)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (car_type) DO UPDATE SET
			base_fare=EXCLUDED.base_fare, base_km=EXCLUDED.base_km, per_unit=EXCLUDED.per_unit,
			unit_km=EXCLUDED.unit_km, per_min_off_peak=EXCLUDED.per_min_off_peak,
			per_min_peak=EXCLUDED.per_min_peak, multiplier=EXCLUDED.multiplier, currency=EXCLUDED.currency`,
		r.CarType, r.BaseFare, r.BaseKm, r.PerUnit, r.UnitKm, r.PerMinOffPeak, r.PerMinPeak, r.Multiplier, r.Currency)
	return err
}
