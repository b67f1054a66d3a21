// README: Request store backed by PostgreSQL; one row per request with status_version CAS.
package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridesync/internal/types"
)

const selectRequestColumns = `
	SELECT id, customer_id, customer_name,
	       pickup_name, pickup_lat, pickup_lng,
	       destination_name, destination_lat, destination_lng,
	       fare_amount, fare_currency, created_at_ms, status, status_version,
	       driver_id, driver_name
	FROM trip_requests`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) List(ctx context.Context) ([]Request, error) {
	rows, err := s.db.Query(ctx, selectRequestColumns+` ORDER BY created_at_ms, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, selectRequestColumns+` WHERE id = $1`, string(id))
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) Insert(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_requests (
			id, customer_id, customer_name,
			pickup_name, pickup_lat, pickup_lng,
			destination_name, destination_lat, destination_lng,
			fare_amount, fare_currency, created_at_ms, status, status_version,
			driver_id, driver_name
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16
		)`,
		string(r.ID), string(r.Customer.ID), r.Customer.Name,
		r.Pickup.Name, r.Pickup.Coordinates.Lat, r.Pickup.Coordinates.Lng,
		r.Destination.Name, r.Destination.Coordinates.Lat, r.Destination.Coordinates.Lng,
		r.Fare.Amount, r.Fare.Currency, r.Timestamp, string(r.Status), r.Version,
		toStringPtr(r.DriverID), r.DriverName,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateID
	}
	return err
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driver *Party) (bool, error) {
	var driverID, driverName *string
	if driver != nil {
		d, n := string(driver.ID), driver.Name
		driverID, driverName = &d, &n
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE trip_requests
		SET status = $1,
		    status_version = status_version + 1,
		    driver_id = COALESCE($2, driver_id),
		    driver_name = COALESCE($3, driver_name)
		WHERE id = $4 AND status = $5 AND status_version = $6`,
		string(to), driverID, driverName, string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Prune evaluates drop in Go so both stores share one predicate; the list is small.
func (s *PGStore) Prune(ctx context.Context, drop func(*Request) bool) (int, error) {
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var ids []string
	for i := range all {
		if drop(&all[i]) {
			ids = append(ids, string(all[i].ID))
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM trip_requests WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) Clear(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM trip_requests`)
	return err
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		r          Request
		status     string
		driverID   *string
		driverName *string
	)
	err := row.Scan(
		&r.ID, &r.Customer.ID, &r.Customer.Name,
		&r.Pickup.Name, &r.Pickup.Coordinates.Lat, &r.Pickup.Coordinates.Lng,
		&r.Destination.Name, &r.Destination.Coordinates.Lat, &r.Destination.Coordinates.Lng,
		&r.Fare.Amount, &r.Fare.Currency, &r.Timestamp, &status, &r.Version,
		&driverID, &driverName,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if driverID != nil && *driverID != "" {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	if driverName != nil {
		r.DriverName = *driverName
	}
	return &r, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
