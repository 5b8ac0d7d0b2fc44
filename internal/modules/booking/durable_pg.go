// README: Durable booking store backed by PostgreSQL.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridebook/internal/modules/matching"
	"ridebook/internal/types"
)

const bookingColumns = `id, rider_id, pickup, dropoff, service_date, service_time, status, driver,
        created_at, updated_at, confirmed_at, completed_at, cancelled_at, cancel_reason`

type PostgresDurable struct {
	db *pgxpool.Pool
}

func NewPostgresDurable(db *pgxpool.Pool) *PostgresDurable {
	return &PostgresDurable{db: db}
}

func (s *PostgresDurable) Insert(ctx context.Context, b *Booking) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO bookings (
                id, rider_id, pickup, dropoff, service_date, service_time, status,
                created_at, updated_at
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			string(b.ID),
			string(b.RiderID),
			b.Pickup,
			b.Dropoff,
			b.Date,
			b.Time,
			string(b.Status),
			b.CreatedAt,
			b.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, b.ID, StatusNone, b.Status, nil)
	})
}

func (s *PostgresDurable) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *PostgresDurable) UpdateStatusAndDriver(ctx context.Context, id types.ID, expected, next Status, driver *matching.Driver, reason string) (*Booking, error) {
	var driverJSON any
	if driver != nil {
		raw, err := json.Marshal(driver)
		if err != nil {
			return nil, err
		}
		driverJSON = raw
	}

	var out *Booking
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            UPDATE bookings
            SET status = $1,
                driver = COALESCE($2::jsonb, driver),
                updated_at = NOW(),
                confirmed_at = CASE WHEN $1 = 'confirmed' THEN NOW() ELSE confirmed_at END,
                completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
                cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END,
                cancel_reason = CASE WHEN $1 = 'cancelled' AND $5 <> '' THEN $5 ELSE cancel_reason END
            WHERE id = $3 AND status = $4
            RETURNING `+bookingColumns,
			string(next),
			driverJSON,
			string(id),
			string(expected),
			reason,
		)
		b, err := scanBooking(row)
		if err != nil {
			return err
		}
		var driverID *types.ID
		if b.Driver != nil {
			driverID = &b.Driver.ID
		}
		if err := appendEvent(ctx, tx, id, expected, next, driverID); err != nil {
			return err
		}
		out = b
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missOrConflict(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresDurable) QueryByRider(ctx context.Context, riderID types.ID) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE rider_id = $1`, string(riderID))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (s *PostgresDurable) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+bookingColumns+`
        FROM bookings
        WHERE status = 'pending' AND created_at < $1
        ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// missOrConflict distinguishes an unknown id from a lost status race after a zero-row update.
func (s *PostgresDurable) missOrConflict(ctx context.Context, id types.ID) error {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, string(id)).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func appendEvent(ctx context.Context, tx pgx.Tx, id types.ID, from, to Status, driverID *types.ID) error {
	var d *string
	if driverID != nil {
		v := string(*driverID)
		d = &v
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO booking_state_events (booking_id, from_status, to_status, driver_id)
        VALUES ($1, $2, $3, $4)`,
		string(id), string(from), string(to), d,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var b Booking
	var driverJSON []byte
	err := row.Scan(
		&b.ID, &b.RiderID, &b.Pickup, &b.Dropoff, &b.Date, &b.Time, &b.Status, &driverJSON,
		&b.CreatedAt, &b.UpdatedAt, &b.ConfirmedAt, &b.CompletedAt, &b.CancelledAt, &b.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	if len(driverJSON) > 0 {
		var d matching.Driver
		if err := json.Unmarshal(driverJSON, &d); err != nil {
			return nil, err
		}
		b.Driver = &d
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*Booking, error) {
	defer rows.Close()
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
