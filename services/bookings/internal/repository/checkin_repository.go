package repository

import (
	"context"
	"time"

	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CheckInRepository interface {
	Upsert(ctx context.Context, ev domain.CheckInEvent) error
}

type checkInRepository struct {
	pool *pgxpool.Pool
}

func NewCheckInRepository(pool *pgxpool.Pool) CheckInRepository {
	return &checkInRepository{pool: pool}
}

// Upsert keeps one row per booking. A check-in clears the previous
// check-out time; a check-out keeps the check-in time it closes.
func (r *checkInRepository) Upsert(ctx context.Context, ev domain.CheckInEvent) error {
	const q = `INSERT INTO check_ins (booking_id, status, check_in_time, check_out_time, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (booking_id) DO UPDATE SET
			status = EXCLUDED.status,
			check_in_time = CASE
				WHEN EXCLUDED.status = 'checked_in' THEN EXCLUDED.check_in_time
				ELSE check_ins.check_in_time
			END,
			check_out_time = CASE
				WHEN EXCLUDED.status = 'checked_out' THEN EXCLUDED.check_out_time
				ELSE NULL
			END,
			updated_at = now()`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, ev.BookingID, ev.Status, ev.CheckInTime, ev.CheckOutTime)
	return err
}
