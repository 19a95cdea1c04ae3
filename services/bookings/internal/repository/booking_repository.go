package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BookingRepository is every store operation the booking core performs. All
// of them touch a single row by key; status writes are last-write-wins.
type BookingRepository interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	GetByQRCode(ctx context.Context, code string) (*domain.Booking, error)
	MarkPaid(ctx context.Context, id, reference string, paidAt time.Time) (*domain.Booking, error)
	UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) error
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

const bookingCols = `id, hostel_id, room_id, user_id,
check_in_date, check_out_date, nights, total_price, special_request,
status, payment_status, payment_reference, paid_at, qr_code,
created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.HostelID, &b.RoomID, &b.UserID,
		&b.CheckInDate, &b.CheckOutDate, &b.Nights, &b.TotalPrice, &b.SpecialRequest,
		&b.Status, &b.PaymentStatus, &b.PaymentReference, &b.PaidAt, &b.QRCode,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	const q = `INSERT INTO bookings (
		id, hostel_id, room_id, user_id,
		check_in_date, check_out_date, nights, total_price, special_request,
		status, payment_status, qr_code
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	RETURNING created_at, updated_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.pool.QueryRow(ctx, q,
		b.ID, b.HostelID, b.RoomID, b.UserID,
		b.CheckInDate, b.CheckOutDate, b.Nights, b.TotalPrice, b.SpecialRequest,
		b.Status, b.PaymentStatus, b.QRCode,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanBooking(r.pool.QueryRow(ctx, q, id))
}

func (r *bookingRepository) GetByQRCode(ctx context.Context, code string) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE qr_code=$1 LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanBooking(r.pool.QueryRow(ctx, q, code))
}

// MarkPaid stamps the payment fields once. A booking that is already paid is
// reported as domain.ErrAlreadyPaid; a cancelled or completed one as
// domain.ErrInvalidTransition. Neither is touched.
func (r *bookingRepository) MarkPaid(ctx context.Context, id, reference string, paidAt time.Time) (*domain.Booking, error) {
	const q = `UPDATE bookings
		SET payment_status='paid', payment_reference=$2, paid_at=$3, updated_at=now()
		WHERE id=$1 AND payment_status='unpaid' AND status NOT IN ('cancelled', 'completed')
		RETURNING ` + bookingCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id, reference, paidAt))
	if !errors.Is(err, domain.ErrBookingNotFound) {
		return b, err
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.IsPaid() {
		return nil, domain.ErrAlreadyPaid
	}
	return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, current.Status)
}

func (r *bookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) error {
	const q = `UPDATE bookings SET status=$2, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}
