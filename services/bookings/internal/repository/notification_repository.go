package repository

import (
	"context"
	"time"

	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository interface {
	Insert(ctx context.Context, n *domain.Notification) error
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) Insert(ctx context.Context, n *domain.Notification) error {
	const q = `INSERT INTO notifications (id, user_id, booking_id, type, title, message)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		RETURNING created_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.pool.QueryRow(ctx, q, n.ID, n.UserID, n.BookingID, n.Type, n.Title, n.Message).Scan(&n.CreatedAt)
}
