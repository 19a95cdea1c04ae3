package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepository interface {
	Insert(ctx context.Context, rec *domain.AuditRecord) error
}

type auditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Insert(ctx context.Context, rec *domain.AuditRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	const q = `INSERT INTO audit_logs (id, action, actor_id, booking_id, platform, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.pool.QueryRow(ctx, q, rec.ID, rec.Action, rec.ActorID, rec.BookingID, rec.Platform, details).Scan(&rec.CreatedAt)
}
