package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RoomLookup reads the hostel catalogue, which this service does not own.
type RoomLookup interface {
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
}

type roomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) RoomLookup {
	return &roomRepository{pool: pool}
}

func (r *roomRepository) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	const q = `SELECT r.id, r.hostel_id, h.name, r.room_type, r.price
		FROM rooms r JOIN hostels h ON h.id = r.hostel_id
		WHERE r.id=$1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var room domain.Room
	err := r.pool.QueryRow(ctx, q, roomID).Scan(
		&room.ID, &room.HostelID, &room.HostelName, &room.RoomType, &room.MonthlyPrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}
