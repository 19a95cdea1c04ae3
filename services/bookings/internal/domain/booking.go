package domain

import (
	"fmt"
	"time"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCheckedIn BookingStatus = "checked_in"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// transitions lists every legal status edge. Anything absent is rejected.
var transitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCheckedIn, BookingCancelled},
	BookingConfirmed: {BookingCheckedIn},
	BookingCheckedIn: {BookingCompleted},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status change is possible.
func (s BookingStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

type Booking struct {
	ID               string        `json:"id"`
	HostelID         string        `json:"hostel_id"`
	RoomID           string        `json:"room_id"`
	UserID           string        `json:"user_id"`
	CheckInDate      time.Time     `json:"check_in_date"`
	CheckOutDate     time.Time     `json:"check_out_date"`
	Nights           int           `json:"nights"`
	TotalPrice       float64       `json:"total_price"`
	SpecialRequest   string        `json:"special_request,omitempty"`
	Status           BookingStatus `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentReference *string       `json:"payment_reference,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	QRCode           string        `json:"qr_code"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`

	// Joined for display, never written by this service.
	HostelName string `json:"hostel_name,omitempty"`
	RoomType   string `json:"room_type,omitempty"`
}

// CreateBookingReq is the student's room selection.
type CreateBookingReq struct {
	RoomID         string    `json:"room_id"`
	CheckInDate    time.Time `json:"check_in_date"`
	CheckOutDate   time.Time `json:"check_out_date"`
	SpecialRequest string    `json:"special_request"`
}

// CanCancel allows abandoning a checkout only while nothing has been paid.
func (b *Booking) CanCancel() bool {
	return b.Status == BookingPending && b.PaymentStatus == PaymentUnpaid
}

// CanTakePayment reports whether a charge may still be recorded against b.
func (b *Booking) CanTakePayment() bool {
	return !b.IsPaid() && !b.Status.IsTerminal()
}

func (b *Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentPaid
}

// IsOwner checks if the given user ID owns this booking
func (b *Booking) IsOwner(userID string) bool {
	return b.UserID == userID
}

// PaymentLabel is the line shown on the payment sheet for this booking.
func (b *Booking) PaymentLabel() string {
	if b.HostelName != "" && b.RoomType != "" {
		return fmt.Sprintf("%s - %s", b.HostelName, b.RoomType)
	}
	if b.HostelName != "" {
		return b.HostelName
	}
	return "Booking " + b.ID
}

// CountNights returns whole days between the two dates, ignoring time of day.
func CountNights(checkIn, checkOut time.Time) int {
	in := time.Date(checkIn.Year(), checkIn.Month(), checkIn.Day(), 0, 0, 0, 0, time.UTC)
	out := time.Date(checkOut.Year(), checkOut.Month(), checkOut.Day(), 0, 0, 0, 0, time.UTC)
	return int(out.Sub(in).Hours() / 24)
}

// NewQRCode builds the check-in token: <prefix>-<epoch millis>-<user id head>.
// Uniqueness rests on the timestamp; no store-side collision check is made.
func NewQRCode(prefix, userID string, now time.Time) string {
	head := userID
	if len(head) > 8 {
		head = head[:8]
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), head)
}
