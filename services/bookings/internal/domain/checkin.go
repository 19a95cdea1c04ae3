package domain

import (
	"fmt"
	"time"
)

// CheckInAction is what confirming a scan will do to a booking.
type CheckInAction int

const (
	ActionCheckIn CheckInAction = iota + 1
	ActionCheckOut
)

// ActionFor derives the scan action from the booking's current status. A guest
// who is in gets checked out; pending or confirmed guests get checked in.
func ActionFor(b *Booking) (CheckInAction, error) {
	switch b.Status {
	case BookingCheckedIn:
		return ActionCheckOut, nil
	case BookingPending, BookingConfirmed:
		return ActionCheckIn, nil
	default:
		return 0, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, b.Status)
	}
}

func (a CheckInAction) String() string {
	switch a {
	case ActionCheckIn:
		return "check_in"
	case ActionCheckOut:
		return "check_out"
	}
	return "unknown"
}

func (a CheckInAction) Label() string {
	if a == ActionCheckOut {
		return "Confirm Check-Out"
	}
	return "Confirm Check-In"
}

func (a CheckInAction) TargetStatus() BookingStatus {
	if a == ActionCheckOut {
		return BookingCompleted
	}
	return BookingCheckedIn
}

func (a CheckInAction) EventStatus() CheckInStatus {
	if a == ActionCheckOut {
		return CheckedOut
	}
	return CheckedIn
}

func (a CheckInAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

type CheckInStatus string

const (
	CheckedIn  CheckInStatus = "checked_in"
	CheckedOut CheckInStatus = "checked_out"
)

// CheckInEvent is the single row per booking holding the latest stay times.
type CheckInEvent struct {
	BookingID    string        `json:"booking_id"`
	Status       CheckInStatus `json:"status"`
	CheckInTime  *time.Time    `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time    `json:"check_out_time,omitempty"`
}

// NewCheckInEvent stamps the time field matching the action.
func NewCheckInEvent(bookingID string, action CheckInAction, at time.Time) CheckInEvent {
	ev := CheckInEvent{BookingID: bookingID, Status: action.EventStatus()}
	if action == ActionCheckOut {
		ev.CheckOutTime = &at
	} else {
		ev.CheckInTime = &at
	}
	return ev
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	BookingID string    `json:"booking_id,omitempty"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	NotifyBookingPaid = "booking_paid"
	NotifyCheckIn     = "check_in"
	NotifyCheckOut    = "check_out"
)

type AuditRecord struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id"`
	BookingID string         `json:"booking_id"`
	Platform  string         `json:"platform"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
