// Package checkin holds the per-scan state of the operator's QR scanner.
// A Scanner accepts one decoded code at a time; further codes are ignored
// until it is reset.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/google/uuid"
)

type Step string

const (
	StepScanning   Step = "scanning"
	StepFound      Step = "found"
	StepError      Step = "error"
	StepCheckingIn Step = "checking_in"
	StepSuccess    Step = "success"
)

// InvalidCodeMessage is shown for every code that does not resolve to a
// booking, whatever the underlying cause.
const InvalidCodeMessage = "Invalid or expired QR code"

var (
	ErrLatched     = errors.New("a scanned code is already being handled")
	ErrInvalidStep = errors.New("action not available at this scan step")
)

// Finder resolves a decoded code to exactly one booking.
type Finder func(ctx context.Context, code string) (*domain.Booking, error)

// Warning reports a secondary write that failed while the status change
// itself went through.
type Warning struct {
	Write   string `json:"write"`
	Message string `json:"message"`
}

type Summary struct {
	BookingID     string               `json:"booking_id"`
	GuestID       string               `json:"guest_id"`
	HostelName    string               `json:"hostel_name,omitempty"`
	RoomType      string               `json:"room_type,omitempty"`
	CheckInDate   time.Time            `json:"check_in_date"`
	CheckOutDate  time.Time            `json:"check_out_date"`
	TotalPrice    float64              `json:"total_price"`
	Status        domain.BookingStatus `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
}

type Snapshot struct {
	ID       string                `json:"id"`
	Step     Step                  `json:"step"`
	Action   *domain.CheckInAction `json:"action,omitempty"`
	Label    string                `json:"label,omitempty"`
	Booking  *Summary              `json:"booking,omitempty"`
	Message  string                `json:"message,omitempty"`
	Warnings []Warning             `json:"warnings,omitempty"`
}

type Scanner struct {
	mu sync.Mutex

	id         string
	step       Step
	busy       bool
	generation uint64

	booking  *domain.Booking
	action   domain.CheckInAction
	message  string
	warnings []Warning
}

func NewScanner() *Scanner {
	return &Scanner{id: uuid.NewString(), step: StepScanning}
}

func (s *Scanner) ID() string {
	return s.id
}

// Decode hands a decoded code to the scanner. It returns ErrLatched without
// touching the store when a code was already accepted or is being looked up.
// A miss is not an error: the scanner moves to StepError.
func (s *Scanner) Decode(ctx context.Context, text string, find Finder) error {
	s.mu.Lock()
	if s.step != StepScanning || s.busy {
		s.mu.Unlock()
		return ErrLatched
	}
	s.busy = true
	gen := s.generation
	s.mu.Unlock()

	b, err := find(ctx, strings.TrimSpace(text))

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return ErrLatched
	}
	s.busy = false

	if err != nil || b == nil {
		s.step = StepError
		s.message = InvalidCodeMessage
		return nil
	}

	action, err := domain.ActionFor(b)
	if err != nil {
		s.step = StepError
		s.message = fmt.Sprintf("This booking is %s and cannot be checked in or out", b.Status)
		return nil
	}

	s.step = StepFound
	s.booking = b
	s.action = action
	s.message = ""
	return nil
}

// Begin moves a found booking into checking_in and returns a copy of it with
// the action chosen at decode time.
func (s *Scanner) Begin() (domain.Booking, domain.CheckInAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepFound {
		return domain.Booking{}, 0, fmt.Errorf("%w: confirm at %s", ErrInvalidStep, s.step)
	}
	s.step = StepCheckingIn
	s.message = ""
	return *s.booking, s.action, nil
}

// Complete records a successful status change.
func (s *Scanner) Complete(warnings []Warning) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepCheckingIn {
		return
	}
	s.step = StepSuccess
	s.booking.Status = s.action.TargetStatus()
	s.warnings = warnings
}

// Fail returns to found so the operator can try the confirm again.
func (s *Scanner) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepCheckingIn {
		return
	}
	s.step = StepFound
	s.message = message
}

// Reset clears everything and arms the scanner for the next code. A lookup
// still in flight is ignored when it returns.
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.step = StepScanning
	s.busy = false
	s.booking = nil
	s.action = 0
	s.message = ""
	s.warnings = nil
}

func (s *Scanner) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Scanner) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:      s.id,
		Step:    s.step,
		Message: s.message,
	}
	if len(s.warnings) > 0 {
		snap.Warnings = append([]Warning(nil), s.warnings...)
	}
	if s.booking != nil {
		action := s.action
		snap.Action = &action
		snap.Label = action.Label()
		b := s.booking
		snap.Booking = &Summary{
			BookingID:     b.ID,
			GuestID:       b.UserID,
			HostelName:    b.HostelName,
			RoomType:      b.RoomType,
			CheckInDate:   b.CheckInDate,
			CheckOutDate:  b.CheckOutDate,
			TotalPrice:    b.TotalPrice,
			Status:        b.Status,
			PaymentStatus: b.PaymentStatus,
		}
	}
	return snap
}
