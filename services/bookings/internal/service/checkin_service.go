package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/diagnosis/campus-bookings/pkg/auth"
	"github.com/diagnosis/campus-bookings/pkg/config"
	"github.com/diagnosis/campus-bookings/pkg/events"
	"github.com/diagnosis/campus-bookings/pkg/logger"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/checkin"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/repository"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/sessions"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Names of the writes made when a scan is confirmed, as reported in warnings.
const (
	writeStatus       = "booking_status"
	writeCheckInEvent = "check_in_event"
	writeNotification = "notification"
	writeAudit        = "audit"
)

type CheckInService interface {
	StartScan(ctx context.Context, sess *auth.Session) (checkin.Snapshot, error)
	GetScan(ctx context.Context, sess *auth.Session, scanID string) (checkin.Snapshot, error)
	// Decode reports accepted=false when the scanner was latched and the code
	// was ignored.
	Decode(ctx context.Context, sess *auth.Session, scanID, text string) (snap checkin.Snapshot, accepted bool, err error)
	Confirm(ctx context.Context, sess *auth.Session, scanID, platform string) (checkin.Snapshot, error)
	Reset(ctx context.Context, sess *auth.Session, scanID string) (checkin.Snapshot, error)
}

type checkInService struct {
	bookingRepo      repository.BookingRepository
	rooms            repository.RoomLookup
	checkInRepo      repository.CheckInRepository
	notificationRepo repository.NotificationRepository
	auditRepo        repository.AuditRepository
	eventBus         events.Publisher
	scanners         *sessions.Store[*checkin.Scanner]
	now              func() time.Time
}

func NewCheckInService(
	bookingRepo repository.BookingRepository,
	rooms repository.RoomLookup,
	checkInRepo repository.CheckInRepository,
	notificationRepo repository.NotificationRepository,
	auditRepo repository.AuditRepository,
	eventBus events.Publisher,
	config *config.Config,
) CheckInService {
	return &checkInService{
		bookingRepo:      bookingRepo,
		rooms:            rooms,
		checkInRepo:      checkInRepo,
		notificationRepo: notificationRepo,
		auditRepo:        auditRepo,
		eventBus:         eventBus,
		scanners:         sessions.NewStore[*checkin.Scanner](config.Booking.SessionTTL),
		now:              time.Now,
	}
}

func (s *checkInService) StartScan(_ context.Context, sess *auth.Session) (checkin.Snapshot, error) {
	if err := requireOperator(sess); err != nil {
		return checkin.Snapshot{}, err
	}
	sc := checkin.NewScanner()
	s.scanners.Put(sc.ID(), sess.UserID, sc)
	return sc.Snapshot(), nil
}

func (s *checkInService) scanner(sess *auth.Session, id string) (*checkin.Scanner, error) {
	if err := requireOperator(sess); err != nil {
		return nil, err
	}
	sc, ok := s.scanners.Get(id, sess.UserID)
	if !ok {
		return nil, domain.ErrScanNotFound
	}
	return sc, nil
}

func (s *checkInService) GetScan(_ context.Context, sess *auth.Session, scanID string) (checkin.Snapshot, error) {
	sc, err := s.scanner(sess, scanID)
	if err != nil {
		return checkin.Snapshot{}, err
	}
	return sc.Snapshot(), nil
}

func (s *checkInService) Decode(ctx context.Context, sess *auth.Session, scanID, text string) (checkin.Snapshot, bool, error) {
	sc, err := s.scanner(sess, scanID)
	if err != nil {
		return checkin.Snapshot{}, false, err
	}

	err = sc.Decode(ctx, text, s.findByCode)
	if errors.Is(err, checkin.ErrLatched) {
		return sc.Snapshot(), false, nil
	}
	return sc.Snapshot(), true, err
}

// findByCode resolves a scanned code and fills the display fields for the
// summary. Store failures are logged here since the scanner reports every
// miss the same way.
func (s *checkInService) findByCode(ctx context.Context, code string) (*domain.Booking, error) {
	b, err := s.bookingRepo.GetByQRCode(ctx, code)
	if err != nil {
		if !errors.Is(err, domain.ErrBookingNotFound) {
			logger.ErrorContext(ctx, "QR lookup failed", "error", err)
		}
		return nil, err
	}
	if room, err := s.rooms.GetRoom(ctx, b.RoomID); err == nil {
		b.HostelName = room.HostelName
		b.RoomType = room.RoomType
	}
	return b, nil
}

// Confirm applies the action chosen at decode time. Success depends on the
// booking status write alone; failures of the other writes come back as
// warnings on the snapshot.
func (s *checkInService) Confirm(ctx context.Context, sess *auth.Session, scanID, platform string) (checkin.Snapshot, error) {
	sc, err := s.scanner(sess, scanID)
	if err != nil {
		return checkin.Snapshot{}, err
	}

	b, action, err := sc.Begin()
	if err != nil {
		return sc.Snapshot(), err
	}
	ctx = logger.WithBooking(ctx, b.ID)

	warnings, err := s.applyAction(ctx, sess, &b, action, platform)
	if err != nil {
		sc.Fail("Could not update the booking. Try again.")
		return sc.Snapshot(), err
	}
	sc.Complete(warnings)

	subject := events.BookingCheckedIn
	if action == domain.ActionCheckOut {
		subject = events.BookingCheckedOut
	}
	event := events.BookingStatusEvent{
		BookingID: b.ID,
		UserID:    b.UserID,
		From:      string(b.Status),
		To:        string(action.TargetStatus()),
		ActorID:   sess.UserID,
		At:        s.now(),
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish check-in event", "error", err, "subject", subject)
	}

	return sc.Snapshot(), nil
}

// applyAction runs the four writes of a confirmed scan concurrently. They are
// independent: nothing is rolled back when one of them fails.
func (s *checkInService) applyAction(ctx context.Context, sess *auth.Session, b *domain.Booking, action domain.CheckInAction, platform string) ([]checkin.Warning, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	target := action.TargetStatus()

	var (
		mu       sync.Mutex
		warnings []checkin.Warning
	)
	warn := func(write string, err error) {
		logger.WarnContext(ctx, "Check-in side effect failed", "write", write, "error", err)
		mu.Lock()
		warnings = append(warnings, checkin.Warning{Write: write, Message: err.Error()})
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := s.bookingRepo.UpdateStatus(ctx, b.ID, target); err != nil {
			return fmt.Errorf("%s: %w", writeStatus, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.checkInRepo.Upsert(ctx, domain.NewCheckInEvent(b.ID, action, now)); err != nil {
			warn(writeCheckInEvent, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.notificationRepo.Insert(ctx, checkInNotification(b, action)); err != nil {
			warn(writeNotification, err)
		}
		return nil
	})
	g.Go(func() error {
		rec := &domain.AuditRecord{
			ID:        uuid.NewString(),
			Action:    action.String(),
			ActorID:   sess.UserID,
			BookingID: b.ID,
			Platform:  platform,
			Details: map[string]any{
				"from":    b.Status,
				"to":      target,
				"qr_code": b.QRCode,
				"at":      now,
			},
		}
		if err := s.auditRepo.Insert(ctx, rec); err != nil {
			warn(writeAudit, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Write < warnings[j].Write })
	return warnings, nil
}

func checkInNotification(b *domain.Booking, action domain.CheckInAction) *domain.Notification {
	place := b.HostelName
	if place == "" {
		place = "your hostel"
	}

	n := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    b.UserID,
		BookingID: b.ID,
	}
	if action == domain.ActionCheckOut {
		n.Type = domain.NotifyCheckOut
		n.Title = "Checked out"
		n.Message = fmt.Sprintf("You have been checked out of %s.", place)
	} else {
		n.Type = domain.NotifyCheckIn
		n.Title = "Checked in"
		n.Message = fmt.Sprintf("Welcome! You have been checked in to %s.", place)
	}
	return n
}

func (s *checkInService) Reset(_ context.Context, sess *auth.Session, scanID string) (checkin.Snapshot, error) {
	sc, err := s.scanner(sess, scanID)
	if err != nil {
		return checkin.Snapshot{}, err
	}
	sc.Reset()
	return sc.Snapshot(), nil
}

func requireOperator(sess *auth.Session) error {
	if !sess.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if !sess.CanOperate() {
		return domain.ErrForbidden
	}
	return nil
}
