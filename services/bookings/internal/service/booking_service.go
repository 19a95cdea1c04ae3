package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/campus-bookings/pkg/auth"
	"github.com/diagnosis/campus-bookings/pkg/config"
	"github.com/diagnosis/campus-bookings/pkg/events"
	"github.com/diagnosis/campus-bookings/pkg/logger"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/payment"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/repository"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/sessions"
	"github.com/google/uuid"
)

// Checkout is a booking together with the payment sheet opened for it.
type Checkout struct {
	Booking *domain.Booking        `json:"booking"`
	Price   *domain.PriceBreakdown `json:"price,omitempty"`
	Sheet   SheetView              `json:"sheet"`
}

// SheetView is a payment sheet as shown to its owner. Resumable is set once
// the sheet closed without a payment, so the client can offer resume or
// cancel for the booking.
type SheetView struct {
	payment.Snapshot
	BookingID string `json:"booking_id"`
	Resumable bool   `json:"resumable"`
}

// PaymentDetails carries the input for whichever method is active.
type PaymentDetails struct {
	MobileMoney *payment.MomoDetails `json:"mobile_money,omitempty"`
	Card        *payment.CardDetails `json:"card,omitempty"`
}

type BookingService interface {
	CreateBooking(ctx context.Context, sess *auth.Session, req domain.CreateBookingReq) (*Checkout, error)
	GetBooking(ctx context.Context, sess *auth.Session, id string) (*domain.Booking, error)
	StartCheckout(ctx context.Context, sess *auth.Session, bookingID string) (*Checkout, error)
	CancelBooking(ctx context.Context, sess *auth.Session, id string) (*domain.Booking, error)
	ConfirmBooking(ctx context.Context, sess *auth.Session, id string) (*domain.Booking, error)

	GetSheet(ctx context.Context, sess *auth.Session, sheetID string) (SheetView, error)
	ChooseMethod(ctx context.Context, sess *auth.Session, sheetID, method string) (SheetView, error)
	SetDetails(ctx context.Context, sess *auth.Session, sheetID string, details PaymentDetails) (SheetView, error)
	SubmitPayment(ctx context.Context, sess *auth.Session, sheetID string) (SheetView, error)
	RetryPayment(ctx context.Context, sess *auth.Session, sheetID string) (SheetView, error)
	SwitchMethod(ctx context.Context, sess *auth.Session, sheetID string) (SheetView, error)
	CloseSheet(ctx context.Context, sess *auth.Session, sheetID string) (SheetView, error)
	AbandonSheet(ctx context.Context, sess *auth.Session, sheetID string) error
}

type sheet struct {
	tx        *payment.Transaction
	bookingID string
}

type bookingService struct {
	bookingRepo      repository.BookingRepository
	rooms            repository.RoomLookup
	notificationRepo repository.NotificationRepository
	gateway          payment.Gateway
	eventBus         events.Publisher
	config           *config.Config
	sheets           *sessions.Store[*sheet]
	now              func() time.Time

	// mu serialises opening, replacing and cancelling sheets. open maps a
	// booking id to its one live sheet id.
	mu   sync.Mutex
	open map[string]string
}

func NewBookingService(
	bookingRepo repository.BookingRepository,
	rooms repository.RoomLookup,
	notificationRepo repository.NotificationRepository,
	gateway payment.Gateway,
	eventBus events.Publisher,
	config *config.Config,
) BookingService {
	return &bookingService{
		bookingRepo:      bookingRepo,
		rooms:            rooms,
		notificationRepo: notificationRepo,
		gateway:          gateway,
		eventBus:         eventBus,
		config:           config,
		sheets:           sessions.NewStore[*sheet](config.Booking.SessionTTL),
		now:              time.Now,
		open:             make(map[string]string),
	}
}

func (s *bookingService) fees() domain.Fees {
	return domain.Fees{
		PlatformPercent: s.config.Pricing.PlatformFeePercent,
		MomoPercent:     s.config.Pricing.MomoFeePercent,
		MomoCap:         s.config.Pricing.MomoFeeCap,
	}
}

// CreateBooking prices the selected room, stores a pending unpaid booking and
// opens a payment sheet for its total. Nothing is written when the selection
// or price is invalid, and no sheet is opened when the insert fails.
func (s *bookingService) CreateBooking(ctx context.Context, sess *auth.Session, req domain.CreateBookingReq) (*Checkout, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if strings.TrimSpace(req.RoomID) == "" {
		return nil, domain.ErrNoRoomSelected
	}
	if !req.CheckInDate.IsZero() && !req.CheckOutDate.IsZero() && !req.CheckOutDate.After(req.CheckInDate) {
		return nil, domain.NewFieldError("check_out_date", "Check-out must be after check-in")
	}

	room, err := s.rooms.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}

	price := domain.ComputePrice(room.MonthlyPrice, domain.OccupantsFromRoomType(room.RoomType), s.fees())
	if price.Total <= 0 {
		return nil, domain.ErrPriceUnavailable
	}

	now := s.now()
	booking := &domain.Booking{
		ID:             uuid.NewString(),
		HostelID:       room.HostelID,
		RoomID:         room.ID,
		UserID:         sess.UserID,
		CheckInDate:    req.CheckInDate,
		CheckOutDate:   req.CheckOutDate,
		TotalPrice:     price.Total,
		SpecialRequest: strings.TrimSpace(req.SpecialRequest),
		Status:         domain.BookingPending,
		PaymentStatus:  domain.PaymentUnpaid,
		QRCode:         domain.NewQRCode(s.config.Booking.QRCodePrefix, sess.UserID, now),
		HostelName:     room.HostelName,
		RoomType:       room.RoomType,
	}
	if !req.CheckInDate.IsZero() && !req.CheckOutDate.IsZero() {
		booking.Nights = domain.CountNights(req.CheckInDate, req.CheckOutDate)
	}

	if err := s.bookingRepo.Create(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	event := events.BookingCreatedEvent{
		BookingID:  booking.ID,
		UserID:     booking.UserID,
		HostelID:   booking.HostelID,
		RoomID:     booking.RoomID,
		TotalPrice: booking.TotalPrice,
		CheckIn:    booking.CheckInDate,
		CheckOut:   booking.CheckOutDate,
		CreatedAt:  booking.CreatedAt,
	}
	if err := s.eventBus.Publish(ctx, events.BookingCreated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking created event", "error", err, "booking_id", booking.ID)
	}

	s.mu.Lock()
	view, err := s.openSheetLocked(sess, booking)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return &Checkout{
		Booking: booking,
		Price:   &price,
		Sheet:   view,
	}, nil
}

func (s *bookingService) GetBooking(ctx context.Context, sess *auth.Session, id string) (*domain.Booking, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	b, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsOwner(sess.UserID) && !sess.CanOperate() {
		return nil, domain.ErrForbidden
	}
	s.decorate(ctx, b)
	return b, nil
}

// StartCheckout reopens payment for a pending unpaid booking with the same
// amount and label it was created with. Any earlier sheet for the booking is
// discarded; one with a charge in flight makes this fail with ErrBusy.
func (s *bookingService) StartCheckout(ctx context.Context, sess *auth.Session, bookingID string) (*Checkout, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsOwner(sess.UserID) {
		return nil, domain.ErrForbidden
	}
	if b.IsPaid() {
		return nil, domain.ErrAlreadyPaid
	}
	if b.Status != domain.BookingPending {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}

	s.decorate(ctx, b)
	view, err := s.openSheetLocked(sess, b)
	if err != nil {
		return nil, err
	}
	return &Checkout{Booking: b, Sheet: view}, nil
}

// CancelBooking is the explicit way out of an abandoned checkout. The
// booking's open sheet is discarded first so nothing can be charged after.
func (s *bookingService) CancelBooking(ctx context.Context, sess *auth.Session, id string) (*domain.Booking, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsOwner(sess.UserID) && sess.Role != auth.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	if err := checkCancellable(b); err != nil {
		return nil, err
	}

	if err := s.releaseSheetLocked(b.ID); err != nil {
		return nil, err
	}
	// A payment may have been recorded before the sheet was released.
	if b, err = s.bookingRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := checkCancellable(b); err != nil {
		return nil, err
	}

	if err := s.bookingRepo.UpdateStatus(ctx, b.ID, domain.BookingCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	s.publishStatus(ctx, events.BookingCancelled, b, domain.BookingCancelled, sess.UserID)

	b.Status = domain.BookingCancelled
	return b, nil
}

func checkCancellable(b *domain.Booking) error {
	if b.IsPaid() {
		return domain.ErrAlreadyPaid
	}
	if !b.CanCancel() {
		return fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}
	return nil
}

// ConfirmBooking is the operator's out-of-band pending -> confirmed step.
func (s *bookingService) ConfirmBooking(ctx context.Context, sess *auth.Session, id string) (*domain.Booking, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if !sess.CanOperate() {
		return nil, domain.ErrForbidden
	}
	b, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(b.Status, domain.BookingConfirmed) {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}

	if err := s.bookingRepo.UpdateStatus(ctx, b.ID, domain.BookingConfirmed); err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}
	s.publishStatus(ctx, events.BookingConfirmed, b, domain.BookingConfirmed, sess.UserID)

	b.Status = domain.BookingConfirmed
	return b, nil
}

// decorate fills the display-only hostel fields. A catalogue miss leaves them
// empty; the booking itself is still valid.
func (s *bookingService) decorate(ctx context.Context, b *domain.Booking) {
	if b.HostelName != "" {
		return
	}
	room, err := s.rooms.GetRoom(ctx, b.RoomID)
	if err != nil {
		logger.WarnContext(ctx, "Room lookup failed", "error", err, "booking_id", b.ID, "room_id", b.RoomID)
		return
	}
	b.HostelName = room.HostelName
	b.RoomType = room.RoomType
}

func (s *bookingService) publishStatus(ctx context.Context, subject string, b *domain.Booking, to domain.BookingStatus, actorID string) {
	event := events.BookingStatusEvent{
		BookingID: b.ID,
		UserID:    b.UserID,
		From:      string(b.Status),
		To:        string(to),
		ActorID:   actorID,
		At:        s.now(),
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking status event", "error", err, "booking_id", b.ID, "subject", subject)
	}
}

// --- payment sheets ---

// openSheetLocked replaces the booking's current sheet with a fresh one.
// Callers hold s.mu.
func (s *bookingService) openSheetLocked(sess *auth.Session, b *domain.Booking) (SheetView, error) {
	if err := s.releaseSheetLocked(b.ID); err != nil {
		return SheetView{}, err
	}

	tx := payment.NewTransaction(s.gateway,
		payment.WithConfirmDelay(s.config.Payments.ConfirmDelay),
		payment.WithCurrency(s.config.Pricing.Currency),
		payment.WithClock(s.now),
	)
	tx.Open(b.TotalPrice, b.PaymentLabel(), map[string]string{
		"booking_id": b.ID,
		"user_id":    b.UserID,
	}, s.recordPayment(b.ID))

	sh := &sheet{tx: tx, bookingID: b.ID}
	s.sheets.Put(tx.ID(), sess.UserID, sh)
	s.open[b.ID] = tx.ID()
	return viewOf(sh), nil
}

// releaseSheetLocked discards the live sheet for bookingID, if any. A sheet
// with a charge in flight is kept and payment.ErrBusy returned. Callers hold
// s.mu.
func (s *bookingService) releaseSheetLocked(bookingID string) error {
	id, ok := s.open[bookingID]
	if !ok {
		return nil
	}
	if sh, ok := s.sheets.Find(id); ok {
		if err := sh.tx.Discard(); err != nil {
			return err
		}
		s.sheets.Delete(id)
	}
	delete(s.open, bookingID)
	return nil
}

// recordPayment is the success callback for a sheet. Marking the booking paid
// is the only part that can fail the payment; the notification and event are
// best-effort.
func (s *bookingService) recordPayment(bookingID string) payment.SuccessFunc {
	return func(ctx context.Context, r payment.Receipt) error {
		ctx = logger.WithBooking(ctx, bookingID)

		b, err := s.bookingRepo.MarkPaid(ctx, bookingID, r.Reference, r.PaidAt)
		if err != nil {
			return err
		}

		n := &domain.Notification{
			ID:        uuid.NewString(),
			UserID:    b.UserID,
			BookingID: b.ID,
			Type:      domain.NotifyBookingPaid,
			Title:     "Booking confirmed",
			Message: fmt.Sprintf("Payment of %s %.2f for %s received. Reference %s.",
				s.config.Pricing.Currency, r.Amount, r.Label, r.Reference),
		}
		if err := s.notificationRepo.Insert(ctx, n); err != nil {
			logger.ErrorContext(ctx, "Failed to insert payment notification", "error", err)
		}

		event := events.BookingPaidEvent{
			BookingID:        b.ID,
			UserID:           b.UserID,
			PaymentReference: r.Reference,
			Amount:           r.Amount,
			PaidAt:           r.PaidAt,
		}
		if err := s.eventBus.Publish(ctx, events.BookingPaid, event); err != nil {
			logger.ErrorContext(ctx, "Failed to publish booking paid event", "error", err)
		}
		return nil
	}
}

func viewOf(sh *sheet) SheetView {
	snap := sh.tx.Snapshot()
	return SheetView{
		Snapshot:  snap,
		BookingID: sh.bookingID,
		Resumable: snap.Closed && snap.Reference == "",
	}
}

func (s *bookingService) sheet(sess *auth.Session, id string) (*sheet, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	sh, ok := s.sheets.Get(id, sess.UserID)
	if !ok {
		return nil, domain.ErrSheetNotFound
	}
	return sh, nil
}

// withSheet runs fn against the caller's sheet and returns the resulting view
// alongside fn's error.
func (s *bookingService) withSheet(sess *auth.Session, id string, fn func(*payment.Transaction) error) (SheetView, error) {
	sh, err := s.sheet(sess, id)
	if err != nil {
		return SheetView{}, err
	}
	err = fn(sh.tx)
	return viewOf(sh), err
}

func (s *bookingService) GetSheet(_ context.Context, sess *auth.Session, sheetID string) (SheetView, error) {
	return s.withSheet(sess, sheetID, func(*payment.Transaction) error { return nil })
}

func (s *bookingService) ChooseMethod(_ context.Context, sess *auth.Session, sheetID, method string) (SheetView, error) {
	return s.withSheet(sess, sheetID, func(tx *payment.Transaction) error {
		return tx.ChooseMethod(payment.Method(method))
	})
}

func (s *bookingService) SetDetails(_ context.Context, sess *auth.Session, sheetID string, details PaymentDetails) (SheetView, error) {
	return s.withSheet(sess, sheetID, func(tx *payment.Transaction) error {
		switch {
		case details.MobileMoney != nil:
			return tx.SetMomoDetails(*details.MobileMoney)
		case details.Card != nil:
			return tx.SetCardDetails(*details.Card)
		default:
			return domain.NewFieldError("method", "Enter payment details")
		}
	})
}

func (s *bookingService) SubmitPayment(ctx context.Context, sess *auth.Session, sheetID string) (SheetView, error) {
	sh, err := s.sheet(sess, sheetID)
	if err != nil {
		return SheetView{}, err
	}
	ctx = logger.WithBooking(ctx, sh.bookingID)

	// The booking may have been paid or cancelled elsewhere since the sheet
	// opened; the gateway is never called for it then.
	b, err := s.bookingRepo.GetByID(ctx, sh.bookingID)
	if err != nil {
		return viewOf(sh), err
	}
	if b.IsPaid() {
		return viewOf(sh), domain.ErrAlreadyPaid
	}
	if !b.CanTakePayment() {
		return viewOf(sh), fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}

	err = sh.tx.Submit(ctx)
	view := viewOf(sh)

	var fe *domain.FieldError
	if errors.As(err, &fe) || errors.Is(err, payment.ErrInvalidStep) || errors.Is(err, payment.ErrClosed) {
		return view, err
	}
	s.publishAttempt(ctx, view)
	return view, err
}

func (s *bookingService) publishAttempt(ctx context.Context, view SheetView) {
	var subject string
	switch view.Step {
	case payment.StepSuccess:
		subject = events.PaymentSucceeded
	case payment.StepFailed:
		subject = events.PaymentFailed
	default:
		return
	}
	event := events.PaymentAttemptEvent{
		SheetID:   view.ID,
		Label:     view.Label,
		Method:    string(view.Method),
		Amount:    view.Amount,
		Reference: view.Reference,
		Reason:    view.Failure,
		At:        s.now(),
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish payment attempt event", "error", err, "sheet_id", view.ID)
	}
}

func (s *bookingService) RetryPayment(_ context.Context, sess *auth.Session, sheetID string) (SheetView, error) {
	return s.withSheet(sess, sheetID, (*payment.Transaction).Retry)
}

func (s *bookingService) SwitchMethod(_ context.Context, sess *auth.Session, sheetID string) (SheetView, error) {
	return s.withSheet(sess, sheetID, (*payment.Transaction).SwitchMethod)
}

func (s *bookingService) CloseSheet(_ context.Context, sess *auth.Session, sheetID string) (SheetView, error) {
	return s.withSheet(sess, sheetID, (*payment.Transaction).Close)
}

// AbandonSheet drops the sheet whatever its step. A payment still being
// authorized is not cancelled; its result is discarded.
func (s *bookingService) AbandonSheet(_ context.Context, sess *auth.Session, sheetID string) error {
	sh, err := s.sheet(sess, sheetID)
	if err != nil {
		return err
	}
	sh.tx.Abandon()
	s.sheets.Delete(sheetID)

	s.mu.Lock()
	if s.open[sh.bookingID] == sheetID {
		delete(s.open, sh.bookingID)
	}
	s.mu.Unlock()
	return nil
}
