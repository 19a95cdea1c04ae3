package service

import (
	"context"
	"errors"
	"testing"

	"github.com/diagnosis/campus-bookings/pkg/events"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/checkin"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkInFixture struct {
	svc           *checkInService
	repo          *mockBookingRepo
	checkIns      *mockCheckInRepo
	notifications *mockNotificationRepo
	audits        *mockAuditRepo
	bus           *mockBus
}

func newCheckInFixture(bookings ...*domain.Booking) *checkInFixture {
	f := &checkInFixture{
		repo:          newMockBookingRepo(),
		checkIns:      &mockCheckInRepo{},
		notifications: &mockNotificationRepo{},
		audits:        &mockAuditRepo{},
		bus:           &mockBus{},
	}
	for _, b := range bookings {
		f.repo.put(b)
	}
	f.svc = NewCheckInService(f.repo, testRooms(), f.checkIns, f.notifications, f.audits, f.bus, testConfig()).(*checkInService)
	return f
}

func confirmedBooking() *domain.Booking {
	return &domain.Booking{
		ID:            "b1",
		RoomID:        "room-1",
		UserID:        student.UserID,
		Status:        domain.BookingConfirmed,
		PaymentStatus: domain.PaymentPaid,
		TotalPrice:    14904,
		QRCode:        "BK-1767225600123-9b2f4c1d",
	}
}

func scanAndConfirm(t *testing.T, f *checkInFixture, scanID string) checkin.Snapshot {
	t.Helper()
	ctx := context.Background()

	snap, accepted, err := f.svc.Decode(ctx, operator, scanID, "BK-1767225600123-9b2f4c1d")
	require.NoError(t, err)
	require.True(t, accepted)
	require.Equal(t, checkin.StepFound, snap.Step)

	snap, err = f.svc.Confirm(ctx, operator, scanID, "android")
	require.NoError(t, err)
	return snap
}

func TestDoubleScanTogglesCheckInAndOut(t *testing.T) {
	f := newCheckInFixture(confirmedBooking())
	ctx := context.Background()

	scan, err := f.svc.StartScan(ctx, operator)
	require.NoError(t, err)
	assert.Equal(t, checkin.StepScanning, scan.Step)

	snap := scanAndConfirm(t, f, scan.ID)
	assert.Equal(t, checkin.StepSuccess, snap.Step)
	assert.Equal(t, "Confirm Check-In", snap.Label)
	assert.Equal(t, "Volta Hall", snap.Booking.HostelName)
	assert.Empty(t, snap.Warnings)
	assert.Equal(t, domain.BookingCheckedIn, f.repo.get("b1").Status)

	_, err = f.svc.Reset(ctx, operator, scan.ID)
	require.NoError(t, err)

	snap = scanAndConfirm(t, f, scan.ID)
	assert.Equal(t, "Confirm Check-Out", snap.Label)
	assert.Equal(t, domain.BookingCompleted, f.repo.get("b1").Status)

	assert.Equal(t, []domain.BookingStatus{domain.BookingConfirmed, domain.BookingCheckedIn, domain.BookingCompleted}, f.repo.history["b1"])

	require.Len(t, f.checkIns.events, 2)
	assert.Equal(t, domain.CheckedIn, f.checkIns.events[0].Status)
	assert.NotNil(t, f.checkIns.events[0].CheckInTime)
	assert.Equal(t, domain.CheckedOut, f.checkIns.events[1].Status)
	assert.NotNil(t, f.checkIns.events[1].CheckOutTime)

	require.Len(t, f.notifications.items, 2)
	assert.Equal(t, student.UserID, f.notifications.items[0].UserID)

	require.Len(t, f.audits.items, 2)
	assert.Equal(t, operator.UserID, f.audits.items[0].ActorID)
	assert.Equal(t, "android", f.audits.items[0].Platform)

	assert.Equal(t, []string{events.BookingCheckedIn, events.BookingCheckedOut}, f.bus.published())
	assert.Equal(t, "BK-1767225600123-9b2f4c1d", f.repo.get("b1").QRCode)
}

func TestSecondaryWriteFailuresBecomeWarnings(t *testing.T) {
	f := newCheckInFixture(confirmedBooking())
	f.notifications.err = errors.New("notifications table locked")
	f.audits.err = errors.New("audit insert timeout")

	scan, err := f.svc.StartScan(context.Background(), operator)
	require.NoError(t, err)
	snap := scanAndConfirm(t, f, scan.ID)

	assert.Equal(t, checkin.StepSuccess, snap.Step)
	require.Len(t, snap.Warnings, 2)
	assert.Equal(t, "audit", snap.Warnings[0].Write)
	assert.Equal(t, "notification", snap.Warnings[1].Write)
	assert.Equal(t, domain.BookingCheckedIn, f.repo.get("b1").Status)
	assert.Len(t, f.checkIns.events, 1)
}

func TestStatusWriteFailureBlocksSuccess(t *testing.T) {
	f := newCheckInFixture(confirmedBooking())
	f.repo.statusErr = errors.New("connection reset")
	ctx := context.Background()

	scan, err := f.svc.StartScan(ctx, operator)
	require.NoError(t, err)
	_, _, err = f.svc.Decode(ctx, operator, scan.ID, "BK-1767225600123-9b2f4c1d")
	require.NoError(t, err)

	snap, err := f.svc.Confirm(ctx, operator, scan.ID, "web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, checkin.StepFound, snap.Step)
	assert.NotEmpty(t, snap.Message)
	assert.Equal(t, domain.BookingConfirmed, f.repo.get("b1").Status)
	assert.Empty(t, f.bus.published())

	f.repo.statusErr = nil
	snap, err = f.svc.Confirm(ctx, operator, scan.ID, "web")
	require.NoError(t, err)
	assert.Equal(t, checkin.StepSuccess, snap.Step)
}

func TestUnknownCodeAndLatch(t *testing.T) {
	f := newCheckInFixture(confirmedBooking())
	ctx := context.Background()

	scan, err := f.svc.StartScan(ctx, operator)
	require.NoError(t, err)

	snap, accepted, err := f.svc.Decode(ctx, operator, scan.ID, "not-a-booking")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, checkin.StepError, snap.Step)
	assert.Equal(t, checkin.InvalidCodeMessage, snap.Message)

	snap, accepted, err = f.svc.Decode(ctx, operator, scan.ID, "BK-1767225600123-9b2f4c1d")
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, checkin.StepError, snap.Step)

	_, err = f.svc.Confirm(ctx, operator, scan.ID, "web")
	assert.ErrorIs(t, err, checkin.ErrInvalidStep)
}

func TestCancelledBookingCannotBeScannedIn(t *testing.T) {
	b := confirmedBooking()
	b.Status = domain.BookingCancelled
	f := newCheckInFixture(b)
	ctx := context.Background()

	scan, err := f.svc.StartScan(ctx, operator)
	require.NoError(t, err)
	snap, _, err := f.svc.Decode(ctx, operator, scan.ID, b.QRCode)
	require.NoError(t, err)
	assert.Equal(t, checkin.StepError, snap.Step)
	assert.Equal(t, []domain.BookingStatus{domain.BookingCancelled}, f.repo.history["b1"])
}

func TestScanningRequiresOperator(t *testing.T) {
	f := newCheckInFixture(confirmedBooking())
	ctx := context.Background()

	_, err := f.svc.StartScan(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.svc.StartScan(ctx, student)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	scan, err := f.svc.StartScan(ctx, operator)
	require.NoError(t, err)

	other := *operator
	other.UserID = "op-2"
	_, err = f.svc.GetScan(ctx, &other, scan.ID)
	assert.ErrorIs(t, err, domain.ErrScanNotFound)
}
