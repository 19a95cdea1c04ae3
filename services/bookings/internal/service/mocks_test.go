package service

import (
	"context"
	"sync"
	"time"

	"github.com/diagnosis/campus-bookings/pkg/auth"
	"github.com/diagnosis/campus-bookings/pkg/config"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/payment"
)

// ---------- Mocks ----------

type mockBookingRepo struct {
	mu        sync.Mutex
	bookings  map[string]*domain.Booking
	history   map[string][]domain.BookingStatus
	createErr error
	statusErr error
}

func newMockBookingRepo() *mockBookingRepo {
	return &mockBookingRepo{
		bookings: make(map[string]*domain.Booking),
		history:  make(map[string][]domain.BookingStatus),
	}
}

func (m *mockBookingRepo) Create(_ context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	cp.HostelName, cp.RoomType = "", ""
	m.bookings[b.ID] = &cp
	m.history[b.ID] = []domain.BookingStatus{b.Status}
	return nil
}

func (m *mockBookingRepo) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBookingRepo) GetByQRCode(_ context.Context, code string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.QRCode == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, domain.ErrBookingNotFound
}

func (m *mockBookingRepo) MarkPaid(_ context.Context, id, reference string, paidAt time.Time) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	if b.IsPaid() {
		return nil, domain.ErrAlreadyPaid
	}
	if !b.CanTakePayment() {
		return nil, domain.ErrInvalidTransition
	}
	b.PaymentStatus = domain.PaymentPaid
	b.PaymentReference = &reference
	b.PaidAt = &paidAt
	cp := *b
	return &cp, nil
}

func (m *mockBookingRepo) UpdateStatus(_ context.Context, id string, status domain.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	b, ok := m.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.Status = status
	m.history[id] = append(m.history[id], status)
	return nil
}

func (m *mockBookingRepo) put(b *domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	m.history[b.ID] = []domain.BookingStatus{b.Status}
}

func (m *mockBookingRepo) get(id string) domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

type mockRooms map[string]*domain.Room

func (m mockRooms) GetRoom(_ context.Context, id string) (*domain.Room, error) {
	r, ok := m[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

type mockCheckInRepo struct {
	mu     sync.Mutex
	events []domain.CheckInEvent
	err    error
}

func (m *mockCheckInRepo) Upsert(_ context.Context, ev domain.CheckInEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

type mockNotificationRepo struct {
	mu    sync.Mutex
	items []*domain.Notification
	err   error
}

func (m *mockNotificationRepo) Insert(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, n)
	return nil
}

type mockAuditRepo struct {
	mu    sync.Mutex
	items []*domain.AuditRecord
	err   error
}

func (m *mockAuditRepo) Insert(_ context.Context, rec *domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, rec)
	return nil
}

type mockBus struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
	err      error
}

func (m *mockBus) Publish(_ context.Context, subject string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	m.payloads = append(m.payloads, data)
	return m.err
}

func (m *mockBus) Close() error { return nil }

func (m *mockBus) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subjects...)
}

// countingGateway wraps a gateway, counts authorizations and, when hold is
// set, blocks each one until hold is closed.
type countingGateway struct {
	payment.Gateway
	hold chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *countingGateway) Authorize(ctx context.Context, c payment.Charge) (payment.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.hold != nil {
		<-g.hold
	}
	return g.Gateway.Authorize(ctx, c)
}

func (g *countingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// ---------- Fixtures ----------

func testConfig() *config.Config {
	return &config.Config{
		Pricing: config.PricingConfig{
			PlatformFeePercent: 2,
			MomoFeePercent:     1.5,
			MomoFeeCap:         250,
			Currency:           "GHS",
		},
		Booking: config.BookingConfig{QRCodePrefix: "BK"},
	}
}

func testRooms() mockRooms {
	return mockRooms{
		"room-1": {ID: "room-1", HostelID: "h1", HostelName: "Volta Hall", RoomType: "1 in a room", MonthlyPrice: 1200},
		"room-4": {ID: "room-4", HostelID: "h1", HostelName: "Volta Hall", RoomType: "4 in a room", MonthlyPrice: 1000},
		"free":   {ID: "free", HostelID: "h1", HostelName: "Volta Hall", RoomType: "Single", MonthlyPrice: 0},
	}
}

var (
	student  = &auth.Session{UserID: "9b2f4c1d-77aa-4e1b-a0c3-5d2e6f7a8b9c", Email: "ama@example.com", Role: auth.RoleStudent}
	stranger = &auth.Session{UserID: "0c0c0c0c-0000-4000-8000-000000000000", Role: auth.RoleStudent}
	operator = &auth.Session{UserID: "op-1", Role: auth.RoleOperator}
)
