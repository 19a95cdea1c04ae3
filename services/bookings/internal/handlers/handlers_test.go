package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/campus-bookings/pkg/auth"
	"github.com/diagnosis/campus-bookings/pkg/config"
	mw "github.com/diagnosis/campus-bookings/pkg/middleware"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/handlers"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/payment"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/service"
)

// ---------- Mocks ----------

type memBookings struct {
	mu   sync.Mutex
	rows map[string]*domain.Booking
}

func (m *memBookings) Create(_ context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.CreatedAt = time.Now()
	cp := *b
	m.rows[b.ID] = &cp
	return nil
}

func (m *memBookings) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.rows[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, domain.ErrBookingNotFound
}

func (m *memBookings) GetByQRCode(_ context.Context, code string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.rows {
		if b.QRCode == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, domain.ErrBookingNotFound
}

func (m *memBookings) MarkPaid(_ context.Context, id, ref string, at time.Time) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	if b.IsPaid() {
		return nil, domain.ErrAlreadyPaid
	}
	if !b.CanTakePayment() {
		return nil, domain.ErrInvalidTransition
	}
	b.PaymentStatus, b.PaymentReference, b.PaidAt = domain.PaymentPaid, &ref, &at
	cp := *b
	return &cp, nil
}

func (m *memBookings) UpdateStatus(_ context.Context, id string, status domain.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.Status = status
	return nil
}

func (m *memBookings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memRooms struct{}

func (memRooms) GetRoom(_ context.Context, id string) (*domain.Room, error) {
	if id != "room-1" {
		return nil, domain.ErrRoomNotFound
	}
	return &domain.Room{ID: id, HostelID: "h1", HostelName: "Volta Hall", RoomType: "1 in a room", MonthlyPrice: 1200}, nil
}

type noopCheckIns struct{}

func (noopCheckIns) Upsert(context.Context, domain.CheckInEvent) error { return nil }

type noopNotifications struct{}

func (noopNotifications) Insert(context.Context, *domain.Notification) error { return nil }

type noopAudit struct{}

func (noopAudit) Insert(context.Context, *domain.AuditRecord) error { return nil }

type noopBus struct{}

func (noopBus) Publish(context.Context, string, any) error { return nil }
func (noopBus) Close() error                               { return nil }

type memIdempotency struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memIdempotency) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memIdempotency) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// ---------- Helpers ----------

const (
	secret     = "handlers-test-secret"
	studentID  = "9b2f4c1d-77aa-4e1b-a0c3-5d2e6f7a8b9c"
	operatorID = "1a1a1a1a-2b2b-4c3c-8d4d-5e5e5e5e5e5e"
)

type testServer struct {
	router   http.Handler
	bookings *memBookings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: secret},
		Pricing: config.PricingConfig{
			PlatformFeePercent: 2, MomoFeePercent: 1.5, MomoFeeCap: 250, Currency: "GHS",
		},
		Booking: config.BookingConfig{QRCodePrefix: "BK"},
	}

	bookings := &memBookings{rows: map[string]*domain.Booking{}}
	bookingSvc := service.NewBookingService(bookings, memRooms{}, noopNotifications{}, payment.NewSimulatedGateway(0, 1), noopBus{}, cfg)
	checkInSvc := service.NewCheckInService(bookings, memRooms{}, noopCheckIns{}, noopNotifications{}, noopAudit{}, noopBus{}, cfg)

	r := chi.NewRouter()
	handlers.New(bookingSvc, checkInSvc, cfg).Routes(r, mw.Idempotency(&memIdempotency{data: map[string]string{}}, time.Hour))
	return &testServer{router: r, bookings: bookings}
}

func token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := auth.NewAccessToken(userID, "user@example.com", role, secret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func createBooking(t *testing.T, s *testServer, tok string) (bookingID, sheetID string) {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/bookings", tok, map[string]string{"room_id": "room-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["booking"].(map[string]any)["id"].(string), body["sheet"].(map[string]any)["id"].(string)
}

// ---------- Tests ----------

func TestRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/bookings", "", map[string]string{"room_id": "room-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/checkin/scans", token(t, studentID, auth.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateBookingAndPay(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, studentID, auth.RoleStudent)

	rec, body := s.do(t, http.MethodPost, "/bookings", tok, map[string]string{"room_id": "room-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 14904.0, body["price"].(map[string]any)["total"])
	booking := body["booking"].(map[string]any)
	assert.Equal(t, "pending", booking["status"])
	assert.Equal(t, "unpaid", booking["payment_status"])
	sheet := body["sheet"].(map[string]any)["id"].(string)

	rec, body = s.do(t, http.MethodPost, "/checkout/"+sheet+"/method", tok, map[string]string{"method": "mobile_money"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "momo_details", body["step"])

	rec, body = s.do(t, http.MethodPut, "/checkout/"+sheet+"/details", tok, map[string]any{
		"mobile_money": map[string]string{"network": "mtn", "phone": "024-412-3456"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0244123456", body["phone"])

	rec, body = s.do(t, http.MethodPost, "/checkout/"+sheet+"/submit", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["step"])
	assert.Regexp(t, `^PS-`, body["reference"])

	rec, body = s.do(t, http.MethodGet, "/bookings/"+booking["id"].(string), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", body["payment_status"])
	assert.Equal(t, "pending", body["status"])
}

func TestCreateBookingErrors(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, studentID, auth.RoleStudent)

	rec, body := s.do(t, http.MethodPost, "/bookings", tok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, handlers.CodeInvalidInput, body["code"])
	assert.Equal(t, "room_id", body["field"])

	rec, body = s.do(t, http.MethodPost, "/bookings", tok, map[string]string{"room_id": "room-9"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "room not found", body["error"])

	assert.Zero(t, s.bookings.count())
}

func TestInvalidCardReturnsFieldAndState(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, studentID, auth.RoleStudent)
	_, sheet := createBooking(t, s, tok)

	s.do(t, http.MethodPost, "/checkout/"+sheet+"/method", tok, map[string]string{"method": "card"})
	s.do(t, http.MethodPut, "/checkout/"+sheet+"/details", tok, map[string]any{
		"card": map[string]string{"holder_name": "Ama", "number": "4111 1111 1111", "expiry": "0928", "cvv": "123"},
	})

	rec, body := s.do(t, http.MethodPost, "/checkout/"+sheet+"/submit", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "card_number", body["field"])
	assert.Equal(t, "card_details", body["state"].(map[string]any)["step"])
}

func TestCloseThenCancel(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, studentID, auth.RoleStudent)
	bookingID, sheet := createBooking(t, s, tok)

	rec, body := s.do(t, http.MethodPost, "/checkout/"+sheet+"/close", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["resumable"])
	assert.Equal(t, bookingID, body["booking_id"])

	rec, body = s.do(t, http.MethodPost, "/bookings/"+bookingID+"/cancel", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])

	rec, body = s.do(t, http.MethodPost, "/bookings/"+bookingID+"/checkout", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, handlers.CodeConflict, body["code"])
}

func TestSubmitAfterCancelIsRejected(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, studentID, auth.RoleStudent)
	bookingID, sheet := createBooking(t, s, tok)

	s.do(t, http.MethodPost, "/checkout/"+sheet+"/method", tok, map[string]string{"method": "mobile_money"})
	s.do(t, http.MethodPut, "/checkout/"+sheet+"/details", tok, map[string]any{
		"mobile_money": map[string]string{"phone": "0244123456"},
	})

	rec, _ := s.do(t, http.MethodPost, "/bookings/"+bookingID+"/cancel", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/checkout/"+sheet+"/submit", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stored, err := s.bookings.GetByID(context.Background(), bookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, stored.Status)
	assert.False(t, stored.IsPaid())
}

func TestCreateBookingIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, studentID, auth.RoleStudent)

	first, _ := s.do(t, http.MethodPost, "/bookings", tok, map[string]string{"room_id": "room-1"}, "Idempotency-Key", "abc")
	second, _ := s.do(t, http.MethodPost, "/bookings", tok, map[string]string{"room_id": "room-1"}, "Idempotency-Key", "abc")

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, s.bookings.count())
}

func TestScanCheckInFlow(t *testing.T) {
	s := newTestServer(t)
	studentTok := token(t, studentID, auth.RoleStudent)
	opTok := token(t, operatorID, auth.RoleOperator)

	bookingID, _ := createBooking(t, s, studentTok)
	rec, _ := s.do(t, http.MethodPost, "/operator/bookings/"+bookingID+"/confirm", opTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := s.bookings.GetByID(context.Background(), bookingID)
	require.NoError(t, err)

	rec, body := s.do(t, http.MethodPost, "/checkin/scans", opTok, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	scan := body["id"].(string)
	assert.Equal(t, "scanning", body["step"])

	rec, body = s.do(t, http.MethodPost, "/checkin/scans/"+scan+"/decode", opTok, map[string]string{"text": stored.QRCode})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "found", body["step"])
	assert.Equal(t, "Confirm Check-In", body["label"])
	assert.Equal(t, false, body["ignored"])

	_, body = s.do(t, http.MethodPost, "/checkin/scans/"+scan+"/decode", opTok, map[string]string{"text": "other"})
	assert.Equal(t, true, body["ignored"])

	rec, body = s.do(t, http.MethodPost, "/checkin/scans/"+scan+"/confirm", opTok, nil, handlers.PlatformHeader, "ios")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["step"])

	stored, err = s.bookings.GetByID(context.Background(), bookingID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCheckedIn, stored.Status)

	rec, _ = s.do(t, http.MethodPost, "/checkin/scans/"+scan+"/confirm", opTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
