package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/campus-bookings/pkg/auth"
	"github.com/diagnosis/campus-bookings/pkg/config"
	"github.com/diagnosis/campus-bookings/pkg/logger"
	mw "github.com/diagnosis/campus-bookings/pkg/middleware"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/checkin"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/payment"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/service"
	"github.com/go-chi/chi/v5"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodePaymentFailed = "PAYMENT_FAILED"
	CodeInternal      = "INTERNAL"
)

type Handlers struct {
	bookingService service.BookingService
	checkInService service.CheckInService
	config         *config.Config
}

func New(bookingService service.BookingService, checkInService service.CheckInService, cfg *config.Config) *Handlers {
	return &Handlers{
		bookingService: bookingService,
		checkInService: checkInService,
		config:         cfg,
	}
}

// Routes mounts the API on r. createMW wraps booking creation only, which is
// where replayed submissions would otherwise create duplicate bookings.
func (h *Handlers) Routes(r chi.Router, createMW ...func(http.Handler) http.Handler) {
	secret := h.config.Auth.JWTSecret

	// Students, operators and admins
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth(secret))

		r.With(createMW...).Post("/bookings", h.CreateBooking)
		r.Get("/bookings/{id}", h.GetBooking)
		r.Post("/bookings/{id}/checkout", h.StartCheckout)
		r.Post("/bookings/{id}/cancel", h.CancelBooking)

		r.Route("/checkout/{sheet}", func(r chi.Router) {
			r.Get("/", h.GetSheet)
			r.Delete("/", h.AbandonSheet)
			r.Post("/method", h.ChooseMethod)
			r.Put("/details", h.SetDetails)
			r.Post("/submit", h.SubmitPayment)
			r.Post("/retry", h.RetryPayment)
			r.Post("/switch", h.SwitchMethod)
			r.Post("/close", h.CloseSheet)
		})
	})

	// Property operators
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth(secret, auth.RoleOperator))

		r.Post("/operator/bookings/{id}/confirm", h.ConfirmBooking)

		r.Post("/checkin/scans", h.StartScan)
		r.Route("/checkin/scans/{id}", func(r chi.Router) {
			r.Get("/", h.GetScan)
			r.Post("/decode", h.DecodeScan)
			r.Post("/confirm", h.ConfirmScan)
			r.Post("/reset", h.ResetScan)
		})
	})
}

func session(r *http.Request) *auth.Session {
	return auth.SessionFrom(r.Context())
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// Helper functions for common response patterns
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
	// State is the payment sheet or scanner after a rejected action.
	State any `json:"state,omitempty"`
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: message, Code: code})
}

// writeServiceError maps a service error to a status code and body. Errors
// that match nothing known are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, state any) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
	}
	body.State = state
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	var fe *domain.FieldError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadRequest, errorBody{Error: fe.Message, Code: CodeInvalidInput, Field: fe.Field}
	case errors.Is(err, domain.ErrNoRoomSelected):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: CodeInvalidInput, Field: "room_id"}
	case errors.Is(err, domain.ErrPriceUnavailable):
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: CodeInvalidInput, Field: "room_id"}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, errorBody{Error: err.Error(), Code: CodeUnauthorized}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: err.Error(), Code: CodeForbidden}
	case errors.Is(err, domain.ErrBookingNotFound),
		errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrSheetNotFound),
		errors.Is(err, domain.ErrScanNotFound):
		return http.StatusNotFound, errorBody{Error: rootMessage(err), Code: CodeNotFound}
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, payment.ErrInvalidStep),
		errors.Is(err, payment.ErrModal),
		errors.Is(err, payment.ErrBusy),
		errors.Is(err, payment.ErrClosed),
		errors.Is(err, payment.ErrAbandoned),
		errors.Is(err, checkin.ErrInvalidStep):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: CodeConflict}
	default:
		return http.StatusInternalServerError, errorBody{Error: "Something went wrong. Please try again.", Code: CodeInternal}
	}
}

// rootMessage drops wrapping context so not-found bodies read "booking not
// found" rather than the internal call chain.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
