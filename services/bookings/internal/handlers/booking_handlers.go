package handlers

import (
	"net/http"

	"github.com/diagnosis/campus-bookings/pkg/logger"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/domain"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/payment"
	"github.com/diagnosis/campus-bookings/services/bookings/internal/service"
	"github.com/go-chi/chi/v5"
)

// CreateBooking stores a pending booking for the selected room and returns it
// with its price breakdown and an open payment sheet.
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBookingReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid JSON format")
		return
	}

	checkout, err := h.bookingService.CreateBooking(r.Context(), session(r), req)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookingService.GetBooking(r.Context(), session(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// StartCheckout resumes payment for an unpaid booking.
func (h *Handlers) StartCheckout(w http.ResponseWriter, r *http.Request) {
	checkout, err := h.bookingService.StartCheckout(r.Context(), session(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookingService.CancelBooking(r.Context(), session(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handlers) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookingService.ConfirmBooking(r.Context(), session(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// --- payment sheet ---

// respondSheet answers with the sheet's state, including alongside an error
// so the client can re-render the step it is still on.
func respondSheet(w http.ResponseWriter, r *http.Request, view service.SheetView, err error) {
	if err != nil {
		var state any
		if view.ID != "" {
			state = view
		}
		writeServiceError(w, r, err, state)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func sheetID(r *http.Request) string {
	return chi.URLParam(r, "sheet")
}

func (h *Handlers) GetSheet(w http.ResponseWriter, r *http.Request) {
	view, err := h.bookingService.GetSheet(r.Context(), session(r), sheetID(r))
	respondSheet(w, r, view, err)
}

type chooseMethodReq struct {
	Method string `json:"method"`
}

func (h *Handlers) ChooseMethod(w http.ResponseWriter, r *http.Request) {
	var req chooseMethodReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid JSON format")
		return
	}
	view, err := h.bookingService.ChooseMethod(r.Context(), session(r), sheetID(r), req.Method)
	respondSheet(w, r, view, err)
}

func (h *Handlers) SetDetails(w http.ResponseWriter, r *http.Request) {
	var req service.PaymentDetails
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid JSON format")
		return
	}
	view, err := h.bookingService.SetDetails(r.Context(), session(r), sheetID(r), req)
	respondSheet(w, r, view, err)
}

// SubmitPayment blocks for the authorization round trip. A declined payment
// is a 200 with step "failed"; PAYMENT_FAILED means the charge went through
// but the booking could not be marked paid.
func (h *Handlers) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	view, err := h.bookingService.SubmitPayment(r.Context(), session(r), sheetID(r))
	if err == nil {
		writeJSON(w, http.StatusOK, view)
		return
	}

	status, body := classify(err)
	if status == http.StatusInternalServerError && view.Step == payment.StepSuccess {
		logger.ErrorContext(r.Context(), "Payment not recorded", "error", err, "reference", view.Reference, "booking_id", view.BookingID)
		body = errorBody{
			Error: "Payment went through but could not be recorded. Contact support with reference " + view.Reference + ".",
			Code:  CodePaymentFailed,
		}
	}
	if view.ID != "" {
		body.State = view
	}
	writeJSON(w, status, body)
}

func (h *Handlers) RetryPayment(w http.ResponseWriter, r *http.Request) {
	view, err := h.bookingService.RetryPayment(r.Context(), session(r), sheetID(r))
	respondSheet(w, r, view, err)
}

func (h *Handlers) SwitchMethod(w http.ResponseWriter, r *http.Request) {
	view, err := h.bookingService.SwitchMethod(r.Context(), session(r), sheetID(r))
	respondSheet(w, r, view, err)
}

// CloseSheet dismisses a sheet at method selection. The response carries
// resumable=true so the client can offer resume or cancel.
func (h *Handlers) CloseSheet(w http.ResponseWriter, r *http.Request) {
	view, err := h.bookingService.CloseSheet(r.Context(), session(r), sheetID(r))
	respondSheet(w, r, view, err)
}

// AbandonSheet is called when the client navigates away mid-payment.
func (h *Handlers) AbandonSheet(w http.ResponseWriter, r *http.Request) {
	if err := h.bookingService.AbandonSheet(r.Context(), session(r), sheetID(r)); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
