package handlers

import (
	"net/http"
	"strings"

	"github.com/diagnosis/campus-bookings/services/bookings/internal/checkin"
	"github.com/go-chi/chi/v5"
)

// PlatformHeader names the client platform recorded on audit entries.
const PlatformHeader = "X-Client-Platform"

func scanID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func respondScan(w http.ResponseWriter, r *http.Request, snap checkin.Snapshot, err error) {
	if err != nil {
		var state any
		if snap.ID != "" {
			state = snap
		}
		writeServiceError(w, r, err, state)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// StartScan opens a scanner session ready for its first code.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	snap, err := h.checkInService.StartScan(r.Context(), session(r))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handlers) GetScan(w http.ResponseWriter, r *http.Request) {
	snap, err := h.checkInService.GetScan(r.Context(), session(r), scanID(r))
	respondScan(w, r, snap, err)
}

type decodeReq struct {
	Text string `json:"text"`
}

type decodeResp struct {
	checkin.Snapshot
	Ignored bool `json:"ignored"`
}

// DecodeScan feeds one decoded QR string to the scanner. Codes arriving after
// one was accepted are ignored until reset and reported with ignored=true.
func (h *Handlers) DecodeScan(w http.ResponseWriter, r *http.Request) {
	var req decodeReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid JSON format")
		return
	}

	snap, accepted, err := h.checkInService.Decode(r.Context(), session(r), scanID(r), req.Text)
	if err != nil {
		respondScan(w, r, snap, err)
		return
	}
	writeJSON(w, http.StatusOK, decodeResp{Snapshot: snap, Ignored: !accepted})
}

// ConfirmScan applies the check-in or check-out. A 200 may still carry
// warnings for side effects that did not land.
func (h *Handlers) ConfirmScan(w http.ResponseWriter, r *http.Request) {
	platform := strings.TrimSpace(r.Header.Get(PlatformHeader))
	if platform == "" {
		platform = "api"
	}
	snap, err := h.checkInService.Confirm(r.Context(), session(r), scanID(r), platform)
	respondScan(w, r, snap, err)
}

func (h *Handlers) ResetScan(w http.ResponseWriter, r *http.Request) {
	snap, err := h.checkInService.Reset(r.Context(), session(r), scanID(r))
	respondScan(w, r, snap, err)
}
