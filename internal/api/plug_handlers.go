package api

import (
	"fmt"
	"net/http"

	"github.com/smukkama/heating-monitor/internal/plug"
	"github.com/smukkama/heating-monitor/internal/protocol"
)

// GET /api/plug/desired, polled by the device
func (h *Handler) getDesired(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.plug.DesiredForDevice(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondData(w, http.StatusOK, "", cmd)
}

// GET /api/plug/status
func (h *Handler) getPlugStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.plug.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondData(w, http.StatusOK, "", rec)
}

// PUT /api/plug/desired
func (h *Handler) setDesired(w http.ResponseWriter, r *http.Request) {
	var req protocol.StateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.State == "" {
		respondError(w, http.StatusBadRequest, `state is required ("on" or "off")`)
		return
	}

	rec, err := h.plug.SetDesired(r.Context(), plug.State(req.State))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondData(w, http.StatusOK, fmt.Sprintf("heating set to %q", req.State), rec)
}

// POST /api/plug/reported, sent by the device after switching
func (h *Handler) reportState(w http.ResponseWriter, r *http.Request) {
	var req protocol.StateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.State == "" {
		respondError(w, http.StatusBadRequest, "state is required")
		return
	}

	rec, err := h.plug.ReportState(r.Context(), plug.State(req.State))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondData(w, http.StatusOK, "state updated", rec)
}

// PUT /api/plug/mode
func (h *Handler) setMode(w http.ResponseWriter, r *http.Request) {
	var req protocol.ModeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Mode == "" {
		respondError(w, http.StatusBadRequest, `mode is required ("manual" or "auto")`)
		return
	}

	rec, err := h.plug.SetMode(r.Context(), plug.ModeUpdate{
		Mode:       plug.Mode(req.Mode),
		Threshold:  req.TemperatureThreshold,
		Hysteresis: req.Hysteresis,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	message := fmt.Sprintf("mode set to %q", req.Mode)
	if req.TemperatureThreshold != nil {
		message += fmt.Sprintf(" (threshold: %g°C)", *req.TemperatureThreshold)
	}
	if req.Hysteresis != nil {
		message += fmt.Sprintf(" (hysteresis: %g°C)", *req.Hysteresis)
	}
	respondData(w, http.StatusOK, message, rec)
}
