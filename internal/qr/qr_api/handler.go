package qr_api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-turnos/internal/logger"
	"ms-turnos/internal/models"
	"ms-turnos/internal/qr"
	"ms-turnos/internal/turns/service"
	"ms-turnos/internal/utils"
)

type VenueDirectory interface {
	ByID(ctx context.Context, id int64) (*models.Venue, error)
	First(ctx context.Context) (*models.Venue, error)
}

type Handler struct {
	Generator *qr.Generator
	Venues    VenueDirectory
	Engine    *service.Engine
	Logger    *logger.Logger
}

type currentCodeResponse struct {
	VenueID   int64     `json:"venue_id"`
	VenueName string    `json:"venue_name"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) RegisterRoutes(r chi.Router, authn, staff func(http.Handler) http.Handler) {
	r.Get("/api/qr/current", h.GetCurrentCode)
	r.With(authn).Post("/api/qr/validate", h.ValidateCode)
	r.With(authn, staff).Get("/api/admin/qr/history", h.GetHistory)
}

// GetCurrentCode serves the venue display. format=png returns the QR image
// instead of JSON. Without venue_id the first venue is used.
func (h *Handler) GetCurrentCode(w http.ResponseWriter, r *http.Request) {
	venue, ok := h.venueFromQuery(w, r)
	if !ok {
		return
	}

	code, err := h.Generator.GetOrCreate(r.Context(), venue.ID, 0)
	if err != nil {
		h.Logger.Error("QR", fmt.Sprintf("Failed to get code for venue %d: %v", venue.ID, err))
		utils.WriteAppError(w, "Failed to get rotating code", err)
		return
	}

	if r.URL.Query().Get("format") == "png" {
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))
		png, err := qr.RenderPNG(code.Code, size)
		if err != nil {
			utils.WriteAppError(w, "Failed to render QR", err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
		return
	}

	utils.WriteSuccess(w, http.StatusOK, "Current rotating code", currentCodeResponse{
		VenueID:   venue.ID,
		VenueName: venue.Name,
		Code:      code.Code,
		ExpiresAt: code.ExpiresAt,
	})
}

// ValidateCode always answers 200 for a well-formed request; validity is in the body.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateCodeRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	resp, err := h.Engine.ValidateRotatingCode(r.Context(), req.VenueID, req.Code)
	if err != nil {
		utils.WriteAppError(w, "Failed to validate code", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Code checked", resp)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	venue, ok := h.venueFromQuery(w, r)
	if !ok {
		return
	}

	codes, err := h.Generator.History(r.Context(), venue.ID)
	if err != nil {
		utils.WriteAppError(w, "Failed to fetch code history", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Code history", codes)
}

func (h *Handler) venueFromQuery(w http.ResponseWriter, r *http.Request) (*models.Venue, bool) {
	raw := r.URL.Query().Get("venue_id")
	if raw == "" {
		venue, err := h.Venues.First(r.Context())
		if err != nil {
			utils.WriteAppError(w, "No venue available", err)
			return nil, false
		}
		return venue, true
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		utils.WriteError(w, http.StatusBadRequest, "Invalid venue_id", raw)
		return nil, false
	}
	venue, err := h.Venues.ByID(r.Context(), id)
	if err != nil {
		utils.WriteAppError(w, "Venue not found", err)
		return nil, false
	}
	return venue, true
}
