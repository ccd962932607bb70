package turn_api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-turnos/internal/auth"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/models"
	"ms-turnos/internal/notify"
	"ms-turnos/internal/turns/service"
	"ms-turnos/internal/utils"
)

type Middleware = func(http.Handler) http.Handler

type Handler struct {
	Engine  *service.Engine
	Sweeper *service.Sweeper
	Hub     *notify.Hub
	Logger  *logger.Logger
}

// RegisterRoutes mounts the ticket API under /api. authn must establish the
// caller's user id; staff must additionally require the staff role.
func (h *Handler) RegisterRoutes(r chi.Router, authn, staff Middleware) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/turns/public", h.RequestPublicTicket)
		r.Get("/turns/current", h.CurrentTicket)
		r.Get("/turns/events", h.StreamEvents)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Post("/turns", h.RequestTicket)
			r.Get("/turns/mine", h.ListMyTickets)
			r.Get("/penalties/mine", h.ListMyPenalties)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authn, staff)
			r.Get("/turns", h.ListAllTickets)
			r.Post("/turns/{id}/pass", h.PassTicket)
			r.Post("/turns/{id}/deliver", h.DeliverTicket)
			r.Post("/turns/{id}/unpenalize", h.UnpenalizeTicket)
			r.Get("/penalties", h.ListAllPenalties)
			r.Post("/sweep", h.SweepNow)
			r.Post("/users/{id}/notify", h.NotifyUser)
		})
	})
}

func (h *Handler) RequestTicket(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTurnRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	turn, err := h.Engine.RequestTicket(r.Context(), service.TicketRequest{
		UserID:       auth.UserID(r.Context()),
		VenueID:      req.VenueID,
		RotatingCode: req.RotatingCode,
		Simulated:    req.Simulated,
	})
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("POST /api/turns rejected: %v", err))
		utils.WriteAppError(w, "Ticket request rejected", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Ticket issued", turn)
}

// RequestPublicTicket serves the kiosk, where the student types a code instead of logging in.
func (h *Handler) RequestPublicTicket(w http.ResponseWriter, r *http.Request) {
	var req models.PublicTurnRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	turn, err := h.Engine.RequestTicket(r.Context(), service.TicketRequest{
		StudentCode:  req.StudentCode,
		VenueID:      req.VenueID,
		RotatingCode: req.RotatingCode,
	})
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("POST /api/turns/public rejected: %v", err))
		utils.WriteAppError(w, "Ticket request rejected", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Ticket issued", turn)
}

func (h *Handler) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	turns, err := h.Engine.ListTicketsForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteAppError(w, "Failed to fetch tickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tickets retrieved", turns)
}

// CurrentTicket returns data=null when the queue is empty.
func (h *Handler) CurrentTicket(w http.ResponseWriter, r *http.Request) {
	turn, err := h.Engine.CurrentTicket(r.Context())
	if err != nil {
		utils.WriteAppError(w, "Failed to fetch current ticket", err)
		return
	}
	if turn == nil {
		utils.WriteSuccess(w, http.StatusOK, "Queue is empty", nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Current ticket", turn)
}

func (h *Handler) ListMyPenalties(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListActivePenaltiesForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		utils.WriteAppError(w, "Failed to fetch penalties", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Penalties retrieved", list)
}

func (h *Handler) ListAllTickets(w http.ResponseWriter, r *http.Request) {
	turns, err := h.Engine.ListAllTickets(r.Context())
	if err != nil {
		utils.WriteAppError(w, "Failed to fetch tickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tickets retrieved", turns)
}

func (h *Handler) PassTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pass", h.Engine.Pass)
}

func (h *Handler) DeliverTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "deliver", h.Engine.Deliver)
}

func (h *Handler) UnpenalizeTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "unpenalize", h.Engine.Unpenalize)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, apply func(ctx context.Context, id int64) (*models.Turn, error)) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		utils.WriteError(w, http.StatusBadRequest, "Invalid ticket id", chi.URLParam(r, "id"))
		return
	}

	turn, err := apply(r.Context(), id)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("%s on ticket %d failed: %v", action, id, err))
		utils.WriteAppError(w, fmt.Sprintf("Failed to %s ticket", action), err)
		return
	}
	h.Logger.LogTurn(action, id, "by "+auth.UserID(r.Context()))
	utils.WriteSuccess(w, http.StatusOK, "Ticket updated", turn)
}

func (h *Handler) ListAllPenalties(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListAllPenalties(r.Context())
	if err != nil {
		utils.WriteAppError(w, "Failed to fetch penalties", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Penalties retrieved", list)
}

func (h *Handler) SweepNow(w http.ResponseWriter, r *http.Request) {
	report, err := h.Sweeper.Sweep(r.Context())
	if err != nil {
		utils.WriteAppError(w, "Sweep failed", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Sweep completed", report)
}

func (h *Handler) NotifyUser(w http.ResponseWriter, r *http.Request) {
	var req models.NotifyUserRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	msg, err := h.Engine.NotifyUser(r.Context(), chi.URLParam(r, "id"), req.Title, req.Body)
	if err != nil {
		utils.WriteAppError(w, "Failed to notify user", err)
		return
	}
	utils.WriteSuccess(w, http.StatusAccepted, "Notification queued", msg)
}
