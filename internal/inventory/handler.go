package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stocktransfer/internal/identity"
	"github.com/odyssey-erp/stocktransfer/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stock queries and adjustments.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{warehouseID}/{productID}", h.handleOnHand)
	r.Get("/{warehouseID}/{productID}/card", h.handleStockCard)
	r.Post("/adjustments", h.handleAdjustment)
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	warehouseID, productID, err := stockParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.OnHand(r.Context(), actor.CompanyID, productID, warehouseID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	warehouseID, productID, err := stockParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	card, err := h.service.StockCard(r.Context(), actor.CompanyID, productID, warehouseID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": card})
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var input AdjustmentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !CanAdjust(actor, input.WarehouseID) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "actor may not adjust this warehouse")
		return
	}
	input.CompanyID = actor.CompanyID
	input.ActorID = actor.UserID
	entry, err := h.service.PostAdjustment(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

// CanAdjust reports whether the actor may post adjustments at the warehouse.
func CanAdjust(actor identity.Actor, warehouseID int64) bool {
	if actor.Role.IsElevated() {
		return true
	}
	return !actor.Role.IsReadOnly() && actor.WarehouseID != 0 && actor.WarehouseID == warehouseID
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case IsNotFound(err):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, identity.ErrNoDefaultCostCenter):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Missing Branch Configuration", err.Error())
	default:
		h.logger.Error("inventory request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func stockParams(r *http.Request) (int64, int64, error) {
	warehouseID, err := httpx.IDParam(r, "warehouseID")
	if err != nil {
		return 0, 0, err
	}
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		return 0, 0, err
	}
	return warehouseID, productID, nil
}
