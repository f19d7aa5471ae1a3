package transfer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stocktransfer/internal/identity"
	"github.com/odyssey-erp/stocktransfer/internal/platform/httpx"
)

// Handler exposes the transfer workflow over JSON.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	validate *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.simple(h.engine.Delete))
		r.Get("/ledger", h.handleLedger)
		r.Post("/submit", h.simple(h.engine.Submit))
		r.Post("/approve", h.simple(h.engine.Approve))
		r.Post("/resubmit", h.simple(h.engine.Resubmit))
		r.Post("/start", h.simple(h.engine.Start))
		r.Post("/reject", h.withReason(h.engine.Reject, true))
		r.Post("/cancel", h.withReason(h.engine.Cancel, false))
		r.Post("/receive", h.handleReceive)
	})
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type receiveRequest struct {
	Lines []receiveLine `json:"lines" validate:"dive"`
}

type receiveLine struct {
	LineID      int64           `json:"line_id" validate:"required,gt=0"`
	QtyReceived decimal.Decimal `json:"qty_received"`
}

type listResponse struct {
	Items  []Transfer `json:"items"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.engine.Create(r.Context(), actor, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	items, total, err := h.engine.List(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []Transfer{}
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Total: total, Limit: limit, Offset: filter.Offset})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.engine.Get(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.engine.LedgerEntries(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var received map[int64]decimal.Decimal
	if len(req.Lines) > 0 {
		received = make(map[int64]decimal.Decimal, len(req.Lines))
		for _, l := range req.Lines {
			received[l.LineID] = l.QtyReceived
		}
	}
	res, err := h.engine.Receive(r.Context(), actor, id, received)
	h.respond(w, r, res, err)
}

type transitionFunc func(ctx context.Context, actor identity.Actor, id int64) (Result, error)

type reasonTransitionFunc func(ctx context.Context, actor identity.Actor, id int64, reason string) (Result, error)

func (h *Handler) simple(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		res, err := fn(r.Context(), actor, id)
		h.respond(w, r, res, err)
	}
}

func (h *Handler) withReason(fn reasonTransitionFunc, required bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req reasonRequest
		if required {
			err = httpx.DecodeJSON(r, &req)
		} else {
			err = decodeOptional(r, &req)
		}
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		res, err := fn(r.Context(), actor, id, req.Reason)
		h.respond(w, r, res, err)
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res Result, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
	}
	return actor, ok
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var shortage *InsufficientStockError
	switch {
	case errors.As(err, &shortage):
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error(), shortage.Shortfalls)
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrMissingBranchConfiguration):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Missing Branch Configuration", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("transfer request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Store Failure", "")
	}
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return httpx.DecodeJSON(r, target)
}
