package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quartermaster-erp/quartermaster/internal/platform/httpx"
	"github.com/quartermaster-erp/quartermaster/internal/shared"
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/levels", h.listLevels)
	r.Get("/levels/{itemID}/{warehouseID}", h.getLevel)
	r.Get("/levels/{itemID}/{warehouseID}/available", h.getAvailable)
	r.Post("/reservations", h.reserve)
	r.Post("/reservations/release", h.release)
	r.Get("/transactions", h.listTransactions)
	r.Get("/transactions/{id}", h.getTransaction)
	r.Post("/transactions", h.createDraft)
	r.Post("/transactions/{id}/post", h.post)
	r.Post("/movements", h.execute)
}

func (h *Handler) listLevels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := LevelFilter{Limit: 100}
	if v := q.Get("item_id"); v != "" {
		filter.ItemID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("warehouse_id"); v != "" {
		filter.WarehouseID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	levels, err := h.service.ListLevels(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list levels", err)
		return
	}
	out := make([]levelResponse, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, toLevelResponse(lvl))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"levels": out})
}

func (h *Handler) getLevel(w http.ResponseWriter, r *http.Request) {
	itemID, warehouseID, ok := levelParams(w, r)
	if !ok {
		return
	}
	lvl, err := h.service.GetLevel(r.Context(), itemID, warehouseID)
	if err != nil {
		h.respondError(w, "get level", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLevelResponse(lvl))
}

func (h *Handler) getAvailable(w http.ResponseWriter, r *http.Request) {
	itemID, warehouseID, ok := levelParams(w, r)
	if !ok {
		return
	}
	avail, err := h.service.Available(r.Context(), itemID, warehouseID)
	if err != nil {
		h.respondError(w, "get available", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":      itemID,
		"warehouse_id": warehouseID,
		"available":    avail.String(),
	})
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeReserve(w, r)
	if !ok {
		return
	}
	lvl, err := h.service.Reserve(r.Context(), input)
	if err != nil {
		h.respondError(w, "reserve", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLevelResponse(lvl))
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeReserve(w, r)
	if !ok {
		return
	}
	lvl, err := h.service.Release(r.Context(), input)
	if err != nil {
		h.respondError(w, "release", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLevelResponse(lvl))
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}
	entry, err := h.service.CreateDraft(r.Context(), input)
	if err != nil {
		h.respondError(w, "create draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionResponse(entry))
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transaction id must be numeric")
		return
	}
	var req postRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
			return
		}
	}
	entry, err := h.service.Post(r.Context(), id, req.ActorID)
	if err != nil {
		h.respondError(w, "post transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(entry))
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeMovement(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Execute(r.Context(), input)
	if err != nil {
		h.respondError(w, "execute movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionResponse(entry))
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transaction id must be numeric")
		return
	}
	entry, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondError(w, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(entry))
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := LedgerFilter{Limit: 100}
	if v := q.Get("item_id"); v != "" {
		filter.ItemID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("warehouse_id"); v != "" {
		filter.WarehouseID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("from"); v != "" {
		if ts, err := time.Parse("2006-01-02", v); err == nil {
			filter.From = ts
		}
	}
	if v := q.Get("to"); v != "" {
		if ts, err := time.Parse("2006-01-02", v); err == nil {
			filter.To = ts.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	entries, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list transactions", err)
		return
	}
	out := make([]transactionResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toTransactionResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (h *Handler) decodeReserve(w http.ResponseWriter, r *http.Request) (ReserveInput, bool) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return ReserveInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return ReserveInput{}, false
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
		return ReserveInput{}, false
	}
	return input, true
}

func (h *Handler) decodeMovement(w http.ResponseWriter, r *http.Request) (DraftInput, bool) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return DraftInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return DraftInput{}, false
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return DraftInput{}, false
	}
	return input, true
}

func levelParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return 0, 0, false
	}
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "warehouse id must be numeric")
		return 0, 0, false
	}
	return itemID, warehouseID, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var insufficient *InsufficientStockError
	var negative *NegativeStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", insufficient.Error())
	case errors.As(err, &negative):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Negative Stock", negative.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrSameWarehouse):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Movement", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this movement was already submitted")
	case errors.Is(err, ErrLockTimeout), errors.Is(err, ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "stock row is busy, retry the operation")
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
