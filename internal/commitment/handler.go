package commitment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/quartermaster-erp/quartermaster/internal/platform/httpx"
	"github.com/quartermaster-erp/quartermaster/internal/stock"
)

// Handler wires HTTP endpoints for the commitment workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs commitment handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers commitment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/demand-lines", h.createDemandLine)
	r.Get("/demand-lines/{id}", h.getDemandLine)
	r.Get("/demand-lines/{id}/outstanding", h.getOutstanding)
	r.Get("/", h.list)
	r.Post("/", h.commit)
	r.Post("/batch", h.commitMany)
	r.Get("/{id}", h.get)
	r.Post("/{id}/fulfill", h.fulfill)
	r.Post("/{id}/cancel", h.cancel)
}

func (h *Handler) createDemandLine(w http.ResponseWriter, r *http.Request) {
	var req demandLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	line, err := req.toLine()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
		return
	}
	created, err := h.service.CreateDemandLine(r.Context(), line)
	if err != nil {
		h.respondError(w, "create demand line", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDemandLineResponse(created))
}

func (h *Handler) getDemandLine(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "demand line id must be numeric")
		return
	}
	line, err := h.service.GetDemandLine(r.Context(), id)
	if err != nil {
		h.respondError(w, "get demand line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDemandLineResponse(line))
}

func (h *Handler) getOutstanding(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "demand line id must be numeric")
		return
	}
	outstanding, err := h.service.ComputeOutstanding(r.Context(), id)
	if err != nil {
		h.respondError(w, "compute outstanding", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"demand_line_id": id,
		"outstanding":    outstanding.String(),
	})
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", err.Error())
		return
	}
	c, err := h.service.Commit(r.Context(), input)
	if err != nil {
		h.respondError(w, "commit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCommitmentResponse(c))
}

func (h *Handler) commitMany(w http.ResponseWriter, r *http.Request) {
	var req commitManyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	inputs := make([]CommitInput, 0, len(req.Commitments))
	for i, cr := range req.Commitments {
		input, err := cr.toInput()
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Quantity", "commitment "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		inputs = append(inputs, input)
	}
	created, err := h.service.CommitMany(r.Context(), inputs)
	if err != nil {
		h.respondError(w, "commit batch", err)
		return
	}
	out := make([]commitmentResponse, 0, len(created))
	for _, c := range created {
		out = append(out, toCommitmentResponse(c))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"commitments": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := commitmentID(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetCommitment(r.Context(), id)
	if err != nil {
		h.respondError(w, "get commitment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCommitmentResponse(c))
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := commitmentID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Fulfill(r.Context(), id)
	if err != nil {
		h.respondError(w, "fulfill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCommitmentResponse(c))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := commitmentID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.respondError(w, "cancel", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCommitmentResponse(c))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Limit: 100}
	if v := q.Get("demand_line_id"); v != "" {
		filter.DemandLineID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("status"); v != "" {
		filter.Status = Status(v)
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
	commitments, err := h.service.ListCommitments(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list commitments", err)
		return
	}
	out := make([]commitmentResponse, 0, len(commitments))
	for _, c := range commitments {
		out = append(out, toCommitmentResponse(c))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"commitments": out})
}

func commitmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "commitment id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var exceeds *ExceedsOutstandingError
	var insufficient *stock.InsufficientStockError
	switch {
	case errors.As(err, &exceeds):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Exceeds Outstanding", exceeds.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, stock.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Quantity", err.Error())
	case errors.Is(err, ErrAlreadyFulfilled), errors.Is(err, ErrCancelled):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, stock.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, stock.ErrLockTimeout), errors.Is(err, stock.ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "stock row is busy, retry the operation")
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
