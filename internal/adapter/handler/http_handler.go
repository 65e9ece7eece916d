package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/order-stream/internal/core/domain"
	"github.com/rl1809/order-stream/internal/core/service"
	"github.com/rl1809/order-stream/internal/core/stream"
)

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	orderService *service.OrderService
	channel      *stream.Channel
	log          *zap.Logger
}

type CreateOrderHTTPResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

type FulfillHTTPResponse struct {
	Status string              `json:"status"`
	Order  domain.Order        `json:"order"`
	Stock  []domain.StockLevel `json:"stock"`
}

type ErrorHTTPResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewHTTPHandler(orderService *service.OrderService, channel *stream.Channel, log *zap.Logger) *HTTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{orderService: orderService, channel: channel, log: log}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Post("/orders", h.CreateOrder)
	r.Post("/orders/{code}/fulfill", h.Fulfill)
	r.Post("/create/{code}", h.Fulfill)
	r.Get("/inventory", h.Inventory)
	r.Get("/stream", h.Stream)
	return r
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var lines []domain.LineRequest
	if err := json.NewDecoder(r.Body).Decode(&lines); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{
			Status:  "error",
			Message: "invalid request body",
		})
		return
	}

	code, err := h.orderService.CreateOrderOnce(r.Context(), r.Header.Get(idempotencyHeader), lines)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CreateOrderHTTPResponse{
		Status:  "success",
		OrderID: code,
	})
}

func (h *HTTPHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	result, err := h.orderService.Fulfill(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FulfillHTTPResponse{
		Status: "success",
		Order:  result.Order,
		Stock:  result.Stock,
	})
}

func (h *HTTPHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orderService.Inventory(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sink, err := newSSESink(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	err = h.channel.Serve(r.Context(), sink)
	if err != nil && r.Context().Err() == nil {
		h.log.Info("stream closed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
		message = "order not found"
	case errors.Is(err, domain.ErrDuplicateRequest):
		status = http.StatusConflict
		message = "duplicate request"
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		message = "store unavailable"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	writeJSON(w, status, ErrorHTTPResponse{
		Status:  "error",
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
