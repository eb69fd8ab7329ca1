package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptmeter/internal/model"
	"promptmeter/internal/service"
)

type Handler struct {
	svc service.FulfillmentService
}

func NewHandler(svc service.FulfillmentService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /requests", h.Fulfill)
	mux.HandleFunc("GET /balance", h.GetBalance)
	mux.HandleFunc("POST /credit", h.Credit)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Fulfill runs one request through the orchestrator. The body is always the
// outcome; the status code mirrors its kind.
func (h *Handler) Fulfill(w http.ResponseWriter, r *http.Request) {
	var req model.FulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.UserID <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		h.respondError(w, http.StatusBadRequest, model.ErrEmptyPrompt.Error())
		return
	}

	out := h.svc.HandleRequest(r.Context(), req.UserID, req.Profile(), text)
	h.respondJSON(w, outcomeStatus(out.Kind), out)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	acc, err := h.svc.Lookup(r.Context(), userID)
	if errors.Is(err, model.ErrAccountNotFound) {
		h.respondError(w, http.StatusNotFound, service.ErrorCode(err))
		return
	}
	if err != nil {
		slog.Error("http: balance lookup failed", "user_id", userID, "error", err)
		h.respondError(w, http.StatusServiceUnavailable, service.ErrorCode(err))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"balance":        acc.Balance,
		"total_requests": acc.TotalRequests,
	})
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req model.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := h.svc.Credit(r.Context(), req)
	if err != nil {
		status := http.StatusServiceUnavailable
		if service.IsClientError(err) {
			status = http.StatusUnprocessableEntity
		} else {
			slog.Error("http: credit failed", "user_id", req.UserID, "error", err)
		}
		h.respondError(w, status, service.ErrorCode(err))
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func outcomeStatus(kind model.OutcomeKind) int {
	switch kind {
	case model.OutcomeFulfilled:
		return http.StatusOK
	case model.OutcomeInsufficientBalance:
		return http.StatusPaymentRequired
	case model.OutcomeGatewayFailure:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
