package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/model"
	"github.com/Brownie44l1/lesion-api/internal/prediction"
)

// Readiness reports the model lifecycle state.
type Readiness interface {
	IsReady() bool
	State() model.State
}

type Handler struct {
	service   *prediction.Service
	readiness Readiness
	log       *zap.Logger
}

func NewHandler(service *prediction.Service, readiness Readiness, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		service:   service,
		readiness: readiness,
		log:       log,
	}
}

// Routes registers the service endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ready", h.Ready)
	mux.HandleFunc("/predict", h.Predict)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.readiness.IsReady() {
		respondJSON(w, map[string]string{"status": "ready"}, http.StatusOK)
		return
	}
	respondJSON(w, map[string]string{"status": h.readiness.State().String()}, http.StatusServiceUnavailable)
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondJSON(w, prediction.Failure("Method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	validator := h.service.Validator()
	if r.ContentLength > validator.MaxBodyBytes() {
		respondJSON(w, prediction.Failure(validator.TooLargeMessage()), http.StatusRequestEntityTooLarge)
		return
	}
	body := http.MaxBytesReader(w, r.Body, validator.MaxBodyBytes())

	env, err := h.service.Predict(r.Context(), r.Header.Get("Content-Type"), r.ContentLength, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	respondJSON(w, env, http.StatusOK)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := prediction.KindOf(err)
	message := "Error in prediction"
	var perr *prediction.Error
	if errors.As(err, &perr) && perr.Message != "" {
		message = perr.Message
	}

	fields := []zap.Field{
		zap.String("request_id", RequestID(r.Context())),
		zap.String("kind", kind.String()),
		zap.Error(err),
	}
	if kind.StatusCode() >= http.StatusInternalServerError {
		h.log.Error("Prediction error", fields...)
	} else {
		h.log.Info("Upload rejected", fields...)
	}

	respondJSON(w, prediction.Failure(message), kind.StatusCode())
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
