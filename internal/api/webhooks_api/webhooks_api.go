package webhooks_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/TrackHooks/internal/cache/trackcache"
	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/BearBump/TrackHooks/internal/queue/hookqueue"
	"github.com/BearBump/TrackHooks/internal/services/webhooks"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type Service interface {
	Register(ctx context.Context, in models.WebhookCreateInput) (string, error)
	Deactivate(ctx context.Context, id string) error
	GetWebhook(ctx context.Context, id string) (*models.WebhookRegistration, error)
	ListActive(ctx context.Context) ([]*models.WebhookRegistration, error)
	GetDeliveryLogs(ctx context.Context, id string, limit int) ([]*models.WebhookDeliveryLog, error)
	GetQueueStats(ctx context.Context) (map[string]hookqueue.QueueCounts, error)
	GetCacheStats() trackcache.Stats
	ClearCache()
}

// API — JSON-поверхность подсистемы: регистрация вебхуков и наблюдаемость.
type API struct {
	svc Service
}

func New(svc Service) *API {
	return &API{svc: svc}
}

func (a *API) Routes(r chi.Router) {
	r.Post("/webhooks", a.register)
	r.Get("/webhooks", a.listActive)
	r.Get("/webhooks/{id}", a.getWebhook)
	r.Delete("/webhooks/{id}", a.deactivate)
	r.Get("/webhooks/{id}/deliveries", a.getDeliveries)
	r.Get("/stats/queues", a.queueStats)
	r.Get("/stats/cache", a.cacheStats)
	r.Post("/cache/clear", a.clearCache)
}

type registerRequest struct {
	CarrierID      string `json:"carrierId"`
	TrackingNumber string `json:"trackingNumber"`
	CallbackURL    string `json:"callbackUrl"`
	ExpirationTime string `json:"expirationTime"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	expiration, err := time.Parse(time.RFC3339, req.ExpirationTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expirationTime must be an RFC 3339 timestamp")
		return
	}

	id, err := a.svc.Register(r.Context(), models.WebhookCreateInput{
		CarrierID:      req.CarrierID,
		TrackingNumber: req.TrackingNumber,
		CallbackURL:    req.CallbackURL,
		ExpirationTime: expiration,
	})
	if errors.Is(err, webhooks.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) listActive(w http.ResponseWriter, r *http.Request) {
	regs, err := a.svc.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]registrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, toRegistrationResponse(reg))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reg, err := a.svc.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if reg == nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

func (a *API) deactivate(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := a.svc.GetDeliveryLogs(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]deliveryLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toDeliveryLogResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.GetQueueStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.GetCacheStats())
}

func (a *API) clearCache(w http.ResponseWriter, r *http.Request) {
	a.svc.ClearCache()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

type registrationResponse struct {
	ID               string     `json:"id"`
	CarrierID        string     `json:"carrierId"`
	TrackingNumber   string     `json:"trackingNumber"`
	CallbackURL      string     `json:"callbackUrl"`
	ExpirationTime   time.Time  `json:"expirationTime"`
	Active           bool       `json:"active"`
	LastChecksum     *string    `json:"lastChecksum,omitempty"`
	LastCheckedAt    *time.Time `json:"lastCheckedAt,omitempty"`
	DeliveryAttempts int32      `json:"deliveryAttempts"`
	LastDeliveryAt   *time.Time `json:"lastDeliveryAt,omitempty"`
	LastError        *string    `json:"lastError,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func toRegistrationResponse(r *models.WebhookRegistration) registrationResponse {
	return registrationResponse{
		ID:               r.ID,
		CarrierID:        r.CarrierID,
		TrackingNumber:   r.TrackingNumber,
		CallbackURL:      r.CallbackURL,
		ExpirationTime:   r.ExpirationTime,
		Active:           r.Active,
		LastChecksum:     r.LastChecksum,
		LastCheckedAt:    r.LastCheckedAt,
		DeliveryAttempts: r.DeliveryAttempts,
		LastDeliveryAt:   r.LastDeliveryAt,
		LastError:        r.LastError,
		CreatedAt:        r.CreatedAt,
	}
}

type deliveryLogResponse struct {
	ID            uint64    `json:"id"`
	AttemptNumber int32     `json:"attemptNumber"`
	StatusCode    *int32    `json:"statusCode,omitempty"`
	Success       bool      `json:"success"`
	ErrorMessage  *string   `json:"errorMessage,omitempty"`
	RequestBody   string    `json:"requestBody"`
	ResponseBody  *string   `json:"responseBody,omitempty"`
	DeliveredAt   time.Time `json:"deliveredAt"`
}

func toDeliveryLogResponse(l *models.WebhookDeliveryLog) deliveryLogResponse {
	return deliveryLogResponse{
		ID:            l.ID,
		AttemptNumber: l.AttemptNumber,
		StatusCode:    l.StatusCode,
		Success:       l.Success,
		ErrorMessage:  l.ErrorMessage,
		RequestBody:   l.RequestBody,
		ResponseBody:  l.ResponseBody,
		DeliveredAt:   l.DeliveredAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
