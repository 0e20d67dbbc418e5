package fulfillment_api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/BearBump/FulfillBox/internal/integrations/printify"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/services/fulfillment"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type API struct {
	svc    *fulfillment.Service
	secret string

	limiter            RateLimiter
	rateLimitPerMinute int64
}

// New: secret — общий секрет вебхуков Printify. Пустой секрет означает
// fail closed: все проверки подписи отклоняются.
func New(svc *fulfillment.Service, secret string) *API {
	return &API{svc: svc, secret: secret}
}

func (a *API) WithRateLimiter(rl RateLimiter, perMinute int64) *API {
	a.limiter = rl
	a.rateLimitPerMinute = perMinute
	return a
}

func (a *API) Register(r chi.Router) {
	r.Post("/webhooks/printify", a.handlePrintifyWebhook)
	r.Get("/fulfillment/tracking", a.handleGetTracking)
	r.Post("/fulfillment/tracking", a.handlePostTracking)
}

func (a *API) handlePrintifyWebhook(w http.ResponseWriter, r *http.Request) {
	// Сырые байты до любого парсинга: подпись считается по ним.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "read body failed"})
		return
	}

	if !printify.VerifySignature(body, r.Header.Get(printify.SignatureHeader), a.secret) {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid signature"})
		return
	}

	ev, err := printify.ParseEvent(body)
	if err != nil {
		// 500, чтобы провайдер ретрайнул: выглядящий временным сбой
		// безопаснее молчаливого приёма мусора.
		slog.Error("webhook payload malformed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "malformed payload"})
		return
	}

	a.limitShop(r.Context(), ev.ShopID)

	in, ok := webhookInput(ev)
	if !ok {
		// неизвестный топик: принимаем и игнорируем, иначе провайдер
		// будет ретраить до бесконечности
		slog.Info("webhook topic ignored", "topic", ev.Topic)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if _, err := a.svc.Apply(r.Context(), in); err != nil {
		slog.Error("webhook processing failed", "topic", ev.Topic, "order_id", in.OrderID, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// limitShop — наблюдательный rate limit по магазину. Превышение логируем,
// но событие не отбрасываем: отказ заставил бы провайдера ретраить и
// только усилил бы шторм.
func (a *API) limitShop(ctx context.Context, shopID string) {
	if a.limiter == nil || a.rateLimitPerMinute <= 0 || shopID == "" {
		return
	}
	key := fmt.Sprintf("rl:webhooks:%s:%s", shopID, time.Now().UTC().Format("200601021504"))
	allowed, n, err := a.limiter.Allow(ctx, key, a.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		return
	}
	if !allowed {
		slog.Warn("webhook rate limit exceeded", "shop_id", shopID, "count", n)
	}
}

// webhookInput переводит событие вендора в ApplyInput.
// ok == false для нераспознанных топиков.
func webhookInput(ev printify.Event) (fulfillment.ApplyInput, bool) {
	now := time.Now().UTC()
	in := fulfillment.ApplyInput{
		OrderID:   ev.Data.ID,
		EventTime: ev.EventTime(now),
	}

	switch ev.Topic {
	case printify.TopicOrderCreated:
		in.Status = models.StatusPending
		in.Description = "Order received by production provider"
	case printify.TopicOrderUpdated:
		in.Status = printify.MapOrderStatus(ev.Data.Status)
		in.Description = fmt.Sprintf("Order status updated to %s", in.Status)
	case printify.TopicShipmentCreated:
		in.Status = models.StatusShipped
		in.Description = "Shipment created, package handed to carrier"
		if ev.Data.ShippingTrackingCompany != "" {
			c := ev.Data.ShippingTrackingCompany
			in.Carrier = &c
		}
		if ev.Data.ShippingTrackingNumber != "" {
			n := ev.Data.ShippingTrackingNumber
			in.TrackingNumber = &n
		}
		if details := shipmentDetails(ev); details != "" {
			in.DetailsJSON = &details
		}
	case printify.TopicShipmentDelivered:
		in.Status = models.StatusDelivered
		in.Description = "Package delivered"
	case printify.TopicOrderCanceled:
		in.Status = models.StatusCancelled
		in.Description = "Order canceled by provider"
	default:
		return fulfillment.ApplyInput{}, false
	}

	if ev.ID != "" {
		in.DedupKey = ev.ID
	} else {
		in.DedupKey = fmt.Sprintf("%s|%s", ev.Topic, in.Status)
	}
	return in, true
}

func shipmentDetails(ev printify.Event) string {
	d := map[string]string{}
	if ev.Data.ShippingTrackingCompany != "" {
		d["carrier"] = ev.Data.ShippingTrackingCompany
	}
	if ev.Data.ShippingTrackingNumber != "" {
		d["tracking_number"] = ev.Data.ShippingTrackingNumber
	}
	if ev.Data.ShippingTrackingURL != "" {
		d["tracking_url"] = ev.Data.ShippingTrackingURL
	}
	if len(d) == 0 {
		return ""
	}
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

type trackingEventResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description"`
	Location    *string         `json:"location,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

type trackingResponse struct {
	OrderID            string                  `json:"order_id"`
	CurrentStatus      string                  `json:"current_status"`
	CurrentStep        int                     `json:"current_step"`
	TotalSteps         int                     `json:"total_steps"`
	ProgressPercentage float64                 `json:"progress_percentage"`
	Carrier            *string                 `json:"carrier"`
	TrackingNumber     *string                 `json:"tracking_number"`
	EstimatedDelivery  *time.Time              `json:"estimated_delivery"`
	LastUpdated        time.Time               `json:"last_updated"`
	Events             []trackingEventResponse `json:"events"`
}

func (a *API) handleGetTracking(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "order_id is required"})
		return
	}

	rec, err := a.svc.GetTracking(r.Context(), orderID)
	if errors.Is(err, models.ErrNotFound) {
		// 404, а не пустая запись: UI должен отличать "заказа нет"
		// от "заказ есть, событий ещё нет"
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "tracking record not found"})
		return
	}
	if err != nil {
		slog.Error("get tracking failed", "order_id", orderID, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, toTrackingResponse(rec))
}

func toTrackingResponse(rec *models.TrackingRecord) trackingResponse {
	events := make([]trackingEventResponse, 0, len(rec.Events))
	for _, e := range rec.Events {
		ev := trackingEventResponse{
			Status:      string(e.Status),
			Timestamp:   e.EventTime,
			Description: e.Description,
			Location:    e.Location,
		}
		if e.DetailsJSON != nil {
			ev.Details = json.RawMessage(*e.DetailsJSON)
		}
		events = append(events, ev)
	}
	return trackingResponse{
		OrderID:            rec.OrderID,
		CurrentStatus:      string(rec.CurrentStatus),
		CurrentStep:        rec.CurrentStep,
		TotalSteps:         models.TotalSteps,
		ProgressPercentage: round2(rec.Progress()),
		Carrier:            rec.Carrier,
		TrackingNumber:     rec.TrackingNumber,
		EstimatedDelivery:  rec.EstimatedDelivery,
		LastUpdated:        rec.LastUpdated,
		Events:             events,
	}
}

// round2 — округление только на границе отображения; внутри точность полная.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type postTrackingRequest struct {
	OrderID           string     `json:"order_id"`
	Status            string     `json:"status"`
	Carrier           *string    `json:"carrier,omitempty"`
	TrackingNumber    *string    `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	Description       string     `json:"description,omitempty"`
	Location          *string    `json:"location,omitempty"`
}

// handlePostTracking — внутренняя граница для коллабораторов (чекаут витрины):
// сюда прилетает сигнал "заказ оформлен" и ручные корректировки статуса.
func (a *API) handlePostTracking(w http.ResponseWriter, r *http.Request) {
	var req postTrackingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed payload"})
		return
	}
	if req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "order_id is required"})
		return
	}
	status, ok := models.ParseStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown status"})
		return
	}

	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("Order status updated to %s", status)
	}

	tr, err := a.svc.Apply(r.Context(), fulfillment.ApplyInput{
		OrderID:           req.OrderID,
		Status:            status,
		DedupKey:          fmt.Sprintf("internal|%s", status),
		EventTime:         time.Now().UTC(),
		Description:       desc,
		Location:          req.Location,
		Carrier:           req.Carrier,
		TrackingNumber:    req.TrackingNumber,
		EstimatedDelivery: req.EstimatedDelivery,
	})
	if err != nil {
		slog.Error("tracking update failed", "order_id", req.OrderID, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"applied": tr == models.TransitionAdvance,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
