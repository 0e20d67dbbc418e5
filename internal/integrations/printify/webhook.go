package printify

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Топики вебхуков Printify, которые мы обрабатываем. Остальные принимаются
// с 200 и игнорируются, чтобы провайдер их не ретраил.
const (
	TopicOrderCreated      = "order:created"
	TopicOrderUpdated      = "order:updated"
	TopicShipmentCreated   = "order:shipment:created"
	TopicShipmentDelivered = "order:shipment:delivered"
	TopicOrderCanceled     = "order:canceled"
)

type Event struct {
	// ID события — ключ идемпотентности, если провайдер его прислал.
	ID     string    `json:"id,omitempty"`
	Topic  string    `json:"topic"`
	ShopID string    `json:"shop_id"`
	Data   EventData `json:"data"`
}

type EventData struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`

	ShippingTrackingCompany string `json:"shipping_tracking_company,omitempty"`
	ShippingTrackingNumber  string `json:"shipping_tracking_number,omitempty"`
	ShippingTrackingURL     string `json:"shipping_tracking_url,omitempty"`

	AddressTo map[string]any `json:"address_to,omitempty"`
}

// ParseEvent разбирает тело вебхука после успешной проверки подписи.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, errors.Wrap(err, "unmarshal webhook payload")
	}
	if ev.Topic == "" {
		return Event{}, errors.New("webhook payload: topic is required")
	}
	if ev.Data.ID == "" {
		return Event{}, errors.New("webhook payload: data.id is required")
	}
	return ev, nil
}

// Printify отдаёт updated_at то в RFC3339, то в "2006-01-02 15:04:05+00:00".
var updatedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
}

// EventTime — время события по данным провайдера. Только информационное:
// порядок в таймлайне определяется порядком применения, не временем.
func (e Event) EventTime(now time.Time) time.Time {
	for _, layout := range updatedAtLayouts {
		if t, err := time.Parse(layout, e.Data.UpdatedAt); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}
