package messages

import "time"

// OrderCreated публикуется бэкендом витрины в момент оформления заказа.
// По нему fulfill-api заводит запись трекинга ещё до первого вебхука
// провайдера.
type OrderCreated struct {
	OrderID   string    `json:"order_id"`
	ShopID    string    `json:"shop_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FulfillmentUpdated публикуется после каждого принятого перехода статуса.
// Потребители: нотификации, дашборд витрины.
type FulfillmentUpdated struct {
	OrderID string `json:"order_id"`

	Status string `json:"status"`
	Step   int    `json:"step"`

	Progress float64 `json:"progress"`

	Carrier        *string `json:"carrier,omitempty"`
	TrackingNumber *string `json:"tracking_number,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}
