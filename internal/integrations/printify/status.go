package printify

import (
	"strings"

	"github.com/BearBump/FulfillBox/internal/models"
)

// Таблица перевода словаря статусов Printify во внутренние статусы.
// Бизнес-правило, не код: новые вендорские статусы добавляются строкой
// в таблицу, control flow не трогаем.
//
// fulfilled → delivered оставлено как в исходной системе: вендорский
// "fulfilled" может означать лишь "производство завершено". Известный
// семантический разрыв, см. DESIGN.md.
var statusMap = map[string]models.Status{
	"draft":                 models.StatusPending,
	"pending":               models.StatusPending,
	"payment-not-received":  models.StatusPending,
	"on-hold":               models.StatusPending,
	"confirmed":             models.StatusConfirmed,
	"sending-to-production": models.StatusConfirmed,
	"in-production":         models.StatusPrinted,
	"in_progress":           models.StatusPrinted,
	"quality-check":         models.StatusQualityCheck,
	"quality_check":         models.StatusQualityCheck,
	"packaged":              models.StatusPackaged,
	"partially-fulfilled":   models.StatusShipped,
	"shipped":               models.StatusShipped,
	"in_transit":            models.StatusInTransit,
	"out_for_delivery":      models.StatusOutForDelivery,
	"delivered":             models.StatusDelivered,
	"fulfilled":             models.StatusDelivered,
	"has-issues":            models.StatusFailed,
	"failed":                models.StatusFailed,
	"canceled":              models.StatusCancelled,
}

// MapOrderStatus переводит вендорский статус во внутренний.
// Неизвестный статус деградирует в pending, а не в ошибку: смена словаря
// на стороне вендора не должна ломать приём вебхуков.
func MapOrderStatus(vendorStatus string) models.Status {
	if s, ok := statusMap[strings.ToLower(strings.TrimSpace(vendorStatus))]; ok {
		return s
	}
	return models.StatusPending
}
