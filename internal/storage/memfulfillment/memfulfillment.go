// Package memfulfillment — хранилище таймлайна в памяти. Та же семантика,
// что у pgfulfillment, без БД: для юнит-тестов машины состояний, сервиса и
// HTTP-слоя.
package memfulfillment

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
)

type Storage struct {
	mu      sync.RWMutex
	records map[string]*models.TrackingRecord
	dedup   map[string]map[string]struct{}
	nextID  uint64
}

func New() *Storage {
	return &Storage{
		records: make(map[string]*models.TrackingRecord),
		dedup:   make(map[string]map[string]struct{}),
	}
}

func (s *Storage) CreateOrGetRecord(ctx context.Context, orderID string) (*models.TrackingRecord, error) {
	if orderID == "" {
		return nil, errors.New("orderId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[orderID]
	if !ok {
		now := time.Now().UTC()
		r = &models.TrackingRecord{
			OrderID:       orderID,
			CurrentStatus: models.StatusPending,
			CurrentStep:   0,
			CreatedAt:     now,
			LastUpdated:   now,
		}
		s.records[orderID] = r
		s.dedup[orderID] = make(map[string]struct{})
	}
	return copyRecord(r), nil
}

func (s *Storage) GetRecord(ctx context.Context, orderID string) (*models.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyRecord(r), nil
}

func (s *Storage) AppendEvent(ctx context.Context, upd models.RecordUpdate) error {
	if upd.OrderID == "" {
		return errors.New("orderId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[upd.OrderID]
	if !ok {
		return models.ErrNotFound
	}
	if _, seen := s.dedup[upd.OrderID][upd.DedupKey]; seen {
		// повторная доставка — no-op целиком, как в pg
		return nil
	}
	s.dedup[upd.OrderID][upd.DedupKey] = struct{}{}

	now := time.Now().UTC()
	s.nextID++
	r.Events = append(r.Events, &models.TrackingEvent{
		ID:          s.nextID,
		OrderID:     upd.OrderID,
		Status:      upd.Status,
		EventTime:   upd.EventTime.UTC(),
		Description: upd.Description,
		Location:    upd.Location,
		DetailsJSON: upd.DetailsJSON,
		CreatedAt:   now,
	})
	r.CurrentStatus = upd.Status
	r.CurrentStep = upd.Step
	if upd.Carrier != nil {
		r.Carrier = upd.Carrier
	}
	if upd.TrackingNumber != nil {
		r.TrackingNumber = upd.TrackingNumber
	}
	if upd.EstimatedDelivery != nil {
		r.EstimatedDelivery = upd.EstimatedDelivery
	}
	r.LastUpdated = now
	return nil
}

// copyRecord отдаёт снимок: читатели не должны видеть мутаций под замком.
func copyRecord(r *models.TrackingRecord) *models.TrackingRecord {
	out := *r
	out.Events = make([]*models.TrackingEvent, len(r.Events))
	for i, e := range r.Events {
		ec := *e
		out.Events[i] = &ec
	}
	return &out
}
