package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/internal/broker/messages"
	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrGetRecord(ctx context.Context, orderID string) (*models.TrackingRecord, error)
	GetRecord(ctx context.Context, orderID string) (*models.TrackingRecord, error)
	AppendEvent(ctx context.Context, upd models.RecordUpdate) error
}

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

const defaultAppendTimeout = 5 * time.Second

type Service struct {
	repo     Repository
	cache    BytesCache
	producer Producer

	updatedTopic  string
	currentTTL    time.Duration
	appendTimeout time.Duration

	locks *orderLocks
}

func New(repo Repository, c BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:          repo,
		cache:         c,
		currentTTL:    currentTTL,
		appendTimeout: defaultAppendTimeout,
		locks:         newOrderLocks(),
	}
}

// WithProducer включает публикацию fulfillment.updated после принятых переходов.
func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.updatedTopic = topic
	return s
}

func (s *Service) WithAppendTimeout(d time.Duration) *Service {
	if d > 0 {
		s.appendTimeout = d
	}
	return s
}

// ApplyInput — одно событие фулфилмента после перевода вендорского словаря
// во внутренний статус.
type ApplyInput struct {
	OrderID string
	Status  models.Status

	// DedupKey: id события вендора, иначе topic|status.
	DedupKey string

	EventTime   time.Time
	Description string
	Location    *string
	DetailsJSON *string

	Carrier           *string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
}

// Apply прогоняет событие через машину состояний и, если переход принят,
// атомарно дописывает таймлайн. Мутации по одному заказу сериализованы.
// Отклонённые и повторные события не ошибка: они логируются в операционный
// журнал и не попадают в таймлайн.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (models.Transition, error) {
	if in.OrderID == "" {
		return 0, errors.New("order_id is required")
	}
	if in.EventTime.IsZero() {
		in.EventTime = time.Now().UTC()
	}
	if in.DedupKey == "" {
		in.DedupKey = fmt.Sprintf("status|%s", in.Status)
	}

	mu := s.locks.get(in.OrderID)
	mu.Lock()
	defer mu.Unlock()

	// Таймаут на I/O хранилища: зависший append превращается в ошибку,
	// эндпоинт вернёт 500 и провайдер ретрайнет доставку.
	opCtx, cancel := context.WithTimeout(ctx, s.appendTimeout)
	defer cancel()

	rec, err := s.repo.CreateOrGetRecord(opCtx, in.OrderID)
	if err != nil {
		return 0, errors.Wrap(err, "create or get record")
	}

	tr := models.Decide(rec.CurrentStatus, in.Status)
	if tr == models.TransitionDuplicate && len(rec.Events) == 0 && in.Status == models.StatusPending {
		// Самое первое событие заказа: запись создаётся в pending, и
		// seed-ивент "order created" обязан попасть в таймлайн.
		tr = models.TransitionAdvance
	}

	if tr != models.TransitionAdvance {
		slog.Warn("fulfillment event ignored",
			"order_id", in.OrderID,
			"current_status", string(rec.CurrentStatus),
			"proposed_status", string(in.Status),
			"reason", tr.String(),
		)
		return tr, nil
	}

	step := rec.CurrentStep
	if idx, ok := in.Status.StepIndex(); ok {
		step = idx
	}
	// для failed/cancelled шаг остаётся замороженным: прогресс не
	// сбрасывается и не прыгает к 100

	err = s.repo.AppendEvent(opCtx, models.RecordUpdate{
		OrderID:           in.OrderID,
		Status:            in.Status,
		Step:              step,
		DedupKey:          in.DedupKey,
		Carrier:           in.Carrier,
		TrackingNumber:    in.TrackingNumber,
		EstimatedDelivery: in.EstimatedDelivery,
		EventTime:         in.EventTime,
		Description:       in.Description,
		Location:          in.Location,
		DetailsJSON:       in.DetailsJSON,
	})
	if err != nil {
		return tr, errors.Wrap(err, "append event")
	}

	if s.cache != nil {
		_ = s.cache.Del(ctx, currentKey(in.OrderID))
	}
	s.publishUpdated(ctx, in, step)

	return tr, nil
}

// SeedOrder заводит запись трекинга по сигналу "заказ оформлен" из чекаута.
func (s *Service) SeedOrder(ctx context.Context, orderID string, at time.Time) error {
	_, err := s.Apply(ctx, ApplyInput{
		OrderID:     orderID,
		Status:      models.StatusPending,
		DedupKey:    "order:created|pending",
		EventTime:   at,
		Description: "Order received",
	})
	return err
}

// ApplyKafkaOrderCreated — обработчик сообщений order.created из чекаута.
func (s *Service) ApplyKafkaOrderCreated(ctx context.Context, msg messages.OrderCreated) error {
	if msg.OrderID == "" {
		return errors.New("order_id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return s.SeedOrder(ctx, msg.OrderID, msg.CreatedAt)
}

// GetTracking — чистое чтение для UI. Кэшируем текущее состояние целиком
// как JSON записи; кэш best-effort и не обязан быть всегда.
func (s *Service) GetTracking(ctx context.Context, orderID string) (*models.TrackingRecord, error) {
	if orderID == "" {
		return nil, errors.New("order_id is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(orderID)); err == nil && ok {
			var r models.TrackingRecord
			if json.Unmarshal(b, &r) == nil {
				return &r, nil
			}
		}
	}

	rec, err := s.repo.GetRecord(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, err := json.Marshal(rec); err == nil {
			_ = s.cache.Set(ctx, currentKey(orderID), b, s.currentTTL)
		}
	}
	return rec, nil
}

func (s *Service) publishUpdated(ctx context.Context, in ApplyInput, step int) {
	if s.producer == nil || s.updatedTopic == "" {
		return
	}
	// best-effort: недоступная Kafka не должна превращаться в 500 вебхука
	completed := step
	if in.Status == models.StatusDelivered {
		completed = models.TotalSteps
	}
	msg := messages.FulfillmentUpdated{
		OrderID:        in.OrderID,
		Status:         string(in.Status),
		Step:           step,
		Progress:       models.ComputeProgress(completed, models.TotalSteps),
		Carrier:        in.Carrier,
		TrackingNumber: in.TrackingNumber,
		UpdatedAt:      time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.updatedTopic, []byte(in.OrderID), b); err != nil {
		slog.Error("publish fulfillment.updated", "order_id", in.OrderID, "error", err.Error())
	}
}

func currentKey(orderID string) string {
	return fmt.Sprintf("fulfillment:%s:current", orderID)
}
