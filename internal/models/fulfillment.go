package models

import (
	"time"

	"github.com/pkg/errors"
)

// Внутренние статусы фулфилмента. Основная последовательность строго
// упорядочена по ходу производства/доставки; failed и cancelled — поглощающие
// состояния вне последовательности.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPrinted        Status = "printed"
	StatusQualityCheck   Status = "quality_check"
	StatusPackaged       Status = "packaged"
	StatusShipped        Status = "shipped"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"

	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TotalSteps — длина основной последовательности.
const TotalSteps = 9

var mainSequence = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPrinted,
	StatusQualityCheck,
	StatusPackaged,
	StatusShipped,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
}

var stepIndex = func() map[Status]int {
	m := make(map[Status]int, len(mainSequence))
	for i, s := range mainSequence {
		m[s] = i
	}
	return m
}()

// StepIndex возвращает индекс статуса в основной последовательности.
// ok == false для поглощающих состояний.
func (s Status) StepIndex() (int, bool) {
	i, ok := stepIndex[s]
	return i, ok
}

// IsAbsorbing: failed/cancelled — вне основной последовательности.
func (s Status) IsAbsorbing() bool {
	return s == StatusFailed || s == StatusCancelled
}

// IsTerminal: из терминального статуса переходы запрещены.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s.IsAbsorbing()
}

// ParseStatus принимает только известные внутренние статусы.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	if _, ok := stepIndex[s]; ok {
		return s, true
	}
	if s.IsAbsorbing() {
		return s, true
	}
	return "", false
}

// Transition — решение машины состояний по предложенному статусу.
type Transition int

const (
	TransitionAdvance Transition = iota
	TransitionDuplicate
	TransitionRegression
	TransitionTerminalLocked
)

func (t Transition) String() string {
	switch t {
	case TransitionAdvance:
		return "advance"
	case TransitionDuplicate:
		return "duplicate"
	case TransitionRegression:
		return "regression"
	case TransitionTerminalLocked:
		return "terminal_locked"
	default:
		return "unknown"
	}
}

// Decide применяет правило монотонности: вперёд по основной последовательности
// или в терминальное состояние из нетерминального. Назад — никогда.
func Decide(current, proposed Status) Transition {
	if current.IsTerminal() {
		if proposed == current {
			return TransitionDuplicate
		}
		return TransitionTerminalLocked
	}
	if proposed.IsAbsorbing() {
		return TransitionAdvance
	}
	cs, _ := current.StepIndex()
	ps, ok := proposed.StepIndex()
	if !ok {
		return TransitionRegression
	}
	switch {
	case ps > cs:
		return TransitionAdvance
	case ps == cs:
		return TransitionDuplicate
	default:
		return TransitionRegression
	}
}

// ComputeProgress = (step / totalSteps) * 100, с клампом в [0, 100].
// Деление плавающее; округление — забота отображающего слоя.
func ComputeProgress(step, totalSteps int) float64 {
	if totalSteps <= 0 {
		return 0
	}
	p := float64(step) / float64(totalSteps) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ErrNotFound — записи по заказу нет (404 на чтении, не пустая запись).
var ErrNotFound = errors.New("tracking record not found")

type TrackingRecord struct {
	OrderID           string
	CurrentStatus     Status
	CurrentStep       int
	Carrier           *string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	CreatedAt         time.Time
	LastUpdated       time.Time
	Events            []*TrackingEvent
}

// StepsCompleted — сколько шагов пройдено для расчёта прогресса.
// Текущий шаг ещё в работе, поэтому считаем только предыдущие; delivered
// закрывает всю последовательность. Для failed/cancelled шаг заморожен
// на последнем значении основной последовательности.
func (r *TrackingRecord) StepsCompleted() int {
	if r.CurrentStatus == StatusDelivered {
		return TotalSteps
	}
	return r.CurrentStep
}

func (r *TrackingRecord) Progress() float64 {
	return ComputeProgress(r.StepsCompleted(), TotalSteps)
}

type TrackingEvent struct {
	ID          uint64
	OrderID     string
	Status      Status
	EventTime   time.Time
	Description string
	Location    *string
	DetailsJSON *string
	CreatedAt   time.Time
}

// RecordUpdate — атомарный инкремент таймлайна: новое событие + продвижение
// current_status/current_step одним действием. Либо применяется целиком,
// либо не применяется вовсе.
type RecordUpdate struct {
	OrderID string

	Status Status
	Step   int

	// DedupKey защищает от повторной доставки одного и того же события.
	DedupKey string

	Carrier           *string
	TrackingNumber    *string
	EstimatedDelivery *time.Time

	EventTime   time.Time
	Description string
	Location    *string
	DetailsJSON *string
}
