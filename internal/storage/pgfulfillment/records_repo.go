package pgfulfillment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateOrGetRecord(ctx context.Context, orderID string) (*models.TrackingRecord, error) {
	if orderID == "" {
		return nil, errors.New("orderId is required")
	}
	now := time.Now().UTC()

	_, err := s.db.Exec(ctx, `
INSERT INTO fulfillment_trackings (
  order_id, current_status, current_step, created_at, last_updated
)
VALUES ($1,$2,0,$3,$3)
ON CONFLICT (order_id) DO NOTHING
`, orderID, models.StatusPending, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert tracking record")
	}

	return s.GetRecord(ctx, orderID)
}

func (s *Storage) GetRecord(ctx context.Context, orderID string) (*models.TrackingRecord, error) {
	var r models.TrackingRecord
	var status string
	err := s.db.QueryRow(ctx, `
SELECT
  order_id, current_status, current_step,
  carrier, tracking_number, estimated_delivery,
  created_at, last_updated
FROM fulfillment_trackings
WHERE order_id = $1
`, orderID).Scan(
		&r.OrderID, &status, &r.CurrentStep,
		&r.Carrier, &r.TrackingNumber, &r.EstimatedDelivery,
		&r.CreatedAt, &r.LastUpdated,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking record")
	}
	r.CurrentStatus = models.Status(status)

	events, err := s.listEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}
	r.Events = events
	return &r, nil
}

func (s *Storage) listEvents(ctx context.Context, orderID string) ([]*models.TrackingEvent, error) {
	// Строго порядок добавления: event_time может приходить вразнобой.
	rows, err := s.db.Query(ctx, `
SELECT id, order_id, status, event_time, description, location, details, created_at
FROM fulfillment_events
WHERE order_id = $1
ORDER BY id ASC
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		var status string
		var location string
		var details any
		if err := rows.Scan(
			&e.ID, &e.OrderID, &status, &e.EventTime,
			&e.Description, &location, &details, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.Status = models.Status(status)
		if location != "" {
			e.Location = &location
		}
		if details != nil {
			b, _ := json.Marshal(details)
			s := string(b)
			e.DetailsJSON = &s
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// AppendEvent атомарно добавляет событие и продвигает current_status/current_step.
// Строка записи блокируется FOR UPDATE: два конкурентных вебхука по одному
// заказу не пройдут проверку монотонности по устаревшему статусу.
// Повторная доставка (тот же dedup_key) — no-op целиком.
func (s *Storage) AppendEvent(ctx context.Context, upd models.RecordUpdate) error {
	if upd.OrderID == "" {
		return errors.New("orderId is required")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists string
	err = tx.QueryRow(ctx, `
SELECT order_id FROM fulfillment_trackings WHERE order_id = $1 FOR UPDATE
`, upd.OrderID).Scan(&exists)
	if err == pgx.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lock tracking record")
	}

	loc := ""
	if upd.Location != nil {
		loc = *upd.Location
	}
	var details any
	if upd.DetailsJSON != nil && *upd.DetailsJSON != "" {
		var m any
		if json.Unmarshal([]byte(*upd.DetailsJSON), &m) == nil {
			details = m
		}
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO fulfillment_events (
  order_id, status, event_time, description, location, details, dedup_key, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (order_id, dedup_key) DO NOTHING
`, upd.OrderID, upd.Status, upd.EventTime.UTC(), upd.Description, loc, details, upd.DedupKey, now)
	if err != nil {
		return errors.Wrap(err, "insert event")
	}

	if tag.RowsAffected() > 0 {
		_, err = tx.Exec(ctx, `
UPDATE fulfillment_trackings
SET
  current_status = $2,
  current_step = $3,
  carrier = COALESCE($4, carrier),
  tracking_number = COALESCE($5, tracking_number),
  estimated_delivery = COALESCE($6, estimated_delivery),
  last_updated = $7
WHERE order_id = $1
`, upd.OrderID, upd.Status, upd.Step, upd.Carrier, upd.TrackingNumber, upd.EstimatedDelivery, now)
		if err != nil {
			return errors.Wrap(err, "update tracking record")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
