package pgfulfillment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS fulfillment_trackings (
  order_id TEXT PRIMARY KEY,
  current_status TEXT NOT NULL,
  current_step INT NOT NULL DEFAULT 0,
  carrier TEXT NULL,
  tracking_number TEXT NULL,
  estimated_delivery TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  last_updated TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS fulfillment_events (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES fulfillment_trackings(order_id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  details JSONB NULL,
  dedup_key TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		// Порядок таймлайна — порядок вставки (id), не event_time.
		`CREATE INDEX IF NOT EXISTS idx_fulfillment_events_order_id_id ON fulfillment_events(order_id, id)`,
		// Повторная доставка одного события не порождает дубликатов.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_fulfillment_events_dedup ON fulfillment_events(order_id, dedup_key)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
