package pgwebhook

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS webhook_registrations (
  id UUID PRIMARY KEY,
  carrier_id TEXT NOT NULL,
  tracking_number TEXT NOT NULL,
  callback_url TEXT NOT NULL,
  expiration_time TIMESTAMPTZ NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  last_checksum TEXT NULL,
  last_checked_at TIMESTAMPTZ NULL,
  delivery_attempts INT NOT NULL DEFAULT 0,
  last_delivery_at TIMESTAMPTZ NULL,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_registrations_subject ON webhook_registrations(carrier_id, tracking_number)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_registrations_expiration ON webhook_registrations(expiration_time)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_registrations_active_checked ON webhook_registrations(active, last_checked_at)`,
		`
CREATE TABLE IF NOT EXISTS webhook_delivery_logs (
  id BIGSERIAL PRIMARY KEY,
  registration_id UUID NOT NULL REFERENCES webhook_registrations(id) ON DELETE CASCADE,
  attempt_number INT NOT NULL,
  status_code INT NULL,
  success BOOLEAN NOT NULL,
  error_message TEXT NULL,
  request_body TEXT NOT NULL,
  response_body TEXT NULL,
  delivered_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_delivery_logs_registration ON webhook_delivery_logs(registration_id)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_delivery_logs_delivered_at ON webhook_delivery_logs(delivered_at)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
