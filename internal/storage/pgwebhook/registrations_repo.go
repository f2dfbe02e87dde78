package pgwebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const registrationCols = `
  id, carrier_id, tracking_number, callback_url,
  expiration_time, active,
  last_checksum, last_checked_at,
  delivery_attempts, last_delivery_at, last_error,
  created_at`

// dueWindow — регистрация считается "пора проверять", если её не проверяли
// дольше этого интервала (или вообще никогда).
const dueWindow = 5 * time.Minute

func (s *Storage) Create(ctx context.Context, in models.WebhookCreateInput) (*models.WebhookRegistration, error) {
	now := time.Now().UTC()
	r := &models.WebhookRegistration{
		ID:             uuid.NewString(),
		CarrierID:      in.CarrierID,
		TrackingNumber: in.TrackingNumber,
		CallbackURL:    in.CallbackURL,
		ExpirationTime: in.ExpirationTime.UTC(),
		Active:         true,
		CreatedAt:      now,
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO webhook_registrations (
  id, carrier_id, tracking_number, callback_url, expiration_time, active, created_at
)
VALUES ($1,$2,$3,$4,$5,TRUE,$6)
`, r.ID, r.CarrierID, r.TrackingNumber, r.CallbackURL, r.ExpirationTime, r.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert registration")
	}
	return r, nil
}

func (s *Storage) FindByID(ctx context.Context, id string) (*models.WebhookRegistration, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+registrationCols+`
FROM webhook_registrations
WHERE id = $1
`, id)
	r, err := scanRegistration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select registration")
	}
	return r, nil
}

func (s *Storage) FindActive(ctx context.Context) ([]*models.WebhookRegistration, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+registrationCols+`
FROM webhook_registrations
WHERE active = TRUE
ORDER BY last_checked_at ASC NULLS FIRST
`)
	if err != nil {
		return nil, errors.Wrap(err, "select active registrations")
	}
	defer rows.Close()
	return collectRegistrations(rows)
}

func (s *Storage) FindDueForCheck(ctx context.Context, limit int) ([]*models.WebhookRegistration, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-dueWindow)

	rows, err := s.db.Query(ctx, `
SELECT `+registrationCols+`
FROM webhook_registrations
WHERE active = TRUE
  AND (last_checked_at IS NULL OR last_checked_at < $1)
ORDER BY last_checked_at ASC NULLS FIRST
LIMIT $2
`, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due registrations")
	}
	defer rows.Close()
	return collectRegistrations(rows)
}

func (s *Storage) Update(ctx context.Context, id string, patch models.WebhookPatch) error {
	sets := make([]string, 0, 4)
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.LastChecksum != nil {
		add("last_checksum", *patch.LastChecksum)
	}
	if patch.LastCheckedAt != nil {
		add("last_checked_at", patch.LastCheckedAt.UTC())
	}
	if patch.ClearLastError {
		sets = append(sets, "last_error = NULL")
	} else if patch.LastError != nil {
		add("last_error", *patch.LastError)
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	if len(sets) == 0 {
		return nil
	}

	ct, err := s.db.Exec(ctx, `UPDATE webhook_registrations SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return errors.Wrap(err, "update registration")
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE webhook_registrations SET active = FALSE WHERE id = $1`, id)
	return errors.Wrap(err, "deactivate registration")
}

func (s *Storage) DeactivateExpired(ctx context.Context) (int64, error) {
	ct, err := s.db.Exec(ctx, `
UPDATE webhook_registrations
SET active = FALSE
WHERE active = TRUE AND expiration_time < now()
`)
	if err != nil {
		return 0, errors.Wrap(err, "deactivate expired")
	}
	return ct.RowsAffected(), nil
}

// IncrementDeliveryAttempts атомарно увеличивает счётчик попыток (один UPDATE,
// безопасен при конкурентных вызовах по одному id).
func (s *Storage) IncrementDeliveryAttempts(ctx context.Context, id string) (*models.WebhookRegistration, error) {
	row := s.db.QueryRow(ctx, `
UPDATE webhook_registrations
SET delivery_attempts = delivery_attempts + 1,
    last_delivery_at = now()
WHERE id = $1
RETURNING `+registrationCols+`
`, id)
	r, err := scanRegistration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "increment delivery attempts")
	}
	return r, nil
}

func scanRegistration(row pgx.Row) (*models.WebhookRegistration, error) {
	var r models.WebhookRegistration
	var lastChecksum *string
	var lastCheckedAt *time.Time
	var lastDeliveryAt *time.Time
	var lastError *string
	if err := row.Scan(
		&r.ID, &r.CarrierID, &r.TrackingNumber, &r.CallbackURL,
		&r.ExpirationTime, &r.Active,
		&lastChecksum, &lastCheckedAt,
		&r.DeliveryAttempts, &lastDeliveryAt, &lastError,
		&r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.LastChecksum = lastChecksum
	r.LastCheckedAt = lastCheckedAt
	r.LastDeliveryAt = lastDeliveryAt
	r.LastError = lastError
	return &r, nil
}

func collectRegistrations(rows pgx.Rows) ([]*models.WebhookRegistration, error) {
	var out []*models.WebhookRegistration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan registration")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
