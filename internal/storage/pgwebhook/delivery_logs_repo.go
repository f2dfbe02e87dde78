package pgwebhook

import (
	"context"
	"time"

	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/pkg/errors"
)

// LogDelivery — append-only журнал попыток доставки.
func (s *Storage) LogDelivery(ctx context.Context, in models.DeliveryLogInput) (*models.WebhookDeliveryLog, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO webhook_delivery_logs (
  registration_id, attempt_number, status_code, success,
  error_message, request_body, response_body, delivered_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id
`, in.RegistrationID, in.AttemptNumber, in.StatusCode, in.Success,
		in.ErrorMessage, in.RequestBody, in.ResponseBody, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert delivery log")
	}

	return &models.WebhookDeliveryLog{
		ID:             id,
		RegistrationID: in.RegistrationID,
		AttemptNumber:  in.AttemptNumber,
		StatusCode:     in.StatusCode,
		Success:        in.Success,
		ErrorMessage:   in.ErrorMessage,
		RequestBody:    in.RequestBody,
		ResponseBody:   in.ResponseBody,
		DeliveredAt:    now,
	}, nil
}

func (s *Storage) GetDeliveryLogs(ctx context.Context, registrationID string, limit int) ([]*models.WebhookDeliveryLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, registration_id, attempt_number, status_code, success,
  error_message, request_body, response_body, delivered_at
FROM webhook_delivery_logs
WHERE registration_id = $1
ORDER BY delivered_at DESC
LIMIT $2
`, registrationID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select delivery logs")
	}
	defer rows.Close()

	var out []*models.WebhookDeliveryLog
	for rows.Next() {
		var l models.WebhookDeliveryLog
		var statusCode *int32
		var errorMessage *string
		var responseBody *string
		if err := rows.Scan(
			&l.ID, &l.RegistrationID, &l.AttemptNumber, &statusCode, &l.Success,
			&errorMessage, &l.RequestBody, &responseBody, &l.DeliveredAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan delivery log")
		}
		l.StatusCode = statusCode
		l.ErrorMessage = errorMessage
		l.ResponseBody = responseBody
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
