package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/BearBump/TrackHooks/internal/queue/hookqueue"
	"github.com/BearBump/TrackHooks/internal/storage/pgwebhook"
	"github.com/pkg/errors"
)

const maxErrorMessageBytes = 200

type Repository interface {
	IncrementDeliveryAttempts(ctx context.Context, id string) (*models.WebhookRegistration, error)
	Update(ctx context.Context, id string, patch models.WebhookPatch) error
	LogDelivery(ctx context.Context, in models.DeliveryLogInput) (*models.WebhookDeliveryLog, error)
}

type WebhookSender interface {
	Send(ctx context.Context, req Request) Result
}

// Worker выполняет одну попытку доставки на вызов; расписание повторов и
// back-off живут в очереди, поэтому попытки переживают рестарт процесса.
type Worker struct {
	repo   Repository
	sender WebhookSender

	delivered atomic.Int64
	failed    atomic.Int64
}

func New(repo Repository, sender WebhookSender) *Worker {
	return &Worker{repo: repo, sender: sender}
}

type callbackBody struct {
	WebhookID    string          `json:"webhookId"`
	TrackingData json.RawMessage `json:"trackingData"`
	Metadata     callbackMeta    `json:"metadata"`
}

type callbackMeta struct {
	PreviousChecksum *string `json:"previousChecksum,omitempty"`
	CurrentChecksum  string  `json:"currentChecksum"`
	DeliveredAt      string  `json:"deliveredAt"`
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeTerminal
)

// classify реализует таблицу решений по статусу ответа:
// 2xx — успех; 5xx, сеть, таймаут и всё прочее — повтор; 400/401/403/404 —
// без повтора; остальные 4xx (например 429) повторяются один раз.
func classify(res Result, attemptNumber int32) outcome {
	if res.Err == nil && res.StatusCode >= 200 && res.StatusCode < 300 {
		return outcomeSuccess
	}
	if res.Err != nil {
		return outcomeRetry
	}
	switch {
	case res.StatusCode >= 500 && res.StatusCode < 600:
		return outcomeRetry
	case res.StatusCode == 400 || res.StatusCode == 401 || res.StatusCode == 403 || res.StatusCode == 404:
		return outcomeTerminal
	case res.StatusCode >= 400 && res.StatusCode < 500:
		if attemptNumber < 2 {
			return outcomeRetry
		}
		return outcomeTerminal
	default:
		return outcomeRetry
	}
}

// Process — одна попытка доставки одного перехода.
func (w *Worker) Process(ctx context.Context, p hookqueue.DeliveryPayload, attempt hookqueue.Attempt) error {
	if _, err := w.repo.IncrementDeliveryAttempts(ctx, p.RegistrationID); err != nil {
		if errors.Is(err, pgwebhook.ErrNotFound) {
			slog.Warn("delivery for missing registration", "registration_id", p.RegistrationID)
			return errors.Wrap(hookqueue.ErrNoRetry, "registration not found")
		}
		return errors.Wrap(err, "increment delivery attempts")
	}

	body, err := json.Marshal(callbackBody{
		WebhookID:    p.RegistrationID,
		TrackingData: p.TrackInfo,
		Metadata: callbackMeta{
			PreviousChecksum: p.PreviousChecksum,
			CurrentChecksum:  p.CurrentChecksum,
			DeliveredAt:      time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return errors.Wrap(err, "marshal callback body")
	}

	res := w.sender.Send(ctx, Request{
		URL:       p.CallbackURL,
		WebhookID: p.RegistrationID,
		Attempt:   attempt.Number,
		Body:      body,
	})

	out := classify(res, attempt.Number)
	if out == outcomeRetry && attempt.Last {
		out = outcomeTerminal
	}

	var failMsg string
	if out != outcomeSuccess {
		if res.Err != nil {
			failMsg = res.Err.Error()
		} else {
			failMsg = fmt.Sprintf("HTTP %d", res.StatusCode)
		}
		failMsg = truncate(failMsg, maxErrorMessageBytes)
	}

	// Журнал пишется на всех исходах, до выставления lastError/active.
	w.appendLog(ctx, p.RegistrationID, attempt.Number, body, res, out, failMsg)

	switch out {
	case outcomeSuccess:
		w.delivered.Add(1)
		if err := w.repo.Update(ctx, p.RegistrationID, models.WebhookPatch{ClearLastError: true}); err != nil {
			return errors.Wrap(err, "clear last error")
		}
		return nil

	case outcomeRetry:
		lastError := fmt.Sprintf("Delivery attempt %d failed: %s", attempt.Number, failMsg)
		if err := w.repo.Update(ctx, p.RegistrationID, models.WebhookPatch{LastError: &lastError}); err != nil {
			slog.Error("record delivery error", "registration_id", p.RegistrationID, "error", err.Error())
		}
		// Отдаём ошибку очереди — она запланирует следующую попытку.
		return errors.New(lastError)

	default:
		w.failed.Add(1)
		inactive := false
		lastError := fmt.Sprintf("Delivery failed after %d attempts: %s", attempt.Number, failMsg)
		if err := w.repo.Update(ctx, p.RegistrationID, models.WebhookPatch{
			Active:    &inactive,
			LastError: &lastError,
		}); err != nil {
			return errors.Wrap(err, "deactivate after terminal failure")
		}
		return errors.Wrap(hookqueue.ErrNoRetry, lastError)
	}
}

func (w *Worker) appendLog(ctx context.Context, registrationID string, attemptNumber int32, requestBody []byte, res Result, out outcome, failMsg string) {
	in := models.DeliveryLogInput{
		RegistrationID: registrationID,
		AttemptNumber:  attemptNumber,
		Success:        out == outcomeSuccess,
		RequestBody:    string(requestBody),
	}
	if res.StatusCode != 0 {
		code := int32(res.StatusCode)
		in.StatusCode = &code
	}
	if res.Body != "" {
		b := truncate(res.Body, maxResponseBytes)
		in.ResponseBody = &b
	}
	if failMsg != "" {
		in.ErrorMessage = &failMsg
	}
	if _, err := w.repo.LogDelivery(ctx, in); err != nil {
		slog.Error("append delivery log", "registration_id", registrationID, "error", err.Error())
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type Stats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

func (w *Worker) Stats() Stats {
	return Stats{Delivered: w.delivered.Load(), Failed: w.failed.Load()}
}
