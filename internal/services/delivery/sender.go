package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "delivery-tracker-webhook/1.0"

	// Сколько байт тела ответа сохраняем в журнале.
	maxResponseBytes = 1000
)

// Sender шлёт callback POST. Ретраи — не его забота: одна попытка на вызов,
// решение о повторе принимает воркер вместе с очередью.
type Sender struct {
	client  *http.Client
	timeout time.Duration
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sender{
		client:  &http.Client{},
		timeout: timeout,
	}
}

type Request struct {
	URL       string
	WebhookID string
	Attempt   int32
	Body      []byte
}

// Result: StatusCode == 0 означает, что ответа не было (сеть/таймаут).
type Result struct {
	StatusCode int
	Body       string
	Err        error
}

func (s *Sender) Send(ctx context.Context, req Request) Result {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Result{Err: fmt.Errorf("create request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Webhook-Id", req.WebhookID)
	httpReq.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", req.Attempt))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Result{Err: fmt.Errorf("send: %w", err)}
	}
	defer resp.Body.Close()

	// Тело читаем best-effort: ошибка чтения не меняет классификацию ответа.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	return Result{StatusCode: resp.StatusCode, Body: string(body)}
}
