package delivery

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/BearBump/TrackHooks/internal/queue/hookqueue"
	"github.com/BearBump/TrackHooks/internal/storage/pgwebhook"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	incremented []string
	incrementErr error
	logs        []models.DeliveryLogInput
	updates     []models.WebhookPatch
}

func (f *fakeRepo) IncrementDeliveryAttempts(_ context.Context, id string) (*models.WebhookRegistration, error) {
	if f.incrementErr != nil {
		return nil, f.incrementErr
	}
	f.incremented = append(f.incremented, id)
	return &models.WebhookRegistration{ID: id, DeliveryAttempts: int32(len(f.incremented))}, nil
}

func (f *fakeRepo) Update(_ context.Context, _ string, patch models.WebhookPatch) error {
	f.updates = append(f.updates, patch)
	return nil
}

func (f *fakeRepo) LogDelivery(_ context.Context, in models.DeliveryLogInput) (*models.WebhookDeliveryLog, error) {
	f.logs = append(f.logs, in)
	return &models.WebhookDeliveryLog{}, nil
}

type fakeSender struct {
	res  Result
	reqs []Request
}

func (f *fakeSender) Send(_ context.Context, req Request) Result {
	f.reqs = append(f.reqs, req)
	return f.res
}

func payload() hookqueue.DeliveryPayload {
	prev := "aaa"
	return hookqueue.DeliveryPayload{
		RegistrationID:   "r1",
		CallbackURL:      "https://hook.test/r1",
		TrackInfo:        json.RawMessage(`{"events":[{"status":"IN_TRANSIT","time":"2024-05-01T10:00:00Z"}]}`),
		PreviousChecksum: &prev,
		CurrentChecksum:  "bbb",
	}
}

func TestProcess_SuccessFirstAttempt(t *testing.T) {
	repo := &fakeRepo{}
	s := &fakeSender{res: Result{StatusCode: 200, Body: "ok"}}
	w := New(repo, s)

	err := w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 1})
	require.NoError(t, err)

	require.Equal(t, []string{"r1"}, repo.incremented)
	require.Len(t, repo.logs, 1)
	require.True(t, repo.logs[0].Success)
	require.Equal(t, int32(1), repo.logs[0].AttemptNumber)
	require.Equal(t, int32(200), *repo.logs[0].StatusCode)
	require.Nil(t, repo.logs[0].ErrorMessage)

	require.Len(t, repo.updates, 1)
	require.True(t, repo.updates[0].ClearLastError)
	require.Nil(t, repo.updates[0].Active)

	// Тело запроса попало в журнал как есть.
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(repo.logs[0].RequestBody), &body))
	require.Equal(t, "r1", body["webhookId"])
	meta := body["metadata"].(map[string]any)
	require.Equal(t, "aaa", meta["previousChecksum"])
	require.Equal(t, "bbb", meta["currentChecksum"])
	require.NotEmpty(t, meta["deliveredAt"])

	// Заголовки/номер попытки уходят в sender.
	require.Len(t, s.reqs, 1)
	require.Equal(t, "https://hook.test/r1", s.reqs[0].URL)
	require.Equal(t, int32(1), s.reqs[0].Attempt)
}

func TestProcess_ServerErrorRetries(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, &fakeSender{res: Result{StatusCode: 500, Body: "boom"}})

	err := w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 1})
	require.Error(t, err)
	require.False(t, errors.Is(err, hookqueue.ErrNoRetry))
	require.Contains(t, err.Error(), "Delivery attempt 1 failed: HTTP 500")

	require.Len(t, repo.logs, 1)
	require.False(t, repo.logs[0].Success)
	require.Equal(t, "HTTP 500", *repo.logs[0].ErrorMessage)

	require.Len(t, repo.updates, 1)
	require.Nil(t, repo.updates[0].Active)
	require.Contains(t, *repo.updates[0].LastError, "Delivery attempt 1 failed")
}

func TestProcess_ServerErrorOnLastAttemptDeactivates(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, &fakeSender{res: Result{StatusCode: 500}})

	err := w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 4, Last: true})
	require.Error(t, err)
	require.True(t, errors.Is(err, hookqueue.ErrNoRetry))

	require.Len(t, repo.updates, 1)
	require.NotNil(t, repo.updates[0].Active)
	require.False(t, *repo.updates[0].Active)
	require.Contains(t, *repo.updates[0].LastError, "Delivery failed after 4 attempts")
}

func TestProcess_NotFoundStatusIsTerminal(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, &fakeSender{res: Result{StatusCode: 404, Body: "no such hook"}})

	// 404 не ретраится даже на первой попытке.
	err := w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 1})
	require.Error(t, err)
	require.True(t, errors.Is(err, hookqueue.ErrNoRetry))

	require.Len(t, repo.logs, 1)
	require.False(t, repo.logs[0].Success)
	require.Equal(t, int32(404), *repo.logs[0].StatusCode)

	require.Len(t, repo.updates, 1)
	require.False(t, *repo.updates[0].Active)
	require.Contains(t, *repo.updates[0].LastError, "404")
}

func TestProcess_TooManyRequestsRetriesOnce(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, &fakeSender{res: Result{StatusCode: 429}})

	// Первая попытка: повтор.
	err := w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 1})
	require.Error(t, err)
	require.False(t, errors.Is(err, hookqueue.ErrNoRetry))

	// Вторая: терминал.
	err = w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 2})
	require.Error(t, err)
	require.True(t, errors.Is(err, hookqueue.ErrNoRetry))

	require.Len(t, repo.logs, 2)
	require.False(t, *repo.updates[1].Active)
}

func TestProcess_NetworkErrorRetries(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, &fakeSender{res: Result{Err: errors.New("dial tcp: connection refused")}})

	err := w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 2})
	require.Error(t, err)
	require.False(t, errors.Is(err, hookqueue.ErrNoRetry))

	require.Len(t, repo.logs, 1)
	require.Nil(t, repo.logs[0].StatusCode)
	require.Contains(t, *repo.logs[0].ErrorMessage, "connection refused")
}

func TestProcess_MissingRegistrationTerminates(t *testing.T) {
	repo := &fakeRepo{incrementErr: pgwebhook.ErrNotFound}
	s := &fakeSender{}
	w := New(repo, s)

	err := w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 1})
	require.Error(t, err)
	require.True(t, errors.Is(err, hookqueue.ErrNoRetry))
	require.Empty(t, s.reqs)
	require.Empty(t, repo.logs)
}

func TestProcess_TruncatesLongResponseBody(t *testing.T) {
	repo := &fakeRepo{}
	long := strings.Repeat("x", 3000)
	w := New(repo, &fakeSender{res: Result{StatusCode: 500, Body: long}})

	_ = w.Process(context.Background(), payload(), hookqueue.Attempt{Number: 1})
	require.Len(t, repo.logs, 1)
	require.Len(t, *repo.logs[0].ResponseBody, 1000)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		res     Result
		attempt int32
		want    outcome
	}{
		{"200", Result{StatusCode: 200}, 1, outcomeSuccess},
		{"204", Result{StatusCode: 204}, 1, outcomeSuccess},
		{"500", Result{StatusCode: 500}, 1, outcomeRetry},
		{"503", Result{StatusCode: 503}, 4, outcomeRetry},
		{"400", Result{StatusCode: 400}, 1, outcomeTerminal},
		{"401", Result{StatusCode: 401}, 1, outcomeTerminal},
		{"403", Result{StatusCode: 403}, 1, outcomeTerminal},
		{"404", Result{StatusCode: 404}, 1, outcomeTerminal},
		{"429 first", Result{StatusCode: 429}, 1, outcomeRetry},
		{"429 second", Result{StatusCode: 429}, 2, outcomeTerminal},
		{"418 first", Result{StatusCode: 418}, 1, outcomeRetry},
		{"network", Result{Err: errors.New("timeout")}, 3, outcomeRetry},
		{"weird 600", Result{StatusCode: 600}, 1, outcomeRetry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, classify(tc.res, tc.attempt))
		})
	}
}
