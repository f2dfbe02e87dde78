package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/TrackHooks/internal/checksum"
	"github.com/BearBump/TrackHooks/internal/integrations/carrier"
	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/BearBump/TrackHooks/internal/queue/hookqueue"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	regs        map[string]*models.WebhookRegistration
	due         []*models.WebhookRegistration
	updates     []models.WebhookPatch
	updateIDs   []string
	deactivated []string
	updateErr   error
}

func newFakeRepo(regs ...*models.WebhookRegistration) *fakeRepo {
	m := make(map[string]*models.WebhookRegistration)
	for _, r := range regs {
		m[r.ID] = r
	}
	return &fakeRepo{regs: m}
}

func (f *fakeRepo) FindByID(_ context.Context, id string) (*models.WebhookRegistration, error) {
	return f.regs[id], nil
}

func (f *fakeRepo) FindDueForCheck(_ context.Context, _ int) ([]*models.WebhookRegistration, error) {
	return f.due, nil
}

func (f *fakeRepo) Update(_ context.Context, id string, patch models.WebhookPatch) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updateIDs = append(f.updateIDs, id)
	f.updates = append(f.updates, patch)
	return nil
}

func (f *fakeRepo) Deactivate(_ context.Context, id string) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeCache struct {
	data map[string]*models.TrackInfo
	sets int
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string]*models.TrackInfo)} }

func (f *fakeCache) Get(carrierID, trackingNumber string) *models.TrackInfo {
	return f.data[carrierID+"|"+trackingNumber]
}

func (f *fakeCache) Set(carrierID, trackingNumber string, info *models.TrackInfo) {
	f.sets++
	f.data[carrierID+"|"+trackingNumber] = info
}

type fakeCarrier struct {
	info  *models.TrackInfo
	err   error
	calls int
}

func (f *fakeCarrier) Track(_ context.Context, _ string) (*models.TrackInfo, error) {
	f.calls++
	return f.info, f.err
}

type fakeCarriers struct {
	clients map[string]carrier.Client
}

func (f *fakeCarriers) Get(id string) (carrier.Client, bool) {
	c, ok := f.clients[id]
	return c, ok
}

type fakeQueue struct {
	scheduled  []hookqueue.MonitorPayload
	deliveries []hookqueue.DeliveryPayload
	removed    []string
	calls      []string // порядок вызовов, важен для гарантии "enqueue до записи чексуммы"
	enqueueErr error
}

func (f *fakeQueue) ScheduleMonitor(_ context.Context, p hookqueue.MonitorPayload) error {
	f.scheduled = append(f.scheduled, p)
	f.calls = append(f.calls, "schedule")
	return nil
}

func (f *fakeQueue) EnqueueDelivery(_ context.Context, p hookqueue.DeliveryPayload) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.deliveries = append(f.deliveries, p)
	f.calls = append(f.calls, "delivery")
	return nil
}

func (f *fakeQueue) RemoveScheduled(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	f.calls = append(f.calls, "remove")
	return nil
}

type fakeRL struct {
	allowed bool
	err     error
}

func (f fakeRL) AllowCarrier(_ context.Context, _ string, _ int64) (bool, int64, error) {
	return f.allowed, 1, f.err
}

func reg(id string) *models.WebhookRegistration {
	return &models.WebhookRegistration{
		ID:             id,
		CarrierID:      "kr.cjlogistics",
		TrackingNumber: "100000001",
		CallbackURL:    "https://hook.test/r1",
		ExpirationTime: time.Now().UTC().Add(time.Hour),
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}
}

func threeEvents() []models.TrackEvent {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return []models.TrackEvent{
		{Status: models.EventStatusInformationReceived, Time: base},
		{Status: models.EventStatusAtPickup, Time: base.Add(time.Hour)},
		{Status: models.EventStatusInTransit, Time: base.Add(2 * time.Hour)},
	}
}

func payload(id string) hookqueue.MonitorPayload {
	return hookqueue.MonitorPayload{RegistrationID: id, CarrierID: "kr.cjlogistics", TrackingNumber: "100000001"}
}

func TestProcess_MissingOrInactiveRemovesSchedule(t *testing.T) {
	q := &fakeQueue{}
	w := New(newFakeRepo(), newFakeCache(), &fakeCarriers{}, q)

	require.NoError(t, w.Process(context.Background(), payload("ghost")))
	require.Equal(t, []string{"ghost"}, q.removed)
	require.Empty(t, q.deliveries)

	inactive := reg("r1")
	inactive.Active = false
	q2 := &fakeQueue{}
	w2 := New(newFakeRepo(inactive), newFakeCache(), &fakeCarriers{}, q2)
	require.NoError(t, w2.Process(context.Background(), payload("r1")))
	require.Equal(t, []string{"r1"}, q2.removed)
}

func TestProcess_ExpiredDeactivates(t *testing.T) {
	r := reg("r1")
	r.ExpirationTime = time.Now().UTC().Add(-time.Second)
	repo := newFakeRepo(r)
	q := &fakeQueue{}
	w := New(repo, newFakeCache(), &fakeCarriers{}, q)

	require.NoError(t, w.Process(context.Background(), payload("r1")))
	require.Equal(t, []string{"r1"}, repo.deactivated)
	require.Equal(t, []string{"r1"}, q.removed)
	require.Empty(t, q.deliveries)
}

func TestProcess_UnknownCarrier(t *testing.T) {
	repo := newFakeRepo(reg("r1"))
	q := &fakeQueue{}
	w := New(repo, newFakeCache(), &fakeCarriers{clients: map[string]carrier.Client{}}, q)

	require.NoError(t, w.Process(context.Background(), payload("r1")))
	require.Len(t, repo.updates, 1)
	require.NotNil(t, repo.updates[0].LastError)
	require.Equal(t, "Carrier not found: kr.cjlogistics", *repo.updates[0].LastError)
	require.NotNil(t, repo.updates[0].LastCheckedAt)
	require.Empty(t, q.deliveries)
}

func TestProcess_CarrierErrorIsAbsorbed(t *testing.T) {
	repo := newFakeRepo(reg("r1"))
	q := &fakeQueue{}
	fc := &fakeCarrier{err: errors.New("boom")}
	w := New(repo, newFakeCache(), &fakeCarriers{clients: map[string]carrier.Client{"kr.cjlogistics": fc}}, q)

	// Ошибка перевозчика не должна ни ронять тик, ни ставить доставку,
	// ни двигать чексумму.
	require.NoError(t, w.Process(context.Background(), payload("r1")))
	require.Empty(t, q.deliveries)
	require.Len(t, repo.updates, 1)
	require.Equal(t, "Tracking API error: boom", *repo.updates[0].LastError)
	require.Nil(t, repo.updates[0].LastChecksum)
	require.Nil(t, repo.updates[0].Active)
}

func TestProcess_FirstTickRecordsBaselineWithoutDelivery(t *testing.T) {
	repo := newFakeRepo(reg("r1"))
	q := &fakeQueue{}
	info := &models.TrackInfo{Events: threeEvents()}
	fc := &fakeCarrier{info: info}
	cache := newFakeCache()
	w := New(repo, cache, &fakeCarriers{clients: map[string]carrier.Client{"kr.cjlogistics": fc}}, q)

	// Первая успешная проверка: базовая чексумма пишется, доставок нет.
	require.NoError(t, w.Process(context.Background(), payload("r1")))

	require.Empty(t, q.deliveries)
	require.Empty(t, q.calls)

	want, err := checksum.OfEvents(info.Events)
	require.NoError(t, err)
	require.Len(t, repo.updates, 1)
	require.NotNil(t, repo.updates[0].LastChecksum)
	require.Equal(t, want, *repo.updates[0].LastChecksum)
	require.NotNil(t, repo.updates[0].LastCheckedAt)

	// Результат опроса закэширован.
	require.Equal(t, 1, cache.sets)
}

func TestProcess_TransitionEnqueuesDeliveryBeforeChecksumWrite(t *testing.T) {
	r := reg("r1")
	old, err := checksum.OfEvents(threeEvents()[:2])
	require.NoError(t, err)
	r.LastChecksum = &old

	repo := newFakeRepo(r)
	q := &fakeQueue{}
	info := &models.TrackInfo{Events: threeEvents()}
	fc := &fakeCarrier{info: info}
	w := New(repo, newFakeCache(), &fakeCarriers{clients: map[string]carrier.Client{"kr.cjlogistics": fc}}, q)

	require.NoError(t, w.Process(context.Background(), payload("r1")))

	require.Len(t, q.deliveries, 1)
	d := q.deliveries[0]
	require.Equal(t, "r1", d.RegistrationID)
	require.Equal(t, "https://hook.test/r1", d.CallbackURL)
	require.NotNil(t, d.PreviousChecksum)
	require.Equal(t, old, *d.PreviousChecksum)

	want, err := checksum.OfEvents(info.Events)
	require.NoError(t, err)
	require.Equal(t, want, d.CurrentChecksum)

	require.Len(t, repo.updates, 1)
	require.NotNil(t, repo.updates[0].LastChecksum)
	require.Equal(t, want, *repo.updates[0].LastChecksum)
	require.True(t, repo.updates[0].ClearLastError)

	// Доставка ставится до записи чексуммы.
	require.Equal(t, []string{"delivery"}, q.calls)
}

func TestProcess_NoChangeOnlyTouchesLastChecked(t *testing.T) {
	r := reg("r1")
	info := &models.TrackInfo{Events: threeEvents()}
	cs, err := checksum.OfEvents(info.Events)
	require.NoError(t, err)
	r.LastChecksum = &cs

	repo := newFakeRepo(r)
	q := &fakeQueue{}
	fc := &fakeCarrier{info: info}
	w := New(repo, newFakeCache(), &fakeCarriers{clients: map[string]carrier.Client{"kr.cjlogistics": fc}}, q)

	require.NoError(t, w.Process(context.Background(), payload("r1")))
	require.Empty(t, q.deliveries)
	require.Len(t, repo.updates, 1)
	require.Nil(t, repo.updates[0].LastChecksum)
	require.NotNil(t, repo.updates[0].LastCheckedAt)
}

func TestProcess_EnqueueFailureKeepsChecksum(t *testing.T) {
	r := reg("r1")
	old := "stale-checksum"
	r.LastChecksum = &old

	repo := newFakeRepo(r)
	q := &fakeQueue{enqueueErr: errors.New("redis down")}
	fc := &fakeCarrier{info: &models.TrackInfo{Events: threeEvents()}}
	w := New(repo, newFakeCache(), &fakeCarriers{clients: map[string]carrier.Client{"kr.cjlogistics": fc}}, q)

	// Постановка доставки упала — чексумма НЕ записывается, тик уходит в
	// ретрай, переход не теряется.
	require.Error(t, w.Process(context.Background(), payload("r1")))
	require.Empty(t, repo.updates)
}

func TestProcess_CacheHitSkipsCarrier(t *testing.T) {
	r := reg("r1")
	old := "stale-checksum"
	r.LastChecksum = &old

	repo := newFakeRepo(r)
	q := &fakeQueue{}
	fc := &fakeCarrier{info: &models.TrackInfo{Events: threeEvents()}}
	cache := newFakeCache()
	cache.Set("kr.cjlogistics", "100000001", &models.TrackInfo{Events: threeEvents()})
	cache.sets = 0
	w := New(repo, cache, &fakeCarriers{clients: map[string]carrier.Client{"kr.cjlogistics": fc}}, q)

	require.NoError(t, w.Process(context.Background(), payload("r1")))
	require.Zero(t, fc.calls)
	require.Len(t, q.deliveries, 1)
}

func TestProcess_RateLimitRetriesWithoutLastError(t *testing.T) {
	repo := newFakeRepo(reg("r1"))
	q := &fakeQueue{}
	fc := &fakeCarrier{info: &models.TrackInfo{Events: threeEvents()}}
	w := New(repo, newFakeCache(), &fakeCarriers{clients: map[string]carrier.Client{"kr.cjlogistics": fc}}, q).
		WithRateLimiter(fakeRL{allowed: false}, 60)

	require.Error(t, w.Process(context.Background(), payload("r1")))
	require.Zero(t, fc.calls)
	require.Empty(t, repo.updates)
}

func TestDispatch_SchedulesDue(t *testing.T) {
	repo := newFakeRepo()
	repo.due = []*models.WebhookRegistration{reg("r1"), reg("r2")}
	q := &fakeQueue{}
	w := New(repo, newFakeCache(), &fakeCarriers{}, q)

	require.NoError(t, w.Dispatch(context.Background()))
	require.Len(t, q.scheduled, 2)
	require.Equal(t, "r1", q.scheduled[0].RegistrationID)
	require.Equal(t, "r2", q.scheduled[1].RegistrationID)
}
