package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/BearBump/TrackHooks/internal/models"
)

// Client — локальная заглушка перевозчика для демо и тестов.
// Лента детерминирована по трек-номеру и растёт на одно событие при каждом
// опросе, пока посылка не «доедет».
type Client struct {
	carrierID string

	mu    sync.Mutex
	polls map[string]int
}

func New(carrierID string) *Client {
	return &Client{carrierID: carrierID, polls: make(map[string]int)}
}

var timeline = []struct {
	status  models.EventStatus
	message string
}{
	{models.EventStatusInformationReceived, "shipment information received"},
	{models.EventStatusAtPickup, "picked up"},
	{models.EventStatusInTransit, "arrived at sorting hub"},
	{models.EventStatusInTransit, "departed sorting hub"},
	{models.EventStatusOutForDelivery, "out for delivery"},
	{models.EventStatusDelivered, "delivered"},
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (*models.TrackInfo, error) {
	c.mu.Lock()
	c.polls[trackingNumber]++
	poll := c.polls[trackingNumber]
	c.mu.Unlock()

	h := fnv.New32a()
	_, _ = h.Write([]byte(c.carrierID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(trackingNumber))
	seed := h.Sum32()

	// Стартуем с 1-3 событий (по хэшу) и добавляем по одному на каждый опрос.
	n := int(seed%3) + poll
	if n > len(timeline) {
		n = len(timeline)
	}

	base := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	events := make([]models.TrackEvent, 0, n)
	for i := 0; i < n; i++ {
		step := timeline[i]
		loc := fmt.Sprintf("HUB-%d", (seed+uint32(i))%9)
		msg := step.message
		events = append(events, models.TrackEvent{
			Status:    step.status,
			StatusRaw: string(step.status),
			Time:      base.Add(time.Duration(i) * 6 * time.Hour),
			Location:  &loc,
			Message:   &msg,
		})
	}

	sender := "fake sender"
	recipient := "fake recipient"
	return &models.TrackInfo{
		Events:    events,
		Sender:    &models.Address{Name: &sender},
		Recipient: &models.Address{Name: &recipient},
		CarrierSpecificData: map[string]string{
			"carrier": c.carrierID,
			"poll":    fmt.Sprintf("%d", poll),
		},
	}, nil
}
