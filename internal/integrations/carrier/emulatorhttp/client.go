package emulatorhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/pkg/errors"
)

// Client ходит в HTTP-эмулятор перевозчика (для стендов без доступа к
// настоящим API).
type Client struct {
	baseURL   string
	apiKey    string
	carrierID string
	httpc     *http.Client
}

func New(baseURL, apiKey, carrierID string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		carrierID: carrierID,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type trackResp struct {
	Status string `json:"status"`
	Data   struct {
		Events []struct {
			Time     string `json:"time"`
			Status   string `json:"status"`
			Location string `json:"location"`
			Message  string `json:"message"`
		} `json:"events"`
		Sender    *addressResp      `json:"sender"`
		Recipient *addressResp      `json:"recipient"`
		Extra     map[string]string `json:"extra"`
	} `json:"data"`
}

type addressResp struct {
	Name       string `json:"name"`
	PostalCode string `json:"postalCode"`
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (*models.TrackInfo, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/api/v1/carriers/%s/tracks/%s", c.carrierID, url.PathEscape(trackingNumber))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("carrier emulator http %d", resp.StatusCode)
	}

	var r trackResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return nil, fmt.Errorf("carrier emulator status=%s", r.Status)
	}

	info := &models.TrackInfo{
		Sender:              toAddress(r.Data.Sender),
		Recipient:           toAddress(r.Data.Recipient),
		CarrierSpecificData: r.Data.Extra,
	}
	for _, e := range r.Data.Events {
		evTime := time.Now().UTC()
		if e.Time != "" {
			if t, err := time.Parse(time.RFC3339, e.Time); err == nil {
				evTime = t.UTC()
			}
		}
		info.Events = append(info.Events, models.TrackEvent{
			Status:    normalizeStatus(e.Status),
			StatusRaw: e.Status,
			Time:      evTime,
			Location:  strPtr(e.Location),
			Message:   strPtr(e.Message),
		})
	}
	return info, nil
}

func toAddress(a *addressResp) *models.Address {
	if a == nil {
		return nil
	}
	return &models.Address{
		Name:       strPtr(a.Name),
		PostalCode: strPtr(a.PostalCode),
	}
}

func normalizeStatus(raw string) models.EventStatus {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")) {
	case "INFORMATION_RECEIVED":
		return models.EventStatusInformationReceived
	case "AT_PICKUP", "PICKED_UP":
		return models.EventStatusAtPickup
	case "IN_TRANSIT":
		return models.EventStatusInTransit
	case "OUT_FOR_DELIVERY":
		return models.EventStatusOutForDelivery
	case "ATTEMPT_FAIL":
		return models.EventStatusAttemptFail
	case "DELIVERED":
		return models.EventStatusDelivered
	case "AVAILABLE_FOR_PICKUP":
		return models.EventStatusAvailableForPickup
	case "EXCEPTION":
		return models.EventStatusException
	default:
		return models.EventStatusUnknown
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
