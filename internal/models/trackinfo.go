package models

import "time"

// Нормализованные статусы событий трекинга (можно расширять).
type EventStatus string

const (
	EventStatusInformationReceived EventStatus = "INFORMATION_RECEIVED"
	EventStatusAtPickup            EventStatus = "AT_PICKUP"
	EventStatusInTransit           EventStatus = "IN_TRANSIT"
	EventStatusOutForDelivery      EventStatus = "OUT_FOR_DELIVERY"
	EventStatusAttemptFail         EventStatus = "ATTEMPT_FAIL"
	EventStatusDelivered           EventStatus = "DELIVERED"
	EventStatusAvailableForPickup  EventStatus = "AVAILABLE_FOR_PICKUP"
	EventStatusException           EventStatus = "EXCEPTION"
	EventStatusUnknown             EventStatus = "UNKNOWN"
)

type TrackEvent struct {
	Status    EventStatus `json:"status"`
	StatusRaw string      `json:"statusRaw,omitempty"`
	Time      time.Time   `json:"time"`
	Location  *string     `json:"location,omitempty"`
	Message   *string     `json:"message,omitempty"`
}

type Address struct {
	Name        *string `json:"name,omitempty"`
	PostalCode  *string `json:"postalCode,omitempty"`
	CountryCode *string `json:"countryCode,omitempty"`
	Address     *string `json:"address,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

type TrackInfo struct {
	Events              []TrackEvent      `json:"events"`
	Sender              *Address          `json:"sender,omitempty"`
	Recipient           *Address          `json:"recipient,omitempty"`
	CarrierSpecificData map[string]string `json:"carrierSpecificData,omitempty"`
}
