package messages

import "time"

// WebhookChanged публикуется монитором при каждом переходе чексуммы —
// для внутренних потребителей (аналитика, аудит). Доставка самого вебхука
// идёт отдельным путём через очередь и от Kafka не зависит.
type WebhookChanged struct {
	RegistrationID string `json:"registration_id"`
	CarrierID      string `json:"carrier_id"`
	TrackingNumber string `json:"tracking_number"`

	PreviousChecksum *string `json:"previous_checksum,omitempty"`
	CurrentChecksum  string  `json:"current_checksum"`

	EventCount int       `json:"event_count"`
	CheckedAt  time.Time `json:"checked_at"`
}
