package models

import "time"

type WebhookRegistration struct {
	ID             string
	CarrierID      string
	TrackingNumber string
	CallbackURL    string
	ExpirationTime time.Time
	Active         bool

	LastChecksum  *string
	LastCheckedAt *time.Time

	DeliveryAttempts int32
	LastDeliveryAt   *time.Time
	LastError        *string

	CreatedAt time.Time
}

type WebhookCreateInput struct {
	CarrierID      string
	TrackingNumber string
	CallbackURL    string
	ExpirationTime time.Time
}

// WebhookPatch — частичное обновление регистрации. nil-поле не трогается.
type WebhookPatch struct {
	LastChecksum  *string
	LastCheckedAt *time.Time
	LastError     *string
	ClearLastError bool
	Active        *bool
}

type WebhookDeliveryLog struct {
	ID             uint64
	RegistrationID string
	AttemptNumber  int32
	StatusCode     *int32
	Success        bool
	ErrorMessage   *string
	RequestBody    string
	ResponseBody   *string
	DeliveredAt    time.Time
}

type DeliveryLogInput struct {
	RegistrationID string
	AttemptNumber  int32
	StatusCode     *int32
	Success        bool
	ErrorMessage   *string
	RequestBody    string
	ResponseBody   *string
}
