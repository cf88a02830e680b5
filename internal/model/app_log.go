package model

import "time"

// AppLog is an append-only record of a failure that needs manual follow-up.
type AppLog struct {
	ID         int64     `json:"id"`
	DeliveryID string    `json:"delivery_id"`
	Source     string    `json:"source"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	Payload    string    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
