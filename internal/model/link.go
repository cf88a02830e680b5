package model

import "time"

// Link is a SmartLink page. ID is the stable identifier used for stat
// buckets; Slug is the public path segment and may change.
type Link struct {
	ID        string    `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Slug      string    `json:"slug"`
	TargetURL string    `json:"target_url"`
	CreatedAt time.Time `json:"created_at"`
}
