package model

import "time"

// Package is the subscription tier that gates feature access.
type Package string

const (
	PackageArtist Package = "ARTIST"
	PackageLabel  Package = "LABEL"
	PackageAgency Package = "AGENCY"
)

// Valid reports whether p is one of the known packages.
func (p Package) Valid() bool {
	switch p {
	case PackageArtist, PackageLabel, PackageAgency:
		return true
	}
	return false
}

// Status is the subscription lifecycle state.
type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

type Subscriber struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Package   *Package  `json:"package"`
	Status    Status    `json:"status"`
	Courses   []string  `json:"courses"`
	LastEvent string    `json:"last_event"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCourse reports whether the subscriber is entitled to the course slug.
func (s *Subscriber) HasCourse(slug string) bool {
	for _, c := range s.Courses {
		if c == slug {
			return true
		}
	}
	return false
}
