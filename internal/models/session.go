package models

import "time"

// Session is an isolation scope owning exactly one store location.
type Session struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PapersCount   int       `json:"papers_count"`
	ChunksCount   int       `json:"chunks_count"`
	LastBuildAt   time.Time `json:"last_build_at,omitempty"`
	StoreLocation string    `json:"store_location"`
}
