// Package model defines the core domain records shared across packages.
// The relational store owns all records; these structs are transient views.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Buyer is a contracting authority. Created on first sight, never deleted.
// The slug is the stable upsert key; canonical_name may be refreshed on
// later releases from the same buyer.
type Buyer struct {
	ID            uuid.UUID      `json:"id"`
	CanonicalName string         `json:"canonical_name"`
	Slug          string         `json:"slug"`
	Identifiers   map[string]any `json:"identifiers,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// IngestionLog records one ingestion run. Append-only.
type IngestionLog struct {
	ID             uuid.UUID  `json:"id"`
	Source         string     `json:"source"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Status         RunStatus  `json:"status"`
	ItemsProcessed int        `json:"items_processed"`
	ErrorDetails   *string    `json:"error_details,omitempty"`
}

// RunStatus enumerates ingestion run states.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)
