package api

import (
	"time"

	"github.com/starford/driftguard/internal/models"
)

// BaselineResponse describes the stored baseline of the monitored root.
type BaselineResponse struct {
	Root       string              `json:"root"`
	TakenAt    time.Time           `json:"taken_at"`
	Files      int                 `json:"files"`
	Unreadable int                 `json:"unreadable"`
	TotalBytes int64               `json:"total_bytes"`
	Entries    []models.FileRecord `json:"entries,omitempty"`
}

// CompareResponse wraps an on-demand comparison.
type CompareResponse struct {
	Drift  bool                `json:"drift"`
	Report *models.DriftReport `json:"report"`
}
