package models

import (
	"time"

	"gorm.io/datatypes"
)

// Evaluation task lifecycle states.
const (
	TaskStatusPending   = "pending"
	TaskStatusSubmitted = "submitted"
	TaskStatusScored    = "scored"
	TaskStatusArchived  = "archived"
)

// EvaluationTask is the registry row for an evaluation assignment handed to a teacher.
type EvaluationTask struct {
	TaskID         string                      `gorm:"primaryKey;size:64" json:"task_id"`
	TeacherID      string                      `gorm:"size:64;not null;index" json:"teacher_id"`
	FileType       string                      `gorm:"size:32;not null" json:"file_type"`
	FileReferences datatypes.JSONSlice[string] `json:"file_references"`
	CustomTotal    *float64                    `json:"custom_total,omitempty"`
	Status         string                      `gorm:"size:16;not null;default:pending;index" json:"status"`
	FinalScore     *float64                    `json:"final_score,omitempty"`
	Grade          string                      `gorm:"size:2" json:"grade"`
	Summary        string                      `gorm:"type:text" json:"summary"`
	ScoredAt       *time.Time                  `json:"scored_at,omitempty"`
	ArchiveID      *string                     `gorm:"size:36" json:"archive_id,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}
