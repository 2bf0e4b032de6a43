package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

// Scoring record statuses.
const (
	ScoringStatusScored = "scored"
	ScoringStatusFailed = "failed"
)

// ScoringRecord is the persisted outcome of one scoring call, kept for audit even when superseded.
type ScoringRecord struct {
	ID                uint                                     `gorm:"primaryKey" json:"id"`
	TaskID            string                                   `gorm:"size:64;not null;index:idx_scoring_records_task_fp" json:"task_id"`
	InputFingerprint  string                                   `gorm:"size:64;index:idx_scoring_records_task_fp" json:"input_fingerprint"`
	TeacherID         string                                   `gorm:"size:64;index" json:"teacher_id"`
	FileType          string                                   `gorm:"size:32;index" json:"file_type"`
	TemplateVersion   int                                      `json:"template_version"`
	Status            string                                   `gorm:"size:16;not null;index" json:"status"`
	EffectiveTotal    float64                                  `json:"effective_total"`
	BonusCap          float64                                  `json:"bonus_cap"`
	VetoTriggered     bool                                     `json:"veto_triggered"`
	VetoReason        string                                   `gorm:"type:text" json:"veto_reason"`
	ScoreDetails      datatypes.JSONSlice[scoring.ScoreDetail] `json:"score_details"`
	BonusItems        datatypes.JSONSlice[scoring.BonusItem]   `json:"bonus_items"`
	BaseScore         float64                                  `json:"base_score"`
	BonusScore        float64                                  `json:"bonus_score"`
	FinalScore        float64                                  `json:"final_score"`
	Grade             string                                   `gorm:"size:2" json:"grade"`
	Summary           string                                   `gorm:"type:text" json:"summary"`
	RawResponse       string                                   `gorm:"type:text" json:"raw_response"`
	Repaired          bool                                     `json:"repaired"`
	Clamped           bool                                     `json:"clamped"`
	ClampedIndicators datatypes.JSONSlice[string]              `json:"clamped_indicators"`
	MissingSections   datatypes.JSONSlice[string]              `json:"missing_sections"`
	ErrorKind         string                                   `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage      string                                   `gorm:"type:text" json:"error_message,omitempty"`
	Actor             string                                   `gorm:"size:64" json:"actor"`
	Superseded        bool                                     `gorm:"not null;default:false;index" json:"superseded"`
	SupersededBy      *uint                                    `json:"superseded_by,omitempty"`
	Archived          bool                                     `gorm:"not null;default:false" json:"archived"`
	ArchiveID         *string                                  `gorm:"size:36" json:"archive_id,omitempty"`
	ScoredAt          time.Time                                `json:"scored_at"`
	CreatedAt         time.Time                                `json:"created_at"`
	UpdatedAt         time.Time                                `json:"updated_at"`
}

// ArchivedScore is an immutable snapshot of a scoring record addressed by a stable archive id.
type ArchivedScore struct {
	ArchiveID  string                            `gorm:"primaryKey;size:36" json:"archive_id"`
	RecordID   uint                              `gorm:"not null;uniqueIndex" json:"record_id"`
	TaskID     string                            `gorm:"size:64;not null;index" json:"task_id"`
	TeacherID  string                            `gorm:"size:64;index" json:"teacher_id"`
	FileType   string                            `gorm:"size:32;index" json:"file_type"`
	Grade      string                            `gorm:"size:2" json:"grade"`
	FinalScore float64                           `json:"final_score"`
	Snapshot   datatypes.JSONType[ScoringRecord] `json:"snapshot"`
	ArchivedBy string                            `gorm:"size:64" json:"archived_by"`
	ArchivedAt time.Time                         `json:"archived_at"`
}
