package dto

import (
	"time"

	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginationMeta computes total pages for the given page window.
func NewPaginationMeta(page, pageSize int, total int64) PaginationMeta {
	if page <= 0 {
		page = 1
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return PaginationMeta{Page: page, PageSize: pageSize, TotalItems: total, TotalPages: totalPages}
}

// ScoreTaskRequest is the body of POST /scoring/score/{task_id}.
type ScoreTaskRequest struct {
	BonusItems []scoring.BonusItem `json:"bonus_items" validate:"max=20,dive"`
}

// BatchScoreRequest is the body of POST /scoring/batch-score.
type BatchScoreRequest struct {
	TaskIDs []string `json:"task_ids" validate:"required,min=1,max=200,dive,required,max=64"`
}

// BatchScoreItem is one per-task outcome, in input order.
type BatchScoreItem struct {
	TaskID string               `json:"task_id"`
	Status string               `json:"status"`
	Result *scoring.Result      `json:"result,omitempty"`
	Error  *scoring.FailureInfo `json:"error,omitempty"`
}

// BatchScoreResponse summarises a batch scoring run.
type BatchScoreResponse struct {
	Total   int              `json:"total"`
	Success int              `json:"success"`
	Failed  int              `json:"failed"`
	Results []BatchScoreItem `json:"results"`
}

// ScoringRecordListRequest defines filters for listing scoring records.
type ScoringRecordListRequest struct {
	TaskID            string
	TeacherID         string
	FileType          string
	Status            string
	IncludeSuperseded bool
	Page              int
	PageSize          int
}

// ScoringRecordResponse serializes a persisted scoring record.
type ScoringRecordResponse struct {
	ID               uint                  `json:"id"`
	TaskID           string                `json:"task_id"`
	TeacherID        string                `json:"teacher_id"`
	FileType         string                `json:"file_type"`
	Status           string                `json:"status"`
	TemplateVersion  int                   `json:"template_version"`
	InputFingerprint string                `json:"input_fingerprint"`
	EffectiveTotal   float64               `json:"effective_total"`
	BonusCap         float64               `json:"bonus_cap"`
	VetoTriggered    bool                  `json:"veto_triggered"`
	VetoReason       string                `json:"veto_reason,omitempty"`
	ScoreDetails     []scoring.ScoreDetail `json:"score_details"`
	BonusItems       []scoring.BonusItem   `json:"bonus_items"`
	BaseScore        float64               `json:"base_score"`
	BonusScore       float64               `json:"bonus_score"`
	FinalScore       float64               `json:"final_score"`
	Grade            string                `json:"grade,omitempty"`
	Summary          string                `json:"summary,omitempty"`
	RawResponse      string                `json:"raw_response,omitempty"`
	Audit            scoring.Audit         `json:"audit"`
	ErrorKind        string                `json:"error_kind,omitempty"`
	ErrorMessage     string                `json:"error_message,omitempty"`
	Actor            string                `json:"actor"`
	Superseded       bool                  `json:"superseded"`
	Archived         bool                  `json:"archived"`
	ArchiveID        string                `json:"archive_id,omitempty"`
	ScoredAt         time.Time             `json:"scored_at"`
}

// NewScoringRecordResponse maps a record row to its API shape.
func NewScoringRecordResponse(record models.ScoringRecord) ScoringRecordResponse {
	details := []scoring.ScoreDetail(record.ScoreDetails)
	if details == nil {
		details = []scoring.ScoreDetail{}
	}
	bonus := []scoring.BonusItem(record.BonusItems)
	if bonus == nil {
		bonus = []scoring.BonusItem{}
	}
	archiveID := ""
	if record.ArchiveID != nil {
		archiveID = *record.ArchiveID
	}
	return ScoringRecordResponse{
		ID:               record.ID,
		TaskID:           record.TaskID,
		TeacherID:        record.TeacherID,
		FileType:         record.FileType,
		Status:           record.Status,
		TemplateVersion:  record.TemplateVersion,
		InputFingerprint: record.InputFingerprint,
		EffectiveTotal:   record.EffectiveTotal,
		BonusCap:         record.BonusCap,
		VetoTriggered:    record.VetoTriggered,
		VetoReason:       record.VetoReason,
		ScoreDetails:     details,
		BonusItems:       bonus,
		BaseScore:        record.BaseScore,
		BonusScore:       record.BonusScore,
		FinalScore:       record.FinalScore,
		Grade:            record.Grade,
		Summary:          record.Summary,
		RawResponse:      record.RawResponse,
		Audit: scoring.Audit{
			Repaired:          record.Repaired,
			Clamped:           record.Clamped,
			ClampedIndicators: []string(record.ClampedIndicators),
			MissingSections:   []string(record.MissingSections),
		},
		ErrorKind:    record.ErrorKind,
		ErrorMessage: record.ErrorMessage,
		Actor:        record.Actor,
		Superseded:   record.Superseded,
		Archived:     record.Archived,
		ArchiveID:    archiveID,
		ScoredAt:     record.ScoredAt,
	}
}

// ScoringRecordListResponse wraps a page of records.
type ScoringRecordListResponse struct {
	Items      []ScoringRecordResponse `json:"items"`
	Pagination PaginationMeta          `json:"pagination"`
}

// ArchivedScoreListRequest defines filters for listing archives.
type ArchivedScoreListRequest struct {
	TeacherID string
	FileType  string
	Grade     string
	Page      int
	PageSize  int
}

// ArchivedScoreResponse is the list shape of an archive.
type ArchivedScoreResponse struct {
	ArchiveID  string    `json:"archive_id"`
	TaskID     string    `json:"task_id"`
	TeacherID  string    `json:"teacher_id"`
	FileType   string    `json:"file_type"`
	Grade      string    `json:"grade"`
	FinalScore float64   `json:"final_score"`
	ArchivedBy string    `json:"archived_by"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ArchivedScoreDetailResponse adds the immutable record snapshot.
type ArchivedScoreDetailResponse struct {
	ArchivedScoreResponse
	Record ScoringRecordResponse `json:"record"`
}

// NewArchivedScoreResponse maps an archive row to its list shape.
func NewArchivedScoreResponse(archive models.ArchivedScore) ArchivedScoreResponse {
	return ArchivedScoreResponse{
		ArchiveID:  archive.ArchiveID,
		TaskID:     archive.TaskID,
		TeacherID:  archive.TeacherID,
		FileType:   archive.FileType,
		Grade:      archive.Grade,
		FinalScore: archive.FinalScore,
		ArchivedBy: archive.ArchivedBy,
		ArchivedAt: archive.ArchivedAt,
	}
}

// NewArchivedScoreDetailResponse maps an archive row including its snapshot.
func NewArchivedScoreDetailResponse(archive models.ArchivedScore) ArchivedScoreDetailResponse {
	return ArchivedScoreDetailResponse{
		ArchivedScoreResponse: NewArchivedScoreResponse(archive),
		Record:                NewScoringRecordResponse(archive.Snapshot.Data()),
	}
}

// ArchivedScoreListResponse wraps a page of archives.
type ArchivedScoreListResponse struct {
	Items      []ArchivedScoreResponse `json:"items"`
	Pagination PaginationMeta          `json:"pagination"`
}

// TemplateUpdateRequest replaces the active template of a file type.
type TemplateUpdateRequest struct {
	Criteria     []scoring.Criterion `json:"criteria" validate:"required,min=1,max=30,dive"`
	VetoRules    []scoring.VetoRule  `json:"veto_rules" validate:"max=30,dive"`
	DefaultTotal float64             `json:"default_total" validate:"gt=0,lte=1000"`
	BonusCap     float64             `json:"bonus_cap" validate:"gte=0,lte=1000"`
}

// TemplateResponse serializes a scoring template.
type TemplateResponse struct {
	FileType     string              `json:"file_type"`
	Label        string              `json:"label"`
	Version      int                 `json:"version"`
	Active       bool                `json:"active"`
	Criteria     []scoring.Criterion `json:"criteria"`
	VetoRules    []scoring.VetoRule  `json:"veto_rules"`
	DefaultTotal float64             `json:"default_total"`
	BonusCap     float64             `json:"bonus_cap"`
	UpdatedBy    string              `json:"updated_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// NewTemplateResponse maps a domain template to its API shape.
func NewTemplateResponse(tmpl scoring.Template) TemplateResponse {
	vetoRules := tmpl.VetoRules
	if vetoRules == nil {
		vetoRules = []scoring.VetoRule{}
	}
	return TemplateResponse{
		FileType:     string(tmpl.FileType),
		Label:        tmpl.FileType.Label(),
		Version:      tmpl.Version,
		Active:       tmpl.Active,
		Criteria:     tmpl.Criteria,
		VetoRules:    vetoRules,
		DefaultTotal: tmpl.DefaultTotal,
		BonusCap:     tmpl.BonusCap,
		UpdatedBy:    tmpl.UpdatedBy,
		CreatedAt:    tmpl.CreatedAt,
	}
}
