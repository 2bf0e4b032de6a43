package service

import (
	"gorm.io/datatypes"

	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/models"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

func recordFromResult(result scoring.Result, bonusItems []scoring.BonusItem, actor string) *models.ScoringRecord {
	return &models.ScoringRecord{
		TaskID:            result.TaskID,
		InputFingerprint:  result.InputFingerprint,
		TeacherID:         result.TeacherID,
		FileType:          string(result.FileType),
		TemplateVersion:   result.TemplateVersion,
		Status:            models.ScoringStatusScored,
		EffectiveTotal:    result.EffectiveTotal,
		BonusCap:          result.BonusCap,
		VetoTriggered:     result.VetoTriggered,
		VetoReason:        result.VetoReason,
		ScoreDetails:      datatypes.JSONSlice[scoring.ScoreDetail](result.ScoreDetails),
		BonusItems:        datatypes.JSONSlice[scoring.BonusItem](bonusItems),
		BaseScore:         result.BaseScore,
		BonusScore:        result.BonusScore,
		FinalScore:        result.FinalScore,
		Grade:             string(result.Grade),
		Summary:           result.Summary,
		RawResponse:       result.RawResponse,
		Repaired:          result.Audit.Repaired,
		Clamped:           result.Audit.Clamped,
		ClampedIndicators: datatypes.JSONSlice[string](result.Audit.ClampedIndicators),
		MissingSections:   datatypes.JSONSlice[string](result.Audit.MissingSections),
		Actor:             actor,
		ScoredAt:          result.ScoredAt,
	}
}

func resultFromRecord(record models.ScoringRecord) scoring.Result {
	return scoring.Result{
		TaskID:           record.TaskID,
		TeacherID:        record.TeacherID,
		FileType:         scoring.FileType(record.FileType),
		VetoTriggered:    record.VetoTriggered,
		VetoReason:       record.VetoReason,
		ScoreDetails:     append([]scoring.ScoreDetail(nil), record.ScoreDetails...),
		BaseScore:        record.BaseScore,
		BonusScore:       record.BonusScore,
		FinalScore:       record.FinalScore,
		EffectiveTotal:   record.EffectiveTotal,
		BonusCap:         record.BonusCap,
		Grade:            scoring.Grade(record.Grade),
		Summary:          record.Summary,
		RawResponse:      record.RawResponse,
		InputFingerprint: record.InputFingerprint,
		TemplateVersion:  record.TemplateVersion,
		Audit: scoring.Audit{
			Repaired:          record.Repaired,
			Clamped:           record.Clamped,
			ClampedIndicators: append([]string(nil), record.ClampedIndicators...),
			MissingSections:   append([]string(nil), record.MissingSections...),
		},
		ScoredAt: record.ScoredAt,
	}
}

// NewBatchScoreResponse summarises batch outcomes, keeping input order.
func NewBatchScoreResponse(outcomes []BatchOutcome) dto.BatchScoreResponse {
	response := dto.BatchScoreResponse{
		Total:   len(outcomes),
		Results: make([]dto.BatchScoreItem, 0, len(outcomes)),
	}
	for _, outcome := range outcomes {
		item := dto.BatchScoreItem{TaskID: outcome.TaskID}
		if outcome.Failure != nil {
			item.Status = "failed"
			item.Error = outcome.Failure
			response.Failed++
		} else {
			item.Status = "scored"
			item.Result = outcome.Result
			response.Success++
		}
		response.Results = append(response.Results, item)
	}
	return response
}
