package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

// ScoringTemplate stores every version of a rubric; at most one row per file type is active.
type ScoringTemplate struct {
	ID           uint                                   `gorm:"primaryKey" json:"id"`
	FileType     string                                 `gorm:"size:32;not null;uniqueIndex:idx_template_type_version" json:"file_type"`
	Version      int                                    `gorm:"not null;uniqueIndex:idx_template_type_version" json:"version"`
	Active       bool                                   `gorm:"not null;default:false;index" json:"active"`
	DefaultTotal float64                                `gorm:"not null" json:"default_total"`
	BonusCap     float64                                `gorm:"not null;default:0" json:"bonus_cap"`
	Criteria     datatypes.JSONSlice[scoring.Criterion] `json:"criteria"`
	VetoRules    datatypes.JSONSlice[scoring.VetoRule]  `json:"veto_rules"`
	UpdatedBy    string                                 `gorm:"size:64" json:"updated_by"`
	CreatedAt    time.Time                              `json:"created_at"`
	UpdatedAt    time.Time                              `json:"updated_at"`
}

// ToDomain converts the row into the scoring template value.
func (t ScoringTemplate) ToDomain() scoring.Template {
	criteria := make([]scoring.Criterion, len(t.Criteria))
	copy(criteria, t.Criteria)
	vetoRules := make([]scoring.VetoRule, len(t.VetoRules))
	copy(vetoRules, t.VetoRules)
	return scoring.Template{
		FileType:     scoring.FileType(t.FileType),
		Version:      t.Version,
		Criteria:     criteria,
		VetoRules:    vetoRules,
		DefaultTotal: t.DefaultTotal,
		BonusCap:     t.BonusCap,
		Active:       t.Active,
		UpdatedBy:    t.UpdatedBy,
		CreatedAt:    t.CreatedAt,
	}
}

// NewScoringTemplate builds a row from a domain template.
func NewScoringTemplate(tmpl scoring.Template) ScoringTemplate {
	return ScoringTemplate{
		FileType:     string(tmpl.FileType),
		Version:      tmpl.Version,
		Active:       tmpl.Active,
		DefaultTotal: tmpl.DefaultTotal,
		BonusCap:     tmpl.BonusCap,
		Criteria:     datatypes.JSONSlice[scoring.Criterion](tmpl.Criteria),
		VetoRules:    datatypes.JSONSlice[scoring.VetoRule](tmpl.VetoRules),
		UpdatedBy:    tmpl.UpdatedBy,
	}
}
