package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// FileType enumerates the document categories that carry a scoring template.
type FileType string

const (
	FileTypeLessonPlan         FileType = "lesson_plan"
	FileTypeTeachingReflection FileType = "teaching_reflection"
	FileTypeCourseware         FileType = "courseware"
	FileTypeTeachingSummary    FileType = "teaching_summary"
	FileTypeResearchReport     FileType = "research_report"
)

// ErrUnknownFileType indicates a file type outside the supported enumeration.
var ErrUnknownFileType = errors.New("unknown file type")

// FileTypes lists every supported file type in display order.
func FileTypes() []FileType {
	return []FileType{
		FileTypeLessonPlan,
		FileTypeTeachingReflection,
		FileTypeCourseware,
		FileTypeTeachingSummary,
		FileTypeResearchReport,
	}
}

// ParseFileType normalises user input ("Lesson-Plan", " lesson_plan ") into a FileType.
func ParseFileType(value string) (FileType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	for _, ft := range FileTypes() {
		if string(ft) == normalized {
			return ft, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFileType, value)
}

// Valid reports whether the file type belongs to the enumeration.
func (f FileType) Valid() bool {
	_, err := ParseFileType(string(f))
	return err == nil
}

// Label returns the human readable category name used inside prompts.
func (f FileType) Label() string {
	switch f {
	case FileTypeLessonPlan:
		return "Lesson Plan"
	case FileTypeTeachingReflection:
		return "Teaching Reflection"
	case FileTypeCourseware:
		return "Courseware"
	case FileTypeTeachingSummary:
		return "Teaching Summary"
	case FileTypeResearchReport:
		return "Teaching Research Report"
	default:
		return string(f)
	}
}

// Role is the principal role tag issued by the identity provider.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
)

// Principal identifies who initiated a scoring operation.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the principal may invoke scoring operations.
func (p Principal) IsAdmin() bool {
	return Role(strings.ToLower(strings.TrimSpace(string(p.Role)))) == RoleAdmin
}

// Criterion is a named rubric dimension.
type Criterion struct {
	Name        string  `json:"name" validate:"required,max=120"`
	MaxScore    float64 `json:"max_score" validate:"gt=0"`
	Description string  `json:"description,omitempty" validate:"max=2000"`
}

// VetoRule describes a condition that nullifies every criterion score.
type VetoRule struct {
	Trigger        string `json:"trigger" validate:"required,max=500"`
	ReasonTemplate string `json:"reason_template" validate:"max=500"`
}

// Template is the rubric applied to one file type.
type Template struct {
	FileType     FileType    `json:"file_type" validate:"required"`
	Version      int         `json:"version"`
	Criteria     []Criterion `json:"criteria" validate:"min=1,dive"`
	VetoRules    []VetoRule  `json:"veto_rules" validate:"dive"`
	DefaultTotal float64     `json:"default_total" validate:"gt=0"`
	BonusCap     float64     `json:"bonus_cap" validate:"gte=0"`
	Active       bool        `json:"active"`
	UpdatedBy    string      `json:"updated_by,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ErrTemplateInvariant indicates a template violates its structural invariants.
var ErrTemplateInvariant = errors.New("template invariant violated")

const scoreTolerance = 1e-6

// CheckInvariants enforces sum(criteria.max_score) == default_total and unique criterion names.
func (t Template) CheckInvariants() error {
	if !t.FileType.Valid() {
		return fmt.Errorf("%w: %w", ErrTemplateInvariant, ErrUnknownFileType)
	}
	if len(t.Criteria) == 0 {
		return fmt.Errorf("%w: at least one criterion is required", ErrTemplateInvariant)
	}
	if t.DefaultTotal <= 0 {
		return fmt.Errorf("%w: default total must be positive", ErrTemplateInvariant)
	}
	if t.BonusCap < 0 {
		return fmt.Errorf("%w: bonus cap must not be negative", ErrTemplateInvariant)
	}

	seen := make(map[string]struct{}, len(t.Criteria))
	var sum float64
	for _, criterion := range t.Criteria {
		key := normalizeIndicator(criterion.Name)
		if key == "" {
			return fmt.Errorf("%w: criterion name must not be empty", ErrTemplateInvariant)
		}
		if _, exists := seen[key]; exists {
			return fmt.Errorf("%w: duplicate criterion %q", ErrTemplateInvariant, criterion.Name)
		}
		seen[key] = struct{}{}
		if criterion.MaxScore <= 0 {
			return fmt.Errorf("%w: criterion %q must have a positive max score", ErrTemplateInvariant, criterion.Name)
		}
		sum += criterion.MaxScore
	}

	if math.Abs(sum-t.DefaultTotal) > scoreTolerance {
		return fmt.Errorf("%w: criteria sum %.2f does not equal default total %.2f", ErrTemplateInvariant, sum, t.DefaultTotal)
	}
	return nil
}

// BonusItem is an extra credit line supplied per scoring call.
type BonusItem struct {
	Label  string  `json:"label" validate:"required,max=120"`
	Points float64 `json:"points" validate:"gte=0"`
}

// ErrBonusExceedsCap indicates bonus points break the template cap.
var ErrBonusExceedsCap = errors.New("bonus points exceed template cap")

// CheckBonusItems enforces 0 <= points <= cap per item and sum(points) <= cap.
func CheckBonusItems(items []BonusItem, bonusCap float64) error {
	var total float64
	for _, item := range items {
		if item.Points < 0 {
			return fmt.Errorf("bonus item %q has negative points", item.Label)
		}
		if item.Points > bonusCap+scoreTolerance {
			return fmt.Errorf("%w: item %q awards %.2f (cap %.2f)", ErrBonusExceedsCap, item.Label, item.Points, bonusCap)
		}
		total += item.Points
	}
	if total > bonusCap+scoreTolerance {
		return fmt.Errorf("%w: total %.2f (cap %.2f)", ErrBonusExceedsCap, total, bonusCap)
	}
	return nil
}

// Task is the unit of work handed to the scoring engine.
type Task struct {
	TaskID         string      `json:"task_id"`
	TeacherID      string      `json:"teacher_id"`
	FileType       FileType    `json:"file_type"`
	FileReferences []string    `json:"file_references"`
	CustomTotal    *float64    `json:"custom_total,omitempty"`
	BonusItems     []BonusItem `json:"bonus_items"`
	Deadline       time.Time   `json:"-"`
}

// EffectiveTotal returns the custom total when provided, otherwise the template default.
func (t Task) EffectiveTotal(tmpl Template) float64 {
	if t.CustomTotal != nil && *t.CustomTotal > 0 {
		return *t.CustomTotal
	}
	return tmpl.DefaultTotal
}

// ScoreDetail is the per-criterion outcome.
type ScoreDetail struct {
	Indicator string  `json:"indicator"`
	MaxScore  float64 `json:"max_score"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// Audit collects non-fatal observations made while validating an LLM response.
type Audit struct {
	Repaired          bool     `json:"repaired"`
	Clamped           bool     `json:"clamped"`
	ClampedIndicators []string `json:"clamped_indicators,omitempty"`
	MissingSections   []string `json:"missing_sections,omitempty"`
}

// Assessment is the validated, schema-conformant content of an LLM response.
type Assessment struct {
	VetoTriggered bool
	VetoReason    string
	Details       []ScoreDetail
	Summary       string
	Audit         Audit
}

// Result is the final outcome of one scoring call.
type Result struct {
	TaskID           string        `json:"task_id"`
	TeacherID        string        `json:"teacher_id"`
	FileType         FileType      `json:"file_type"`
	VetoTriggered    bool          `json:"veto_triggered"`
	VetoReason       string        `json:"veto_reason,omitempty"`
	ScoreDetails     []ScoreDetail `json:"score_details"`
	BaseScore        float64       `json:"base_score"`
	BonusScore       float64       `json:"bonus_score"`
	FinalScore       float64       `json:"final_score"`
	EffectiveTotal   float64       `json:"effective_total"`
	BonusCap         float64       `json:"bonus_cap"`
	Grade            Grade         `json:"grade"`
	Summary          string        `json:"summary"`
	RawResponse      string        `json:"raw_response"`
	InputFingerprint string        `json:"input_fingerprint"`
	TemplateVersion  int           `json:"template_version"`
	Audit            Audit         `json:"audit"`
	ScoredAt         time.Time     `json:"scored_at"`
}

// FailureInfo reports a per-task failure in batch mode.
type FailureInfo struct {
	TaskID  string    `json:"task_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func normalizeIndicator(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
