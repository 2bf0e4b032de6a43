package scoring

import (
	"math"
	"time"
)

// Grade is the categorical label derived from final_score / effective_total.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeE Grade = "E"
	GradeF Grade = "F"
)

// GradeFor maps a final score to a grade. A veto always yields F.
func GradeFor(finalScore, effectiveTotal float64, veto bool) Grade {
	if veto || effectiveTotal <= 0 {
		return GradeF
	}
	ratio := finalScore / effectiveTotal
	switch {
	case ratio >= 0.90:
		return GradeA
	case ratio >= 0.80:
		return GradeB
	case ratio >= 0.70:
		return GradeC
	case ratio >= 0.60:
		return GradeD
	default:
		return GradeE
	}
}

// Compose turns a validated assessment into the final result.
func Compose(task Task, tmpl Template, effectiveTotal float64, assessment Assessment, raw string, scoredAt time.Time) Result {
	details := make([]ScoreDetail, len(assessment.Details))
	copy(details, assessment.Details)

	var base float64
	for i := range details {
		if assessment.VetoTriggered {
			details[i].Score = 0
		}
		base += details[i].Score
	}
	base = round2(base)

	var bonus float64
	if !assessment.VetoTriggered {
		for _, item := range task.BonusItems {
			bonus += item.Points
		}
		bonus = round2(math.Min(bonus, tmpl.BonusCap))
	}

	final := round2(base + bonus)
	if assessment.VetoTriggered {
		base, bonus, final = 0, 0, 0
	}

	return Result{
		TaskID:          task.TaskID,
		TeacherID:       task.TeacherID,
		FileType:        task.FileType,
		VetoTriggered:   assessment.VetoTriggered,
		VetoReason:      assessment.VetoReason,
		ScoreDetails:    details,
		BaseScore:       base,
		BonusScore:      bonus,
		FinalScore:      final,
		EffectiveTotal:  effectiveTotal,
		BonusCap:        tmpl.BonusCap,
		Grade:           GradeFor(final, effectiveTotal, assessment.VetoTriggered),
		Summary:         assessment.Summary,
		RawResponse:     raw,
		TemplateVersion: tmpl.Version,
		Audit:           assessment.Audit,
		ScoredAt:        scoredAt,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
