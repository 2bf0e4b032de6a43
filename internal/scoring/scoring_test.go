package scoring

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clarityDepthTemplate() Template {
	return Template{
		FileType: FileTypeLessonPlan,
		Version:  3,
		Criteria: []Criterion{
			{Name: "Clarity", MaxScore: 40},
			{Name: "Depth", MaxScore: 60},
		},
		VetoRules:    []VetoRule{{Trigger: "document blank", ReasonTemplate: "Document blank"}},
		DefaultTotal: 100,
		BonusCap:     10,
		Active:       true,
	}
}

const fullSummary = "[Overall Assessment] solid. [Strengths] clear goals. [Issues] thin assessment. " +
	"[Suggestions for Improvement] add rubrics. [Professional Development] peer observation."

func responseJSON(veto bool, reason string, scores ...float64) string {
	names := []string{"Clarity", "Depth"}
	maxes := []float64{40, 60}
	details := make([]string, 0, len(scores))
	for i, score := range scores {
		details = append(details, fmt.Sprintf(`{"indicator":%q,"max_score":%v,"score":%v,"reason":"evidence"}`, names[i], maxes[i], score))
	}
	return fmt.Sprintf(`{"veto_triggered":%t,"veto_reason":%q,"score_details":[%s],"summary":%q}`,
		veto, reason, strings.Join(details, ","), fullSummary)
}

func TestScenarioHappyPath(t *testing.T) {
	tmpl := clarityDepthTemplate()
	task := Task{
		TaskID:     "t-1",
		TeacherID:  "teacher-9",
		FileType:   FileTypeLessonPlan,
		BonusItems: []BonusItem{{Label: "Innovation", Points: 5}},
	}

	assessment, err := ValidateResponse(responseJSON(false, "", 30, 48), tmpl, 100)
	require.NoError(t, err)

	result := Compose(task, tmpl, 100, assessment, "raw", time.Now())
	require.Equal(t, 78.0, result.BaseScore)
	require.Equal(t, 5.0, result.BonusScore)
	require.Equal(t, 83.0, result.FinalScore)
	require.Equal(t, GradeB, result.Grade)
	require.Equal(t, 3, result.TemplateVersion)
	require.Len(t, result.ScoreDetails, 2)
	require.Equal(t, "Clarity", result.ScoreDetails[0].Indicator)
	require.Empty(t, result.Audit.MissingSections)
	require.False(t, result.Audit.Clamped)
}

func TestScenarioVeto(t *testing.T) {
	tmpl := clarityDepthTemplate()
	task := Task{TaskID: "t-2", BonusItems: []BonusItem{{Label: "Innovation", Points: 5}}}

	assessment, err := ValidateResponse(responseJSON(true, "Document blank", 15, 20), tmpl, 100)
	require.NoError(t, err)

	result := Compose(task, tmpl, 100, assessment, "raw", time.Now())
	require.True(t, result.VetoTriggered)
	require.Equal(t, "Document blank", result.VetoReason)
	for _, detail := range result.ScoreDetails {
		require.Zero(t, detail.Score)
	}
	require.Zero(t, result.BaseScore)
	require.Zero(t, result.BonusScore)
	require.Zero(t, result.FinalScore)
	require.Equal(t, GradeF, result.Grade)
}

func TestScenarioCustomTotal(t *testing.T) {
	tmpl := clarityDepthTemplate()
	custom := 50.0
	task := Task{TaskID: "t-3", CustomTotal: &custom}
	effective := task.EffectiveTotal(tmpl)
	require.Equal(t, 50.0, effective)

	criteria := EffectiveCriteria(tmpl, effective)
	require.Equal(t, 20.0, criteria[0].MaxScore)
	require.Equal(t, 30.0, criteria[1].MaxScore)

	raw := `{"veto_triggered":false,"veto_reason":"","score_details":[` +
		`{"indicator":"Clarity","max_score":20,"score":18,"reason":"ok"},` +
		`{"indicator":"Depth","max_score":30,"score":25,"reason":"ok"}],"summary":"[Overall Assessment] fine"}`
	assessment, err := ValidateResponse(raw, tmpl, effective)
	require.NoError(t, err)

	result := Compose(task, tmpl, effective, assessment, raw, time.Now())
	require.Equal(t, 43.0, result.FinalScore)
	require.Equal(t, GradeB, result.Grade)
	require.Equal(t, []string{"Strengths", "Issues", "Suggestions for Improvement", "Professional Development"}, result.Audit.MissingSections)
}

func TestScenarioFencedResponse(t *testing.T) {
	tmpl := clarityDepthTemplate()
	raw := "Here is my evaluation of the lesson plan.\n```json\n" + responseJSON(false, "", 30, 48) + "\n```\nThanks!"

	assessment, err := ValidateResponse(raw, tmpl, 100)
	require.NoError(t, err)
	require.Equal(t, 30.0, assessment.Details[0].Score)
	require.Equal(t, 48.0, assessment.Details[1].Score)
}

func TestValidateRepairsTrailingCommaAndSmartQuotes(t *testing.T) {
	tmpl := clarityDepthTemplate()
	raw := "```json\n{“veto_triggered”: false, “veto_reason”: “”, “score_details”: [" +
		"{“indicator”: “Clarity”, “max_score”: 40, “score”: 35, “reason”: “good”}," +
		"{“indicator”: “Depth”, “max_score”: 60, “score”: 50, “reason”: “good”},]," +
		"“summary”: “[Overall Assessment] fine”,}\n```"

	assessment, err := ValidateResponse(raw, tmpl, 100)
	require.NoError(t, err)
	require.True(t, assessment.Audit.Repaired)
	require.Equal(t, 85.0, assessment.Details[0].Score+assessment.Details[1].Score)
}

func TestValidateClampsOutOfRangeScores(t *testing.T) {
	tmpl := clarityDepthTemplate()

	assessment, err := ValidateResponse(responseJSON(false, "", -4, 75), tmpl, 100)
	require.NoError(t, err)
	require.Equal(t, 0.0, assessment.Details[0].Score)
	require.Equal(t, 60.0, assessment.Details[1].Score)
	require.True(t, assessment.Audit.Clamped)
	require.Equal(t, []string{"Clarity", "Depth"}, assessment.Audit.ClampedIndicators)
}

func TestValidateUsesTemplateMaxes(t *testing.T) {
	tmpl := clarityDepthTemplate()
	raw := strings.Replace(responseJSON(false, "", 30, 48), `"max_score":40`, `"max_score":400`, 1)

	assessment, err := ValidateResponse(raw, tmpl, 100)
	require.NoError(t, err)
	require.Equal(t, 40.0, assessment.Details[0].MaxScore)
}

func TestValidateIndicatorComparisonIgnoresCaseAndSpace(t *testing.T) {
	tmpl := clarityDepthTemplate()
	raw := strings.Replace(responseJSON(false, "", 30, 48), `"indicator":"Clarity"`, `"indicator":"  clarity "`, 1)

	assessment, err := ValidateResponse(raw, tmpl, 100)
	require.NoError(t, err)
	require.Equal(t, "Clarity", assessment.Details[0].Indicator)
}

func TestValidateRejections(t *testing.T) {
	tmpl := clarityDepthTemplate()

	cases := map[string]string{
		"no json":            "I cannot evaluate this document.",
		"missing summary":    `{"veto_triggered":false,"veto_reason":"","score_details":[]}`,
		"wrong type":         strings.Replace(responseJSON(false, "", 30, 48), `"veto_triggered":false`, `"veto_triggered":"no"`, 1),
		"too few details":    responseJSON(false, "", 30),
		"indicator mismatch": strings.Replace(responseJSON(false, "", 30, 48), `"indicator":"Depth"`, `"indicator":"Breadth"`, 1),
		"veto without reason": responseJSON(true, "", 0, 0),
		"reason without veto": responseJSON(false, "plagiarism", 30, 48),
		"unterminated":        `{"veto_triggered": false, "score_details": [`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateResponse(raw, tmpl, 100)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestValidateIgnoresExtraKeys(t *testing.T) {
	tmpl := clarityDepthTemplate()
	raw := strings.Replace(responseJSON(false, "", 30, 48), `{"veto_triggered"`, `{"confidence":0.9,"veto_triggered"`, 1)

	_, err := ValidateResponse(raw, tmpl, 100)
	require.NoError(t, err)
}

func TestValidateSkipsNonObjectBraces(t *testing.T) {
	tmpl := clarityDepthTemplate()
	raw := "Scores use the {rubric} notation. " + responseJSON(false, "", 10, 10)

	assessment, err := ValidateResponse(raw, tmpl, 100)
	require.NoError(t, err)
	require.Equal(t, 10.0, assessment.Details[0].Score)
}

func TestValidateSkipsUnbalancedProseBraces(t *testing.T) {
	tmpl := clarityDepthTemplate()
	cases := map[string]string{
		"open brace":  "Note: the plan uses set notation like {a, b.\n```json\n" + responseJSON(false, "", 30, 48) + "\n```",
		"open quote":  `Rubric {"unterminated note. ` + responseJSON(false, "", 30, 48),
		"close first": "} stray " + responseJSON(false, "", 30, 48),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assessment, err := ValidateResponse(raw, tmpl, 100)
			require.NoError(t, err)
			require.Equal(t, 30.0, assessment.Details[0].Score)
			require.Equal(t, 48.0, assessment.Details[1].Score)
		})
	}
}

func TestRescaleCriteriaPreservesTotal(t *testing.T) {
	criteria := []Criterion{
		{Name: "A", MaxScore: 30},
		{Name: "B", MaxScore: 30},
		{Name: "C", MaxScore: 40},
	}

	rescaled := RescaleCriteria(criteria, 100, 7)
	var sum float64
	for _, c := range rescaled {
		sum += c.MaxScore
	}
	require.Equal(t, 7.0, sum)
	// floor shares are 2, 2, 2; the remainder goes to the largest criterion.
	require.Equal(t, []float64{2, 2, 3}, []float64{rescaled[0].MaxScore, rescaled[1].MaxScore, rescaled[2].MaxScore})
	require.Equal(t, 30.0, criteria[0].MaxScore)
}

func TestRescaleCriteriaFractionalTotal(t *testing.T) {
	criteria := []Criterion{
		{Name: "A", MaxScore: 1},
		{Name: "B", MaxScore: 1},
		{Name: "C", MaxScore: 1},
	}

	rescaled := RescaleCriteria(criteria, 3, 10.5)
	var sum float64
	for _, c := range rescaled {
		sum += c.MaxScore
	}
	require.InDelta(t, 10.5, sum, 1e-9)
}

func TestRescaleCriteriaKeepsEveryCriterionPositive(t *testing.T) {
	tmpl := Template{
		Criteria: []Criterion{
			{Name: "A", MaxScore: 30},
			{Name: "B", MaxScore: 30},
			{Name: "C", MaxScore: 40},
		},
		DefaultTotal: 100,
	}

	rescaled := EffectiveCriteria(tmpl, 3)
	require.Equal(t, []float64{1, 1, 1}, []float64{rescaled[0].MaxScore, rescaled[1].MaxScore, rescaled[2].MaxScore})

	skewed := Template{
		Criteria:     []Criterion{{Name: "A", MaxScore: 5}, {Name: "B", MaxScore: 95}},
		DefaultTotal: 100,
	}
	rescaled = EffectiveCriteria(skewed, 4)
	require.Equal(t, []float64{1, 3}, []float64{rescaled[0].MaxScore, rescaled[1].MaxScore})

	require.NoError(t, CheckEffectiveTotal(tmpl, 3))
	require.NoError(t, CheckEffectiveTotal(tmpl, 100))
	require.ErrorIs(t, CheckEffectiveTotal(tmpl, 2), ErrTotalTooSmall)
	require.NoError(t, CheckEffectiveTotal(tmpl, 0.5))
	require.ErrorIs(t, CheckEffectiveTotal(tmpl, 0.02), ErrTotalTooSmall)
}

func TestGradeThresholds(t *testing.T) {
	cases := []struct {
		final float64
		want  Grade
	}{
		{90, GradeA},
		{89.99, GradeB},
		{80, GradeB},
		{70, GradeC},
		{60, GradeD},
		{59.5, GradeE},
		{0, GradeE},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, GradeFor(tc.final, 100, false), "final=%v", tc.final)
	}
	require.Equal(t, GradeF, GradeFor(100, 100, true))
}

func TestComposeCapsBonus(t *testing.T) {
	tmpl := clarityDepthTemplate()
	task := Task{BonusItems: []BonusItem{{Label: "a", Points: 8}, {Label: "b", Points: 8}}}
	assessment := Assessment{Details: []ScoreDetail{{Indicator: "Clarity", MaxScore: 40, Score: 40}, {Indicator: "Depth", MaxScore: 60, Score: 60}}}

	result := Compose(task, tmpl, 100, assessment, "", time.Now())
	require.Equal(t, 10.0, result.BonusScore)
	require.Equal(t, 110.0, result.FinalScore)
	require.LessOrEqual(t, result.FinalScore, result.EffectiveTotal+result.BonusCap)
}

func TestTemplateInvariants(t *testing.T) {
	tmpl := clarityDepthTemplate()
	require.NoError(t, tmpl.CheckInvariants())

	broken := clarityDepthTemplate()
	broken.Criteria[1].MaxScore = 50
	require.ErrorIs(t, broken.CheckInvariants(), ErrTemplateInvariant)

	duplicate := clarityDepthTemplate()
	duplicate.Criteria[1].Name = " clarity"
	require.ErrorIs(t, duplicate.CheckInvariants(), ErrTemplateInvariant)

	unknown := clarityDepthTemplate()
	unknown.FileType = "memo"
	err := unknown.CheckInvariants()
	require.ErrorIs(t, err, ErrTemplateInvariant)
	require.ErrorIs(t, err, ErrUnknownFileType)
}

func TestCheckBonusItems(t *testing.T) {
	require.NoError(t, CheckBonusItems(nil, 10))
	require.NoError(t, CheckBonusItems([]BonusItem{{Label: "a", Points: 4}, {Label: "b", Points: 6}}, 10))
	require.ErrorIs(t, CheckBonusItems([]BonusItem{{Label: "a", Points: 11}}, 10), ErrBonusExceedsCap)
	require.ErrorIs(t, CheckBonusItems([]BonusItem{{Label: "a", Points: 6}, {Label: "b", Points: 6}}, 10), ErrBonusExceedsCap)
	require.Error(t, CheckBonusItems([]BonusItem{{Label: "a", Points: -1}}, 10))
}

func TestFingerprintSensitivity(t *testing.T) {
	custom := 50.0
	base := FingerprintInput{
		FileType:        FileTypeLessonPlan,
		FileHashes:      []string{"abc"},
		TemplateVersion: 1,
	}
	same := base
	require.Equal(t, Fingerprint(base), Fingerprint(same))

	withTotal := base
	withTotal.CustomTotal = &custom
	require.NotEqual(t, Fingerprint(base), Fingerprint(withTotal))

	withBonus := base
	withBonus.BonusItems = []BonusItem{{Label: "x", Points: 1}}
	require.NotEqual(t, Fingerprint(base), Fingerprint(withBonus))

	newVersion := base
	newVersion.TemplateVersion = 2
	require.NotEqual(t, Fingerprint(base), Fingerprint(newVersion))
}

func TestBuildPromptCarriesRescaledRubric(t *testing.T) {
	tmpl := clarityDepthTemplate()
	prompt := BuildPrompt(tmpl, "LESSON BODY", 50, []BonusItem{{Label: "Innovation", Points: 5}})

	require.Contains(t, prompt, "Clarity (max 20 points)")
	require.Contains(t, prompt, "Depth (max 30 points)")
	require.Contains(t, prompt, `{"indicator": "Clarity", "max_score": 20`)
	require.Contains(t, prompt, "document blank")
	require.Contains(t, prompt, "[Professional Development]")
	require.Contains(t, prompt, "Innovation: 5 points")
	require.Contains(t, prompt, "LESSON BODY")
	require.Equal(t, prompt, BuildPrompt(tmpl, "LESSON BODY", 50, []BonusItem{{Label: "Innovation", Points: 5}}))
}

func TestErrorKinds(t *testing.T) {
	err := NewError(KindInputUnavailable, "t-9", "missing.docx", errors.New("not found"))
	require.ErrorIs(t, err, ErrInputUnavailable)
	require.Equal(t, KindInputUnavailable, KindOf(fmt.Errorf("wrap: %w", err)))
	require.Equal(t, KindInvalid, KindOf(fmt.Errorf("x: %w", ErrInvalidResponse)))
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))

	info := Failure("fallback", err)
	require.Equal(t, "t-9", info.TaskID)
	require.Equal(t, KindInputUnavailable, info.Kind)
	require.Equal(t, "missing.docx", info.Message)
	require.True(t, KindOverloaded.Retryable())
	require.False(t, KindInvalid.Retryable())
}

func TestParseFileType(t *testing.T) {
	ft, err := ParseFileType(" Teaching-Reflection ")
	require.NoError(t, err)
	require.Equal(t, FileTypeTeachingReflection, ft)

	_, err = ParseFileType("memo")
	require.ErrorIs(t, err, ErrUnknownFileType)
}
