package service

import "github.com/noah-isme/teaching-eval-scoring/internal/scoring"

var commonVetoRules = []scoring.VetoRule{
	{Trigger: "The document is blank or contains only headings", ReasonTemplate: "Document blank"},
	{Trigger: "Substantial passages are copied from another source without attribution", ReasonTemplate: "Plagiarism detected: {evidence}"},
	{Trigger: "The content is unrelated to the declared document category", ReasonTemplate: "Content unrelated to {file_type}"},
}

// DefaultTemplates returns the built-in rubric for every file type.
func DefaultTemplates() []scoring.Template {
	types := scoring.FileTypes()
	templates := make([]scoring.Template, 0, len(types))
	for _, fileType := range types {
		templates = append(templates, defaultTemplate(fileType))
	}
	return templates
}

func defaultTemplate(fileType scoring.FileType) scoring.Template {
	tmpl := scoring.Template{
		FileType:     fileType,
		DefaultTotal: 100,
		BonusCap:     10,
		VetoRules:    commonVetoRules,
		UpdatedBy:    "system",
	}

	switch fileType {
	case scoring.FileTypeLessonPlan:
		tmpl.Criteria = []scoring.Criterion{
			{Name: "Learning Objectives", MaxScore: 20, Description: "Objectives are specific, measurable and aligned with the curriculum standard."},
			{Name: "Content Analysis", MaxScore: 20, Description: "Key points and difficulties are identified and justified."},
			{Name: "Instructional Design", MaxScore: 30, Description: "Activities are sequenced, student-centred and matched to the objectives."},
			{Name: "Assessment Design", MaxScore: 15, Description: "Formative checks and exit tasks measure the stated objectives."},
			{Name: "Presentation", MaxScore: 15, Description: "Structure, language and formatting are clear and complete."},
		}
	case scoring.FileTypeTeachingReflection:
		tmpl.Criteria = []scoring.Criterion{
			{Name: "Depth of Reflection", MaxScore: 30, Description: "Goes beyond description to analyse causes and effects of classroom events."},
			{Name: "Evidence", MaxScore: 25, Description: "Claims are supported by concrete observations or student work."},
			{Name: "Improvement Plan", MaxScore: 30, Description: "Proposes actionable, specific changes for future lessons."},
			{Name: "Writing Quality", MaxScore: 15, Description: "Coherent, well organised and free of major errors."},
		}
		tmpl.BonusCap = 5
	case scoring.FileTypeCourseware:
		tmpl.Criteria = []scoring.Criterion{
			{Name: "Content Accuracy", MaxScore: 30, Description: "Subject matter is correct and appropriately scoped."},
			{Name: "Structure", MaxScore: 20, Description: "Slides or units follow a logical progression."},
			{Name: "Visual Design", MaxScore: 20, Description: "Layout supports comprehension; text density is reasonable."},
			{Name: "Interactivity", MaxScore: 15, Description: "Includes prompts, questions or activities that engage learners."},
			{Name: "Alignment", MaxScore: 15, Description: "Material matches the lesson objectives it supports."},
		}
	case scoring.FileTypeTeachingSummary:
		tmpl.Criteria = []scoring.Criterion{
			{Name: "Completeness", MaxScore: 25, Description: "Covers teaching, student outcomes, professional work and duties for the period."},
			{Name: "Achievements", MaxScore: 25, Description: "Results are stated concretely with supporting data."},
			{Name: "Problem Analysis", MaxScore: 25, Description: "Shortcomings are identified honestly with their causes."},
			{Name: "Future Goals", MaxScore: 25, Description: "Next-period goals are specific and feasible."},
		}
	case scoring.FileTypeResearchReport:
		tmpl.Criteria = []scoring.Criterion{
			{Name: "Research Question", MaxScore: 20, Description: "The problem is clearly defined and relevant to classroom practice."},
			{Name: "Methodology", MaxScore: 25, Description: "Design, sampling and data collection are appropriate and described."},
			{Name: "Analysis", MaxScore: 25, Description: "Data are interpreted rigorously; conclusions follow from evidence."},
			{Name: "Practical Value", MaxScore: 20, Description: "Findings translate into usable recommendations for teaching."},
			{Name: "Academic Writing", MaxScore: 10, Description: "Citations, structure and language meet academic conventions."},
		}
		tmpl.BonusCap = 15
	}
	return tmpl
}
