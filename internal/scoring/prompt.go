package scoring

import (
	"fmt"
	"strconv"
	"strings"
)

// SummarySections are the bracketed headings required in the summary, in order.
var SummarySections = []string{
	"Overall Assessment",
	"Strengths",
	"Issues",
	"Suggestions for Improvement",
	"Professional Development",
}

// SystemPrompt frames the evaluator persona for every scoring call.
const SystemPrompt = "You are a senior teaching-quality evaluator. You grade teachers' submitted documents strictly " +
	"against the rubric you are given and reply with a single JSON object only."

// BuildPrompt composes the deterministic user prompt for one scoring call.
func BuildPrompt(tmpl Template, content string, effectiveTotal float64, bonusItems []BonusItem) string {
	criteria := EffectiveCriteria(tmpl, effectiveTotal)

	b := strings.Builder{}
	b.WriteString("# Task\n")
	fmt.Fprintf(&b, "Score the following %s against the rubric below. The maximum total is %s points.\n",
		tmpl.FileType.Label(), formatPoints(effectiveTotal))

	b.WriteString("\n## Rubric\n")
	for i, criterion := range criteria {
		fmt.Fprintf(&b, "%d. %s (max %s points)", i+1, criterion.Name, formatPoints(criterion.MaxScore))
		if desc := strings.TrimSpace(criterion.Description); desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Veto Conditions\n")
	if len(tmpl.VetoRules) == 0 {
		b.WriteString("None configured. veto_triggered must be false.\n")
	}
	for i, rule := range tmpl.VetoRules {
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(rule.Trigger))
		if reason := strings.TrimSpace(rule.ReasonTemplate); reason != "" {
			fmt.Fprintf(&b, " (veto_reason: %q)", reason)
		}
		b.WriteString("\n")
	}

	if len(bonusItems) > 0 {
		b.WriteString("\n## Bonus Items (already granted by the administrator, do not add them to any score)\n")
		for _, item := range bonusItems {
			fmt.Fprintf(&b, "- %s: %s points\n", item.Label, formatPoints(item.Points))
		}
	}

	b.WriteString("\n## Instructions\n")
	b.WriteString("1. Check every veto condition first. If any applies, set \"veto_triggered\" to true, explain it in " +
		"\"veto_reason\", and set every \"score\" to 0.\n")
	b.WriteString("2. Otherwise set \"veto_triggered\" to false and \"veto_reason\" to \"\", then score each rubric item " +
		"independently with 0 <= score <= max_score and a concrete reason citing the document.\n")
	b.WriteString("3. Write \"summary\" with these bracketed sections, in this order, none of them empty: ")
	headings := make([]string, len(SummarySections))
	for i, section := range SummarySections {
		headings[i] = "[" + section + "]"
	}
	b.WriteString(strings.Join(headings, ", "))
	b.WriteString(".\n")
	b.WriteString("4. Return nothing outside the JSON object. Do not add keys that are not in the schema.\n")

	b.WriteString("\n## Output Schema\n")
	b.WriteString(responseSkeleton(criteria))

	b.WriteString("\n\n## Document\n")
	b.WriteString("<<<DOCUMENT\n")
	b.WriteString(content)
	b.WriteString("\nDOCUMENT>>>\n")
	b.WriteString("\nReturn JSON.")
	return b.String()
}

func responseSkeleton(criteria []Criterion) string {
	b := strings.Builder{}
	b.WriteString("{\n")
	b.WriteString("  \"veto_triggered\": boolean,\n")
	b.WriteString("  \"veto_reason\": string,\n")
	b.WriteString("  \"score_details\": [\n")
	for i, criterion := range criteria {
		fmt.Fprintf(&b, "    {\"indicator\": %q, \"max_score\": %s, \"score\": number, \"reason\": string}",
			criterion.Name, formatPoints(criterion.MaxScore))
		if i < len(criteria)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("  ],\n")
	b.WriteString("  \"summary\": string\n")
	b.WriteString("}")
	return b.String()
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', -1, 64)
}
