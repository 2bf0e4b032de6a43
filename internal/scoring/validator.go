package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const assessmentSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["veto_triggered", "veto_reason", "score_details", "summary"],
  "properties": {
    "veto_triggered": {"type": "boolean"},
    "veto_reason": {"type": "string"},
    "score_details": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["indicator", "max_score", "score", "reason"],
        "properties": {
          "indicator": {"type": "string"},
          "max_score": {"type": "number"},
          "score": {"type": "number"},
          "reason": {"type": "string"}
        }
      }
    },
    "summary": {"type": "string", "minLength": 1}
  }
}`

var assessmentSchema = jsonschema.MustCompileString("assessment.schema.json", assessmentSchemaJSON)

var (
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	codeFencePattern     = regexp.MustCompile("```[a-zA-Z]*")
	smartQuoteReplacer   = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
		"‘", "'", "’", "'",
	)
)

type assessmentPayload struct {
	VetoTriggered bool   `json:"veto_triggered"`
	VetoReason    string `json:"veto_reason"`
	ScoreDetails  []struct {
		Indicator string  `json:"indicator"`
		MaxScore  float64 `json:"max_score"`
		Score     float64 `json:"score"`
		Reason    string  `json:"reason"`
	} `json:"score_details"`
	Summary string `json:"summary"`
}

// ValidateResponse parses an LLM response into an Assessment aligned with the template.
// Structural problems return an error wrapping ErrInvalidResponse; out-of-range scores are clamped.
func ValidateResponse(raw string, tmpl Template, effectiveTotal float64) (Assessment, error) {
	document, repaired, err := decodeResponse(raw)
	if err != nil {
		return Assessment{}, err
	}

	if err := assessmentSchema.Validate(document); err != nil {
		return Assessment{}, invalid("schema mismatch: %v", err)
	}

	encoded, err := json.Marshal(document)
	if err != nil {
		return Assessment{}, invalid("re-encode: %v", err)
	}
	var payload assessmentPayload
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return Assessment{}, invalid("decode payload: %v", err)
	}

	criteria := EffectiveCriteria(tmpl, effectiveTotal)
	if len(payload.ScoreDetails) != len(criteria) {
		return Assessment{}, invalid("expected %d score_details entries, got %d", len(criteria), len(payload.ScoreDetails))
	}

	assessment := Assessment{
		VetoTriggered: payload.VetoTriggered,
		VetoReason:    strings.TrimSpace(payload.VetoReason),
		Summary:       strings.TrimSpace(payload.Summary),
		Details:       make([]ScoreDetail, len(criteria)),
		Audit:         Audit{Repaired: repaired},
	}

	for i, criterion := range criteria {
		entry := payload.ScoreDetails[i]
		if normalizeIndicator(entry.Indicator) != normalizeIndicator(criterion.Name) {
			return Assessment{}, invalid("score_details[%d] indicator %q does not match criterion %q", i, entry.Indicator, criterion.Name)
		}

		score := entry.Score
		if math.IsNaN(score) || score < 0 || score > criterion.MaxScore {
			score = math.Max(0, math.Min(score, criterion.MaxScore))
			if math.IsNaN(entry.Score) {
				score = 0
			}
			assessment.Audit.Clamped = true
			assessment.Audit.ClampedIndicators = append(assessment.Audit.ClampedIndicators, criterion.Name)
		}

		assessment.Details[i] = ScoreDetail{
			Indicator: criterion.Name,
			MaxScore:  criterion.MaxScore,
			Score:     round2(score),
			Reason:    strings.TrimSpace(entry.Reason),
		}
	}

	if assessment.VetoTriggered {
		if assessment.VetoReason == "" {
			return Assessment{}, invalid("veto_reason must be set when veto_triggered is true")
		}
		for i := range assessment.Details {
			assessment.Details[i].Score = 0
		}
	} else if assessment.VetoReason != "" {
		return Assessment{}, invalid("veto_reason must be empty when veto_triggered is false")
	}

	for _, section := range SummarySections {
		if !strings.Contains(assessment.Summary, "["+section+"]") {
			assessment.Audit.MissingSections = append(assessment.Audit.MissingSections, section)
		}
	}

	return assessment, nil
}

// decodeResponse locates the first JSON object in raw, retrying once after repair.
func decodeResponse(raw string) (any, bool, error) {
	if document, ok := firstJSONObject(raw); ok {
		return document, false, nil
	}

	repaired := repairJSON(raw)
	if document, ok := firstJSONObject(repaired); ok {
		return document, true, nil
	}

	return nil, false, invalid("no parsable JSON object in response")
}

// firstJSONObject returns the first balanced {...} span that strictly parses as an object.
// A brace that never balances, such as one in surrounding prose, is skipped.
func firstJSONObject(text string) (any, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := balancedObjectEnd(text, start); end >= 0 {
			var document any
			if err := json.Unmarshal([]byte(text[start:end+1]), &document); err == nil {
				if _, isObject := document.(map[string]any); isObject {
					return document, true
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			return nil, false
		}
		start += next + 1
	}
	return nil, false
}

func balancedObjectEnd(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// repairJSON applies the single repair pass: code fences, smart quotes, trailing commas.
func repairJSON(text string) string {
	repaired := codeFencePattern.ReplaceAllString(text, "")
	repaired = smartQuoteReplacer.Replace(repaired)
	repaired = trailingCommaPattern.ReplaceAllString(repaired, "$1")
	return strings.TrimSpace(repaired)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}
