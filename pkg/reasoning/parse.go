package reasoning

import (
	"encoding/json"
	"strings"
)

// Parsing of model output is fail-open: malformed output never aborts a
// run, it degrades it. Each parser returns its best-effort value plus an
// ok flag; the engine caps confidence when any phase parsed degraded.

// ExtractJSON strips markdown fences and surrounding prose from model
// output, returning the outermost JSON object or array.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexAny(s, "{[")
	if objStart < 0 {
		return ""
	}
	var closer byte
	if s[objStart] == '{' {
		closer = '}'
	} else {
		closer = ']'
	}
	objEnd := strings.LastIndexByte(s, closer)
	if objEnd <= objStart {
		return ""
	}
	return s[objStart : objEnd+1]
}

// ParseObservation decodes OBSERVE output. Malformed output yields an
// empty observation: assuming nothing is the conservative reading.
func ParseObservation(content string) (Observation, bool) {
	raw := ExtractJSON(content)
	if raw == "" {
		return Observation{}, false
	}
	var obs Observation
	if err := json.Unmarshal([]byte(raw), &obs); err != nil {
		return Observation{}, false
	}
	if len(obs.Facts) == 0 && len(obs.Assumptions) == 0 && len(obs.Unknowns) == 0 {
		return obs, false
	}
	return obs, true
}

// ParseSteps decodes THINK output. Confidences are clamped to [0,1] and
// default to 0.5 when absent. Malformed output yields a single low
// confidence step carrying the raw text, so the run continues but the
// degradation is visible in both the trace and the score.
func ParseSteps(content string, maxSteps int) ([]Step, bool) {
	degraded := func() ([]Step, bool) {
		return []Step{{
			Claim:      truncate(strings.TrimSpace(content), 200),
			Confidence: 0.3,
		}}, false
	}

	raw := ExtractJSON(content)
	if raw == "" {
		return degraded()
	}

	var wrapper struct {
		Steps []Step `json:"steps"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil || len(wrapper.Steps) == 0 {
		// Some models emit the array bare.
		var steps []Step
		if err := json.Unmarshal([]byte(raw), &steps); err != nil || len(steps) == 0 {
			return degraded()
		}
		wrapper.Steps = steps
	}

	steps := wrapper.Steps
	if maxSteps > 0 && len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	for i := range steps {
		if steps[i].Confidence == 0 {
			steps[i].Confidence = 0.5
		}
		steps[i].Confidence = clamp01(steps[i].Confidence)
	}
	return steps, true
}

// ParseVerdict decodes VERIFY output. Malformed output reads as
// inconsistent: an unverifiable conclusion must not pass as verified.
func ParseVerdict(content string) (Verdict, bool) {
	raw := ExtractJSON(content)
	if raw != "" {
		var wrapper struct {
			Verdict string `json:"verdict"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err == nil {
			switch strings.ToLower(strings.TrimSpace(wrapper.Verdict)) {
			case string(VerdictConsistent):
				return VerdictConsistent, true
			case string(VerdictInconsistent):
				return VerdictInconsistent, true
			}
		}
	}

	// Prose fallback. "inconsistent" contains "consistent", so check it
	// first.
	lower := strings.ToLower(content)
	if strings.Contains(lower, string(VerdictInconsistent)) {
		return VerdictInconsistent, true
	}
	if strings.Contains(lower, string(VerdictConsistent)) {
		return VerdictConsistent, true
	}
	return VerdictInconsistent, false
}

// ParseFindings decodes a thinking tool's finding list. Malformed output
// yields no findings; a tool failure never fabricates an issue.
func ParseFindings(content string) ([]Finding, bool) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, false
	}

	var wrapper struct {
		Findings []Finding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err == nil && wrapper.Findings != nil {
		return normalizeFindings(wrapper.Findings), true
	}

	var findings []Finding
	if err := json.Unmarshal([]byte(raw), &findings); err == nil {
		return normalizeFindings(findings), true
	}
	return nil, false
}

func normalizeFindings(findings []Finding) []Finding {
	out := findings[:0]
	for _, f := range findings {
		f.Description = strings.TrimSpace(f.Description)
		if f.Description == "" {
			continue
		}
		switch Severity(strings.ToLower(string(f.Severity))) {
		case SeverityCritical:
			f.Severity = SeverityCritical
		case SeverityWarning:
			f.Severity = SeverityWarning
		default:
			f.Severity = SeverityInfo
		}
		out = append(out, f)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
