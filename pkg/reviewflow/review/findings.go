package review

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// analysisPayload is the shape the analyzer is asked to respond with.
type analysisPayload struct {
	Findings []Finding `json:"findings"`
}

// ParseFindings decodes an analyzer response into findings. Model output is
// frequently wrapped in markdown fences or slightly malformed, so a failed
// decode is retried once against a repaired copy of the payload.
func ParseFindings(raw string) ([]Finding, error) {
	content := stripFences(raw)

	var payload analysisPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr != nil {
			return nil, fmt.Errorf("decode analysis: %w (repair also failed: %v)", err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, fmt.Errorf("decode repaired analysis: %w", err)
		}
	}

	findings := payload.Findings
	for i := range findings {
		findings[i].Severity = strings.ToUpper(strings.TrimSpace(findings[i].Severity))
	}
	return findings, nil
}

// stripFences removes a surrounding markdown code fence, if present.
// Repair handles broken JSON but not prose markers around valid JSON.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
