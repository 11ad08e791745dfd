// Package modeljson cleans up and parses JSON produced by language models.
package modeljson

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/agro-analyzer/pkg/types"
)

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// Sanitize removes code fences, comments, and trailing commas from a JSON response
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// ParseDetections parses a detection document. Unusable output yields an
// empty detection list with an explanatory description rather than an
// error, so a chatty model degrades to "nothing detected".
func ParseDetections(raw string) *types.DetectionResponse {
	raw = Sanitize(raw)

	if !strings.HasPrefix(raw, "{") {
		return &types.DetectionResponse{Description: "Model returned non-JSON response"}
	}

	var result types.DetectionResponse
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return &types.DetectionResponse{Description: "Failed to parse model response"}
	}
	return &result
}
