package modeljson

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/agro-analyzer/pkg/types"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"comments", "{\n// note\n\"a\":1 /* x */\n}", "{\n\n\"a\":1 \n}"},
		{"chatter", `Sure! {"a":1} hope this helps`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDetections(t *testing.T) {
	raw := "```json\n" + `{
  "detections": [
    {"label": "corn", "confidence": 0.8, "box": {"x": 0.1, "y": 0.2, "w": 0.3, "h": 0.4}},
  ],
  "description": "rows of corn"
}` + "\n```"

	got := ParseDetections(raw)
	want := &types.DetectionResponse{
		Detections: []types.ModelDetection{
			{Label: "corn", Confidence: 0.8, Box: types.Box{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}},
		},
		Description: "rows of corn",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseDetections mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDetectionsFallback(t *testing.T) {
	if got := ParseDetections("I can see a field"); len(got.Detections) != 0 || got.Description == "" {
		t.Errorf("Expected empty fallback for prose, got %+v", got)
	}
	if got := ParseDetections(`{"detections": "many"}`); len(got.Detections) != 0 || got.Description == "" {
		t.Errorf("Expected empty fallback for bad schema, got %+v", got)
	}
}
