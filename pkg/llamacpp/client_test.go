package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/agro-analyzer/pkg/types"
)

func newTestServer(t *testing.T, content any, got *ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
}

func TestDetectObjects(t *testing.T) {
	var req ChatCompletionRequest
	reply := "```json\n{\"detections\": [{\"label\": \"soil\", \"confidence\": 0.7, \"box\": {\"x\": 0.5, \"y\": 0.6, \"w\": 0.2, \"h\": 0.1}}], \"description\": \"bare field\"}\n```"
	server := newTestServer(t, reply, &req)
	defer server.Close()

	c, err := NewClient(server.URL + "/")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	got, err := c.DetectObjects(context.Background(), "minicpm", "find things", "aGVsbG8=")
	if err != nil {
		t.Fatalf("DetectObjects failed: %v", err)
	}
	want := &types.DetectionResponse{
		Detections: []types.ModelDetection{
			{Label: "soil", Confidence: 0.7, Box: types.Box{X: 0.5, Y: 0.6, W: 0.2, H: 0.1}},
		},
		Description: "bare field",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DetectObjects mismatch (-want +got):\n%s", diff)
	}

	if req.Model != "minicpm" || req.Temperature != 0.1 || req.Stream {
		t.Errorf("unexpected request: model=%s temperature=%v stream=%v", req.Model, req.Temperature, req.Stream)
	}
	parts, ok := req.Messages[0].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %#v", req.Messages[0].Content)
	}
}

func TestSimpleQueryContentParts(t *testing.T) {
	server := newTestServer(t, []any{map[string]any{"type": "text", "text": "a maize field"}}, nil)
	defer server.Close()

	c, _ := NewClient(server.URL)
	got, err := c.SimpleQuery(context.Background(), "m", "describe", "")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if got != "a maize field" {
		t.Errorf("SimpleQuery = %q", got)
	}
}

func TestDetectObjectsEmptyReply(t *testing.T) {
	server := newTestServer(t, "", nil)
	defer server.Close()

	c, _ := NewClient(server.URL)
	if _, err := c.DetectObjects(context.Background(), "m", "p", "aGVsbG8="); err == nil {
		t.Error("Expected error for empty reply")
	}
}

func TestServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, _ := NewClient(server.URL)
	if _, err := c.SimpleQuery(context.Background(), "m", "p", ""); err == nil {
		t.Error("Expected error on HTTP 503")
	}
}

func TestNewClientDefaultURL(t *testing.T) {
	c, err := NewClient("")
	if err != nil || c.baseURL != DefaultURL {
		t.Errorf("Expected default URL, got %v, %v", c, err)
	}
}
