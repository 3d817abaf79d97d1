package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/friendproxy/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamCallError(0, `{"detail":"down"}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	if body.Error != "Live data temporarily unavailable" {
		t.Errorf("error = %q", body.Error)
	}
	if body.Code != model.ErrCodeUpstreamCallFailed {
		t.Errorf("code = %q", body.Code)
	}
	if body.Category != "upstream" {
		t.Errorf("category = %q", body.Category)
	}
	if body.Details != `{"detail":"down"}` {
		t.Errorf("details = %q", body.Details)
	}
}

// TestWriteErrorResponse_OmitsEmptyDetails はdetailsが空の場合にフィールドを出力しないことを検証する。
func TestWriteErrorResponse_OmitsEmptyDetails(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())

	var raw map[string]interface{}
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	for _, field := range []string{"error", "code", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
	if _, ok := raw["details"]; ok {
		t.Error("空のdetailsが出力された")
	}
	if raw["error"] != "Missing authorization header" {
		t.Errorf("error = %v", raw["error"])
	}
}

// TestWriteInternalServerError は内部エラーが統一フォーマットで返ることを検証する。
func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal || body.Category != "system" || body.Action == "" {
		t.Errorf("body = %+v", body)
	}
}
