package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ServesMetrics はメトリクスがPrometheus形式で返ることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordUpstreamRequest("stocks", 200, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, `friendproxy_upstream_requests_total{endpoint="stocks",status="200"} 1`) {
		t.Errorf("レスポンスに friendproxy_upstream_requests_total が含まれない: %s", bodyStr)
	}
	if !strings.Contains(bodyStr, "friendproxy_upstream_latency_seconds_bucket") {
		t.Error("レスポンスに friendproxy_upstream_latency_seconds が含まれない")
	}
}
