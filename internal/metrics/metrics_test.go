package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は収集済みメトリクスから名前とラベルが一致するものを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m
			}
		}
	}
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAPIRequest_IncrementsCounterWithLabels はステータス別カウンタが増加することを検証する。
func TestRecordAPIRequest_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAPIRequest("GET", "/api/places/", 200, 10*time.Millisecond)
	c.RecordAPIRequest("GET", "/api/places/", 200, 20*time.Millisecond)
	c.RecordAPIRequest("POST", "/api/places/{id}/like", 401, 5*time.Millisecond)

	m := findMetric(t, reg, "campusmap_api_requests_total", map[string]string{
		"method": "GET", "endpoint": "/api/places/", "status": "200",
	})
	if m == nil {
		t.Fatal("campusmap_api_requests_total{GET,/api/places/,200} not found")
	}
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("api_requests_total = %v, want 2", v)
	}

	m = findMetric(t, reg, "campusmap_api_requests_total", map[string]string{
		"method": "POST", "endpoint": "/api/places/{id}/like", "status": "401",
	})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("expected one 401 like request")
	}
}

// TestRecordAPIRequest_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordAPIRequest_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAPIRequest("GET", "/api/feed/top", 200, 500*time.Millisecond)

	m := findMetric(t, reg, "campusmap_api_request_duration_seconds", map[string]string{
		"method": "GET", "endpoint": "/api/feed/top",
	})
	if m == nil {
		t.Fatal("campusmap_api_request_duration_seconds not found")
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
	if got := m.GetHistogram().GetSampleSum(); got != 0.5 {
		t.Errorf("sample sum = %v, want 0.5", got)
	}
}

// TestRecordOptimisticUpdate_IncrementsCounter は楽観的更新カウンタが種別ごとに増加することを検証する。
func TestRecordOptimisticUpdate_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOptimisticUpdate("like")
	c.RecordOptimisticUpdate("like")
	c.RecordOptimisticUpdate("favorite")

	if m := findMetric(t, reg, "campusmap_optimistic_updates_total", map[string]string{"kind": "like"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("expected like counter = 2")
	}
	if m := findMetric(t, reg, "campusmap_optimistic_updates_total", map[string]string{"kind": "favorite"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("expected favorite counter = 1")
	}
}

// TestRecordStoreError_IncrementsCounter はストアエラーカウンタが増加することを検証する。
func TestRecordStoreError_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStoreError("fetch_places")

	if m := findMetric(t, reg, "campusmap_store_errors_total", map[string]string{"operation": "fetch_places"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("expected fetch_places error counter = 1")
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordOptimisticUpdate("like")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "campusmap_optimistic_updates_total") {
		t.Error("response should contain campusmap_optimistic_updates_total metric")
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリに独立して登録できることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordStoreError("add_place")

	if m := findMetric(t, reg2, "campusmap_store_errors_total", map[string]string{"operation": "add_place"}); m != nil {
		t.Error("reg2 must not observe reg1's metrics")
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	var c MetricsCollector = Nop{}
	c.RecordAPIRequest("GET", "/", 200, time.Second)
	c.RecordOptimisticUpdate("like")
	c.RecordStoreError("x")
}
