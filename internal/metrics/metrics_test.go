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

// findMetricFamily は名前でメトリクスファミリーを探す。見つからない場合はテストを失敗させる。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
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

// TestRecordMentionIngested_IncrementsCounter は新規メンションカウンタが増加することを検証する。
func TestRecordMentionIngested_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMentionIngested()
	c.RecordMentionIngested()
	c.RecordMentionDuplicate()

	mf := findMetricFamily(t, reg, "mentionbox_mentions_ingested_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("mentions_ingested_total = %v, want 2", val)
	}
	mf = findMetricFamily(t, reg, "mentionbox_mentions_duplicate_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("mentions_duplicate_total = %v, want 1", val)
	}
}

// TestRecordTransition_IncrementsCounterWithLabel は遷移種別ごとにカウントされることを検証する。
func TestRecordTransition_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransition(TransitionRead)
	c.RecordTransition(TransitionRead)
	c.RecordTransition(TransitionTaskCreated)

	mf := findMetricFamily(t, reg, "mentionbox_inbox_transitions_total")
	counts := map[string]float64{}
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "kind" {
				counts[lp.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	if counts[TransitionRead] != 2 {
		t.Errorf("read = %v, want 2", counts[TransitionRead])
	}
	if counts[TransitionTaskCreated] != 1 {
		t.Errorf("task_created = %v, want 1", counts[TransitionTaskCreated])
	}
}

// TestRecordSweep_AddsCountAndObservesLatency はスイープの件数と所要時間が記録されることを検証する。
func TestRecordSweep_AddsCountAndObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSweep(3, 120*time.Millisecond)
	c.RecordSweep(0, 10*time.Millisecond)

	mf := findMetricFamily(t, reg, "mentionbox_sweep_deleted_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 3 {
		t.Errorf("sweep_deleted_total = %v, want 3", val)
	}
	mf = findMetricFamily(t, reg, "mentionbox_sweep_latency_seconds")
	if cnt := mf.GetMetric()[0].GetHistogram().GetSampleCount(); cnt != 2 {
		t.Errorf("sweep_latency sample count = %d, want 2", cnt)
	}
}

// TestRecordSuggestionFailure_IncrementsCounterWithLabel は失敗理由ごとにカウントされることを検証する。
func TestRecordSuggestionFailure_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSuggestionFailure("timeout")

	mf := findMetricFamily(t, reg, "mentionbox_suggestion_fail_total")
	if len(mf.GetMetric()) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(mf.GetMetric()))
	}
	if v := mf.GetMetric()[0].GetLabel()[0].GetValue(); v != "timeout" {
		t.Errorf("reason label = %q, want timeout", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコード別にカウントされることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)
	c.RecordHTTPStatus(200)

	mf := findMetricFamily(t, reg, "mentionbox_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Errorf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat はPrometheus形式で出力されることを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSweepFailure()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "mentionbox_sweep_fail_total 1") {
		t.Errorf("response should contain sweep_fail_total: %s", body)
	}
}

// TestMultipleCollectors_IndependentRegistries はレジストリごとに独立して登録できることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("independent registries should not panic: %v", r)
		}
	}()
	_ = NewCollector(prometheus.NewRegistry())
	_ = NewCollector(prometheus.NewRegistry())
}

func TestNop_ImplementsMetricsCollectorInterface(t *testing.T) {
	var c MetricsCollector = Nop{}
	c.RecordSweep(1, time.Second)
}
