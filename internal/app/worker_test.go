package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mentionbox/internal/metrics"
	"github.com/hitoshi/mentionbox/internal/worker/sweep"
)

// stubDeleter は初回の呼び出しでのみidsを削除済みとして返す。
type stubDeleter struct {
	mu    sync.Mutex
	ids   []string
	calls int
}

func (d *stubDeleter) DeleteExpiredPending(_ context.Context, _ time.Time, _ int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls == 1 {
		return d.ids, nil
	}
	return nil, nil
}

func scrape(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

// TestRunSweepLoop_ServesSweepMetrics はワーカーのスイープ結果が/metricsから取得できることを検証する。
func TestRunSweepLoop_ServesSweepMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	job := sweep.NewJob(&stubDeleter{ids: []string{"a", "b"}}, collector, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	url := "http://" + ln.Addr().String() + "/metrics"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runSweepLoop(ctx, job, time.Hour, registry, ln) }()

	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		body = scrape(t, url)
		if strings.Contains(body, "mentionbox_sweep_deleted_total 2") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runSweepLoop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runSweepLoop did not stop after cancel")
	}

	if !strings.Contains(body, "mentionbox_sweep_deleted_total 2") {
		t.Fatalf("sweep deleted metric not served:\n%s", body)
	}
	if !strings.Contains(body, "mentionbox_sweep_latency_seconds_count 1") {
		t.Errorf("sweep latency metric not served:\n%s", body)
	}

	// 停止後は待ち受けを閉じる
	if _, err := http.Get(url); err == nil {
		t.Error("metrics server should be closed after shutdown")
	}
}

// TestRunSweepLoop_WithoutListener はリスナーなしでもスイープが実行され、キャンセルで終了することを検証する。
func TestRunSweepLoop_WithoutListener(t *testing.T) {
	deleter := &stubDeleter{}
	job := sweep.NewJob(deleter, metrics.Nop{}, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runSweepLoop(ctx, job, time.Hour, prometheus.NewRegistry(), nil); err != nil {
		t.Fatalf("runSweepLoop returned error: %v", err)
	}
	if deleter.calls != 1 {
		t.Errorf("calls = %d, want 1 (initial sweep)", deleter.calls)
	}
}
