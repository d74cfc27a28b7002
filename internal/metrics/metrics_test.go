package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInitMeterProvider_ServesRecordedMetrics(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}

	RecordInference(ctx, "gemma3:4b", "ok", 250*time.Millisecond)
	RecordRoute(ctx, "sale_orders", "SalesExpert")
	RecordTool(ctx, "search_products", "ok")
	RecordWatchdogHits(ctx, "Retrasos MRP", 3)
	AddWSConnection()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status=%d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "opsai_tool_executions") {
		t.Errorf("metrics output missing tool counter:\n%s", body)
	}
	RemoveWSConnection()
}

func TestRemoveWSConnection_NeverNegative(t *testing.T) {
	RemoveWSConnection()
	RemoveWSConnection()
	wsConnectionsMu.Lock()
	n := wsConnections
	wsConnectionsMu.Unlock()
	if n < 0 {
		t.Errorf("wsConnections = %d, want >= 0", n)
	}
}

func TestMeter(t *testing.T) {
	if Meter() == nil {
		t.Fatal("Meter() returned nil")
	}
}
