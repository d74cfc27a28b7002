package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initOnce          sync.Once
	inferenceCounter  metric.Int64Counter
	inferenceDuration metric.Float64Histogram
	routeCounter      metric.Int64Counter
	toolCounter       metric.Int64Counter
	watchdogHits      metric.Int64Counter
	wsConnGauge       metric.Int64ObservableGauge

	wsConnections   int64
	wsConnectionsMu sync.Mutex
)

// InitMetrics creates the instruments. Only the first call has an effect.
// Record helpers are no-ops until it has run.
func InitMetrics(ctx context.Context) error {
	var err error
	initOnce.Do(func() {
		m := Meter()
		inferenceCounter, err = m.Int64Counter("opsai_inference_requests_total", metric.WithDescription("Inference server calls by model and outcome"))
		if err != nil {
			return
		}
		inferenceDuration, err = m.Float64Histogram("opsai_inference_duration_seconds", metric.WithDescription("Inference call duration in seconds"))
		if err != nil {
			return
		}
		routeCounter, err = m.Int64Counter("opsai_requests_routed_total", metric.WithDescription("User requests by route (deterministic parser or expert)"))
		if err != nil {
			return
		}
		toolCounter, err = m.Int64Counter("opsai_tool_executions_total", metric.WithDescription("Tool executions by tool and outcome"))
		if err != nil {
			return
		}
		watchdogHits, err = m.Int64Counter("opsai_watchdog_hits_total", metric.WithDescription("Records flagged by watchdog rules"))
		if err != nil {
			return
		}
		wsConnGauge, err = m.Int64ObservableGauge("opsai_ws_connections", metric.WithDescription("Open websocket subscribers"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			wsConnectionsMu.Lock()
			n := wsConnections
			wsConnectionsMu.Unlock()
			o.ObserveInt64(wsConnGauge, n)
			return nil
		}, wsConnGauge)
	})
	return err
}

// RecordInference records one inference call.
func RecordInference(ctx context.Context, model, outcome string, d time.Duration) {
	if inferenceCounter != nil {
		inferenceCounter.Add(ctx, 1, metric.WithAttributes(AttrModel.String(model), AttrOutcome.String(outcome)))
	}
	if inferenceDuration != nil {
		inferenceDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrModel.String(model)))
	}
}

// RecordRoute records how a request was served: a parser name or "llm".
func RecordRoute(ctx context.Context, route, expert string) {
	if routeCounter == nil {
		return
	}
	routeCounter.Add(ctx, 1, metric.WithAttributes(AttrRoute.String(route), AttrExpert.String(expert)))
}

// RecordTool records one tool execution.
func RecordTool(ctx context.Context, tool, outcome string) {
	if toolCounter == nil {
		return
	}
	toolCounter.Add(ctx, 1, metric.WithAttributes(AttrTool.String(tool), AttrOutcome.String(outcome)))
}

// RecordWatchdogHits adds n flagged records for rule.
func RecordWatchdogHits(ctx context.Context, rule string, n int) {
	if watchdogHits == nil || n <= 0 {
		return
	}
	watchdogHits.Add(ctx, int64(n), metric.WithAttributes(AttrRule.String(rule)))
}

// AddWSConnection increments the websocket subscriber gauge.
func AddWSConnection() {
	wsConnectionsMu.Lock()
	wsConnections++
	wsConnectionsMu.Unlock()
}

// RemoveWSConnection decrements the websocket subscriber gauge.
func RemoveWSConnection() {
	wsConnectionsMu.Lock()
	wsConnections--
	if wsConnections < 0 {
		wsConnections = 0
	}
	wsConnectionsMu.Unlock()
}
