package adapters

import (
	"context"
	"runtime"
	"time"

	"iotc-device-client/application"
)

// SystemTelemetry reports basic process statistics as device telemetry.
type SystemTelemetry struct {
	started time.Time
	now     func() time.Time
}

func NewSystemTelemetry() *SystemTelemetry {
	return &SystemTelemetry{started: time.Now(), now: time.Now}
}

func (s *SystemTelemetry) Read(_ context.Context) (map[string]any, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return map[string]any{
		"uptime":     int64(s.now().Sub(s.started).Seconds()),
		"goroutines": runtime.NumGoroutine(),
		"heap_alloc": ms.HeapAlloc,
		"num_gc":     ms.NumGC,
	}, nil
}

var _ application.TelemetrySource = &SystemTelemetry{}
