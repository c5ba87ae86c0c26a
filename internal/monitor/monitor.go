package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradecore/internal/events"
	"tradecore/internal/risk"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the standard logger.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Printf("alert: %s", message)
	return nil
}

// Monitor watches risk events and forwards formatted alerts.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *SystemMetrics
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	alerts, unsubAlerts := m.Bus.Subscribe(events.EventRiskAlert, 50)
	stops, unsubStops := m.Bus.Subscribe(events.EventEmergencyStop, 10)
	go func() {
		defer unsubAlerts()
		defer unsubStops()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-alerts:
				if !ok {
					return
				}
				if m.Metrics != nil {
					m.Metrics.IncrementRiskRejections()
				}
				if err := m.Sink.Send(formatAlert(msg)); err != nil {
					log.Printf("monitor: alert delivery failed: %v", err)
				}
			case msg, ok := <-stops:
				if !ok {
					return
				}
				if err := m.Sink.Send(formatAlert(msg)); err != nil {
					log.Printf("monitor: alert delivery failed: %v", err)
				}
			}
		}
	}()
}

func formatAlert(msg any) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case risk.Violation:
		return fmt.Sprintf("%s: observed %.4f over threshold %.4f (action %s)", t.RuleName, t.Observed, t.Threshold, t.Action)
	default:
		return "alert triggered"
	}
}
