package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts events by action and outcome.
type MetricsSink struct {
	events *prometheus.CounterVec
}

// NewMetricsSink registers the graylogic_auth_events_total counter with reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graylogic",
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Authentication events by action and outcome.",
	}, []string{"action", "outcome"})

	if err := reg.Register(events); err != nil {
		return nil, fmt.Errorf("registering auth event counter: %w", err)
	}
	return &MetricsSink{events: events}, nil
}

// Name implements Sink.
func (s *MetricsSink) Name() string { return "metrics" }

// Write implements Sink.
func (s *MetricsSink) Write(_ context.Context, e Event) error {
	s.events.WithLabelValues(e.Action, e.Outcome).Inc()
	return nil
}

// LogSink writes events to a structured logger. Failures and burned tokens
// are logged at WARN.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Write implements Sink.
func (s *LogSink) Write(ctx context.Context, e Event) error {
	level := slog.LevelInfo
	if e.Outcome == OutcomeFailure || e.Action == ActionTokenBurned {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "auth event",
		"action", e.Action,
		"outcome", e.Outcome,
		"user_id", e.UserID,
		"remote_addr", e.RemoteAddr,
	)
	return nil
}

// Publisher publishes a message to a broker topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes each event as JSON to a per-action topic.
type MQTTSink struct {
	pub   Publisher
	topic func(action string) string
	qos   byte
}

// NewMQTTSink creates an MQTT sink. topic maps an action to its topic.
func NewMQTTSink(pub Publisher, topic func(action string) string, qos byte) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topic, qos: qos}
}

// eventMessage is the published JSON payload.
type eventMessage struct {
	Action     string         `json:"action"`
	UserID     string         `json:"user_id,omitempty"`
	Username   string         `json:"username,omitempty"`
	RemoteAddr string         `json:"remote_addr,omitempty"`
	Outcome    string         `json:"outcome"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Write implements Sink.
func (s *MQTTSink) Write(_ context.Context, e Event) error {
	payload, err := json.Marshal(eventMessage{
		Action:     e.Action,
		UserID:     e.UserID,
		Username:   e.Username,
		RemoteAddr: e.RemoteAddr,
		Outcome:    e.Outcome,
		Details:    e.Details,
		Timestamp:  e.Time,
	})
	if err != nil {
		return fmt.Errorf("marshalling auth event: %w", err)
	}
	return s.pub.Publish(s.topic(e.Action), payload, s.qos, false)
}

// PointWriter writes a time series point. Writes are asynchronous.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// MeasurementAuthEvents is the time series measurement for auth events.
const MeasurementAuthEvents = "auth_events"

// InfluxSink records each event as an auth_events point tagged by action
// and outcome.
type InfluxSink struct {
	w PointWriter
}

// NewInfluxSink creates a time series sink.
func NewInfluxSink(w PointWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Write implements Sink.
func (s *InfluxSink) Write(_ context.Context, e Event) error {
	fields := map[string]interface{}{"count": 1}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	s.w.WritePointWithTime(MeasurementAuthEvents,
		map[string]string{"action": e.Action, "outcome": e.Outcome},
		fields,
		e.Time,
	)
	return nil
}
