package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type memorySink struct {
	name   string
	events []Event
	err    error
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, e Event) error {
	s.events = append(s.events, e)
	return s.err
}

func TestRecorder_FansOut(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	broken := &memorySink{name: "broken", err: errors.New("disk full")}
	ok := &memorySink{name: "ok"}
	r := NewRecorder(logger, broken, ok)

	r.Record(context.Background(), Event{Action: ActionLogin, UserID: "usr-1"})

	if len(broken.events) != 1 || len(ok.events) != 1 {
		t.Fatalf("deliveries = %d, %d; want 1, 1", len(broken.events), len(ok.events))
	}
	got := ok.events[0]
	if got.Time.IsZero() {
		t.Error("Record() should stamp the event time")
	}
	if got.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want default %q", got.Outcome, OutcomeSuccess)
	}
	if !strings.Contains(buf.String(), "sink=broken") {
		t.Errorf("sink failure not logged: %s", buf.String())
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{Action: ActionLogout})
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewMetricsSink(reg)
	if err != nil {
		t.Fatalf("NewMetricsSink() error = %v", err)
	}

	ctx := context.Background()
	s.Write(ctx, Event{Action: ActionLogin, Outcome: OutcomeSuccess})      //nolint:errcheck // never fails
	s.Write(ctx, Event{Action: ActionLogin, Outcome: OutcomeSuccess})      //nolint:errcheck // never fails
	s.Write(ctx, Event{Action: ActionLoginFailed, Outcome: OutcomeFailure}) //nolint:errcheck // never fails

	if got := testutil.ToFloat64(s.events.WithLabelValues(ActionLogin, OutcomeSuccess)); got != 2 {
		t.Errorf("login/success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.events.WithLabelValues(ActionLoginFailed, OutcomeFailure)); got != 1 {
		t.Errorf("login_failed/failure = %v, want 1", got)
	}

	if _, err := NewMetricsSink(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestLogSink_Levels(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()

	s.Write(ctx, Event{Action: ActionAutoLogin, Outcome: OutcomeSuccess}) //nolint:errcheck // never fails
	s.Write(ctx, Event{Action: ActionTokenBurned, Outcome: OutcomeFailure}) //nolint:errcheck // never fails

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2", len(lines))
	}
	for i, want := range []string{"INFO", "WARN"} {
		var entry map[string]any
		if err := json.Unmarshal([]byte(lines[i]), &entry); err != nil {
			t.Fatalf("parsing log line: %v", err)
		}
		if entry["level"] != want {
			t.Errorf("line %d level = %v, want %s", i, entry["level"], want)
		}
	}
}

type fakePublisher struct {
	topic   string
	payload []byte
	qos     byte
	err     error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, _ bool) error {
	p.topic, p.payload, p.qos = topic, payload, qos
	return p.err
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, func(action string) string { return "graylogic/auth/events/" + action }, 1)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := s.Write(context.Background(), Event{
		Action:  ActionTokenBurned,
		UserID:  "usr-1",
		Outcome: OutcomeFailure,
		Details: map[string]any{"token_id": "tok-1"},
		Time:    at,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if pub.topic != "graylogic/auth/events/token_burned" {
		t.Errorf("topic = %q", pub.topic)
	}
	if pub.qos != 1 {
		t.Errorf("qos = %d, want 1", pub.qos)
	}

	var msg eventMessage
	if err := json.Unmarshal(pub.payload, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.UserID != "usr-1" || msg.Outcome != OutcomeFailure || !msg.Timestamp.Equal(at) {
		t.Errorf("payload = %+v", msg)
	}

	pub.err = errors.New("not connected")
	if err := s.Write(context.Background(), Event{Action: ActionLogin}); err == nil {
		t.Error("Write() should surface publish errors")
	}
}

type fakePointWriter struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
	ts          time.Time
}

func (w *fakePointWriter) WritePointWithTime(m string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	w.measurement, w.tags, w.fields, w.ts = m, tags, fields, ts
}

func TestInfluxSink(t *testing.T) {
	w := &fakePointWriter{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := NewInfluxSink(w).Write(context.Background(), Event{
		Action: ActionLogin, UserID: "usr-1", Outcome: OutcomeSuccess, Time: at,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if w.measurement != MeasurementAuthEvents {
		t.Errorf("measurement = %q", w.measurement)
	}
	if w.tags["action"] != ActionLogin || w.tags["outcome"] != OutcomeSuccess {
		t.Errorf("tags = %v", w.tags)
	}
	if w.fields["count"] != 1 || w.fields["user_id"] != "usr-1" {
		t.Errorf("fields = %v", w.fields)
	}
	if !w.ts.Equal(at) {
		t.Errorf("timestamp = %v, want %v", w.ts, at)
	}
}
