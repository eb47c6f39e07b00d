package audit

import (
	"context"
	"log/slog"
	"time"
)

// Actions recorded by the auth subsystem.
const (
	ActionLogin           = "login"
	ActionLoginFailed     = "login_failed"
	ActionLoginForced     = "login_forced"
	ActionAutoLogin       = "autologin"
	ActionTokenBurned     = "token_burned"
	ActionLogout          = "logout"
	ActionTokensRevoked   = "tokens_revoked"
	ActionPasswordChanged = "password_changed"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is a single security-relevant occurrence.
type Event struct {
	Action     string
	UserID     string
	Username   string
	RemoteAddr string
	UserAgent  string
	Outcome    string
	Details    map[string]any
	Time       time.Time
}

// Sink receives recorded events.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Event) error
}

// Recorder fans events out to every configured sink.
// A failing sink is logged and never affects the caller or the other sinks.
//
// Thread Safety: safe for concurrent use once constructed.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing to sinks in order.
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger}
}

// Record stamps e (if unstamped) and delivers it to every sink.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	for _, s := range r.sinks {
		if err := s.Write(ctx, e); err != nil {
			r.logger.Warn("audit sink failed",
				"sink", s.Name(),
				"action", e.Action,
				"error", err,
			)
		}
	}
}
