package alert

import (
	"context"

	"go.uber.org/zap"
)

// LogAlerter writes alert events to the structured log. It is the default
// sink when no external channel is configured.
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter returns a LogAlerter backed by the given logger.
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAlerter{logger: logger}
}

// SendAlert logs the event at warn level with all triage fields attached.
func (a *LogAlerter) SendAlert(_ context.Context, event Event) error {
	a.logger.Warn("operational alert",
		zap.String("kind", string(event.Kind)),
		zap.String("source", event.Source),
		zap.String("domain", event.Domain),
		zap.Int("consecutive_errors", event.ConsecutiveErrors),
		zap.String("last_error", event.LastError),
		zap.String("message", event.Message),
		zap.Time("at", event.At),
	)
	return nil
}
