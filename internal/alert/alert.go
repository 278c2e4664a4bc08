// Package alert defines the operational alerting surface shared by the rate
// limiter and the watchdog.
package alert

import (
	"context"
	"time"
)

// Kind classifies an operational alert event.
type Kind string

// Alert kinds emitted by the pipeline.
const (
	KindSLABreach         Kind = "sla_breach"
	KindConsecutiveErrors Kind = "consecutive_errors"
	KindCircuitOpen       Kind = "circuit_open"
	KindCircuitReset      Kind = "circuit_reset"
	KindEmptyDiscovery    Kind = "empty_discovery"
)

// Event carries everything an operator needs to triage without consulting
// logs: the affected source/domain, error streak, and last error text.
type Event struct {
	Kind              Kind      `json:"kind"`
	Source            string    `json:"source,omitempty"`
	Domain            string    `json:"domain,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	Message           string    `json:"message"`
	At                time.Time `json:"at"`
}

// Alerter forwards events to an external notification channel.
type Alerter interface {
	SendAlert(ctx context.Context, event Event) error
}
