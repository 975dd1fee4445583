package goRenew

import (
	"context"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/MrEthical07/goRenew/internal/audit"
)

// AuditEvent is one credential lifecycle record. It never carries tokens.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Manager's dispatcher goroutine.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditRenewalSuccess     = audit.EventRenewalSuccess
	AuditRenewalRejected    = audit.EventRenewalRejected
	AuditRenewalUnavailable = audit.EventRenewalUnavailable
	AuditSessionDestroyed   = audit.EventSessionDestroyed
	AuditSignIn             = audit.EventSignIn
	AuditSignOut            = audit.EventSignOut
	AuditRetryExhausted     = audit.EventRetryExhausted
)

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// LogSink writes events through a logr.Logger.
type LogSink = audit.LogSink

// NewLogSink creates a [LogSink].
func NewLogSink(l logr.Logger) *LogSink { return audit.NewLogSink(l) }

func (c *core) emitAudit(ctx context.Context, eventType, principalID, attemptID string, success bool, err error, metadata map[string]string) {
	if c == nil || c.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		AttemptID:   attemptID,
		Success:     success,
		Metadata:    metadata,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.audit.Emit(ctx, ev)
}
