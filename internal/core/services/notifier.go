package services

import (
	"context"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/ports"

	"go.uber.org/zap"
)

// notifier fans lifecycle changes out to the event publisher and the metrics
// recorder. Publishing is best effort: failures are logged and never reach
// the caller.
type notifier struct {
	publisher ports.EventPublisher
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
}

func newNotifier(publisher ports.EventPublisher, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *notifier {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &notifier{publisher: publisher, metrics: metrics, logger: logger}
}

func (n *notifier) session(ctx context.Context, typ domain.SessionEventType, s *Session, reason string) {
	n.publish(ctx, &domain.SessionEvent{
		Type:      typ,
		SessionID: s.id,
		Owner:     s.owner,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

func (n *notifier) participant(ctx context.Context, typ domain.SessionEventType, s *Session, c *Connection) {
	n.publish(ctx, &domain.SessionEvent{
		Type:         typ,
		SessionID:    s.id,
		Owner:        s.owner,
		ConnectionID: c.id,
		Role:         c.role,
		Timestamp:    time.Now(),
	})
}

func (n *notifier) publish(ctx context.Context, event *domain.SessionEvent) {
	if n.publisher == nil {
		return
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.Warnw("failed to publish session event",
			"type", event.Type,
			"session_id", event.SessionID,
			"error", err,
		)
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordSessionCreated(domain.SessionID)                                {}
func (noopMetrics) RecordSessionState(domain.SessionID, domain.SessionState)             {}
func (noopMetrics) RecordSessionEnded(domain.SessionID, domain.EndReason, time.Duration) {}
func (noopMetrics) RecordConnectionOpened(domain.Role)                                   {}
func (noopMetrics) RecordConnectionClosed(domain.Role, domain.CloseReason)               {}
func (noopMetrics) RecordMessage(domain.MessageKind)                                     {}
func (noopMetrics) RecordDrop(string)                                                    {}
