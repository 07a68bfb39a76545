package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/events"
	"github.com/spec-kit/igm-service/internal/observability"
)

// NotificationService writes an operator-facing log line and a counter for
// every lifecycle event.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventIssueCreated, n.handleIssueCreated)
	n.dispatcher.Subscribe(events.EventIssueEscalated, n.handleAttention)
	n.dispatcher.Subscribe(events.EventIssueDeadlineReached, n.handleAttention)
	n.dispatcher.Subscribe(events.EventIssueResponded, n.handleIssueResponded)
	n.dispatcher.Subscribe(events.EventIssueCascaded, n.handleIssueResponded)
	n.dispatcher.Subscribe(events.EventIssueDelegateUpdated, n.handleIssueResponded)
	n.dispatcher.Subscribe(events.EventIssueUpdated, n.handleIssueUpdated)
	n.dispatcher.Subscribe(events.EventIssueClosed, n.handleIssueUpdated)
}

func (n *NotificationService) handleIssueCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("IssueCreated", n.fields(event)...)
	n.count(event)
	return nil
}

// handleAttention covers events where the provider has not answered yet.
func (n *NotificationService) handleAttention(ctx context.Context, event events.Event) error {
	n.logger.Warn("IssueNeedsAttention", n.fields(event)...)
	n.count(event)
	return nil
}

func (n *NotificationService) handleIssueResponded(ctx context.Context, event events.Event) error {
	n.logger.Info("IssueResponded", n.fields(event)...)
	n.count(event)
	return nil
}

func (n *NotificationService) handleIssueUpdated(ctx context.Context, event events.Event) error {
	n.logger.Debug("IssueUpdated", n.fields(event)...)
	n.count(event)
	return nil
}

func (n *NotificationService) fields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("transaction_id", event.TransactionID),
		zap.String("issue_id", event.IssueID),
		zap.Any("payload", event.Payload),
	}
}

func (n *NotificationService) count(event events.Event) {
	n.metrics.RecordEvent(string(event.Type))
}
