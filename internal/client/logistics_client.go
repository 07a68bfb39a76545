package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/observability"
)

// LogisticsClient forwards cascaded issues and status polls to the logistics participant.
type LogisticsClient struct {
	peer peer
}

func NewLogisticsClient(baseURL string, timeout time.Duration, signer *Signer, metrics *observability.Metrics, logger *zap.Logger) *LogisticsClient {
	return &LogisticsClient{peer: peer{
		name:    "logistics",
		baseURL: baseURL,
		timeout: timeout,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
	}}
}

// Issue delegates an issue to the counterparty.
func (c *LogisticsClient) Issue(ctx context.Context, envelope domain.IssueEnvelope) error {
	envelope.Context.Action = domain.ActionIssue
	return c.peer.postEnvelope(ctx, "/issue", domain.ActionIssue, envelope)
}

// IssueStatus polls the counterparty for a delegated issue.
func (c *LogisticsClient) IssueStatus(ctx context.Context, req domain.StatusRequest) error {
	req.Context.Action = domain.ActionIssueStatus
	return c.peer.postEnvelope(ctx, "/issue_status", domain.ActionIssueStatus, req)
}
