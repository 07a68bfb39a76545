package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/observability"
)

// GatewayClient sends respondent callbacks to the network gateway.
type GatewayClient struct {
	peer peer
}

// NewGatewayClient targets the gateway's protocol base URL.
func NewGatewayClient(baseURL string, timeout time.Duration, signer *Signer, metrics *observability.Metrics, logger *zap.Logger) *GatewayClient {
	return &GatewayClient{peer: peer{
		name:    "gateway",
		baseURL: baseURL,
		timeout: timeout,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
	}}
}

// OnIssue posts the first respondent answer to an issue.
func (c *GatewayClient) OnIssue(ctx context.Context, envelope domain.RespondentEnvelope) error {
	envelope.Context.Action = domain.ActionOnIssue
	return c.peer.postEnvelope(ctx, "/on_issue", domain.ActionOnIssue, envelope)
}

// OnIssueStatus posts a follow-up respondent answer or a status reply.
func (c *GatewayClient) OnIssueStatus(ctx context.Context, envelope domain.RespondentEnvelope) error {
	envelope.Context.Action = domain.ActionOnIssueStatus
	return c.peer.postEnvelope(ctx, "/on_issue_status", domain.ActionOnIssueStatus, envelope)
}
