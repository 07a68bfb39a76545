package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/observability"
)

// Ticket statuses understood by the mirror.
const (
	ticketStatusResolved  = "RESOLVED"
	ticketStatusConfirmed = "CONFIRMED"
)

type ticketCreateRequest struct {
	Product     string              `json:"product"`
	Summary     string              `json:"summary"`
	Alias       string              `json:"alias"`
	BppID       string              `json:"bpp_id"`
	BppName     string              `json:"bpp_name"`
	Attachments []string            `json:"attachments"`
	Action      domain.IssueActions `json:"action"`
}

type ticketUpdateRequest struct {
	Status string              `json:"status"`
	Action domain.IssueActions `json:"action"`
}

// TicketClient mirrors issues into the bug tracker used for human triage.
// With no base URL configured every call is a no-op.
type TicketClient struct {
	peer   peer
	apiKey string
}

func NewTicketClient(baseURL, apiKey string, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *TicketClient {
	return &TicketClient{
		peer: peer{
			name:    "ticketing",
			baseURL: baseURL,
			timeout: timeout,
			metrics: metrics,
			logger:  logger,
		},
		apiKey: apiKey,
	}
}

// Create opens a ticket aliased by the transaction id.
func (c *TicketClient) Create(ctx context.Context, record *domain.IssueRecord) error {
	if c.peer.baseURL == "" {
		return nil
	}
	payload := ticketCreateRequest{
		Alias:       record.TransactionID(),
		BppID:       record.Context.BapID,
		BppName:     record.Context.BapURI,
		Attachments: []string{},
		Action:      record.Issue.IssueActions,
	}
	if desc := record.Issue.Description; desc != nil {
		payload.Summary = desc.LongDesc
		if payload.Summary == "" {
			payload.Summary = desc.ShortDesc
		}
		if desc.Images != nil {
			payload.Attachments = desc.Images
		}
	}
	if od := record.Issue.OrderDetails; od != nil && len(od.Items) > 0 {
		payload.Product = od.Items[0].ProductName
	}
	return c.send(ctx, fiber.MethodPost, "/create", "create", payload)
}

// Update syncs the action logs and marks the ticket resolved or confirmed.
func (c *TicketClient) Update(ctx context.Context, transactionID string, actions domain.IssueActions, resolved bool) error {
	if c.peer.baseURL == "" {
		return nil
	}
	status := ticketStatusConfirmed
	if resolved {
		status = ticketStatusResolved
	}
	return c.send(ctx, fiber.MethodPut, "/updateBug/"+url.PathEscape(transactionID), "update",
		ticketUpdateRequest{Status: status, Action: actions})
}

func (c *TicketClient) send(ctx context.Context, method, path, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", action, err)
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["X-API-KEY"] = c.apiKey
	}
	status, respBody, err := c.peer.do(ctx, request{
		method:  method,
		url:     joinURL(c.peer.baseURL, path),
		body:    body,
		headers: headers,
	})
	if err != nil {
		c.peer.metrics.RecordOutbound(c.peer.name, action, outcomeError)
		return fmt.Errorf("ticket %s: %w", action, err)
	}
	if status >= fiber.StatusMultipleChoices {
		c.peer.metrics.RecordOutbound(c.peer.name, action, outcomeNack)
		return &NackError{Peer: c.peer.name, Action: action, Status: status, Body: respBody}
	}
	c.peer.metrics.RecordOutbound(c.peer.name, action, outcomeAck)
	return nil
}
