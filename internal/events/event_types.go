package events

import (
	"time"

	"github.com/spec-kit/igm-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIssueCreated         EventType = "issue_created"
	EventIssueUpdated         EventType = "issue_updated"
	EventIssueEscalated       EventType = "issue_escalated"
	EventIssueClosed          EventType = "issue_closed"
	EventIssueResponded       EventType = "issue_responded"
	EventIssueCascaded        EventType = "issue_cascaded"
	EventIssueDelegateUpdated EventType = "issue_delegate_updated"
	EventIssueDeadlineReached EventType = "issue_deadline_reached"
)

// AllEventTypes lists every lifecycle event, for subscribers that relay everything.
var AllEventTypes = []EventType{
	EventIssueCreated,
	EventIssueUpdated,
	EventIssueEscalated,
	EventIssueClosed,
	EventIssueResponded,
	EventIssueCascaded,
	EventIssueDelegateUpdated,
	EventIssueDeadlineReached,
}

// Event represents a lifecycle event emitted by the orchestrator.
type Event struct {
	ID            string      `json:"id"`
	Type          EventType   `json:"type"`
	TransactionID string      `json:"transaction_id"`
	IssueID       string      `json:"issue_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       interface{} `json:"payload"`
}

// IssueCreatedPayload payload.
type IssueCreatedPayload struct {
	Category    string             `json:"category"`
	SubCategory string             `json:"sub_category"`
	ProviderID  string             `json:"provider_id"`
	Status      domain.IssueStatus `json:"status"`
}

// IssueUpdatedPayload payload.
type IssueUpdatedPayload struct {
	Status    domain.IssueStatus `json:"status"`
	IssueType domain.IssueType   `json:"issue_type"`
	Rating    string             `json:"rating,omitempty"`
}

// RespondentActionPayload carries the respondent action an event was raised for.
type RespondentActionPayload struct {
	Action          domain.RespondentActionType `json:"respondent_action"`
	CascadedLevel   int                         `json:"cascaded_level"`
	ActionTriggered domain.ResolutionAction     `json:"action_triggered,omitempty"`
}

// IssueCascadedPayload payload.
type IssueCascadedPayload struct {
	LogisticsTransactionID string `json:"logistics_transaction_id"`
	CascadedLevel          int    `json:"cascaded_level"`
}
