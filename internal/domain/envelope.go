package domain

import "time"

// Protocol actions carried in Context.Action.
const (
	ActionIssue         = "issue"
	ActionOnIssue       = "on_issue"
	ActionIssueStatus   = "issue_status"
	ActionOnIssueStatus = "on_issue_status"
)

// Context is the envelope header every network message carries.
type Context struct {
	Domain        string    `json:"domain"`
	Country       string    `json:"country"`
	City          string    `json:"city"`
	Action        string    `json:"action"`
	CoreVersion   string    `json:"core_version"`
	BapID         string    `json:"bap_id"`
	BapURI        string    `json:"bap_uri"`
	BppID         string    `json:"bpp_id,omitempty"`
	BppURI        string    `json:"bpp_uri,omitempty"`
	TransactionID string    `json:"transaction_id"`
	MessageID     string    `json:"message_id"`
	Timestamp     time.Time `json:"timestamp"`
	TTL           string    `json:"ttl,omitempty"`
}

// IssueEnvelope is an issue / on_issue / on_issue_status message.
type IssueEnvelope struct {
	Context Context      `json:"context"`
	Message IssueMessage `json:"message"`
}

type IssueMessage struct {
	Issue Issue `json:"issue"`
}

// StatusRequest is an issue_status poll.
type StatusRequest struct {
	Context Context             `json:"context"`
	Message StatusRequestMessage `json:"message"`
}

type StatusRequestMessage struct {
	IssueID string `json:"issue_id"`
}

// Ack is the synchronous acknowledgement a peer returns.
type Ack struct {
	Message struct {
		Ack struct {
			Status string `json:"status"`
		} `json:"ack"`
	} `json:"message"`
	Error *AckError `json:"error,omitempty"`
}

type AckError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Acknowledged reports a positive acknowledgement.
func (a Ack) Acknowledged() bool {
	return a.Message.Ack.Status == "ACK"
}

// NewAck builds a positive acknowledgement body.
func NewAck() Ack {
	var ack Ack
	ack.Message.Ack.Status = "ACK"
	return ack
}

// RespondentIssue is the issue body a respondent sends back in on_issue and
// on_issue_status. Resolution fields are only set for resolved payloads.
type RespondentIssue struct {
	ID                 string              `json:"id"`
	IssueType          IssueType           `json:"issue_type,omitempty"`
	IssueActions       RespondentLog       `json:"issue_actions"`
	Resolution         *Resolution         `json:"resolution,omitempty"`
	ResolutionProvider *ResolutionProvider `json:"resolution_provider,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

type RespondentLog struct {
	RespondentActions []RespondentAction `json:"respondent_actions"`
}

// RespondentEnvelope is an on_issue / on_issue_status message.
type RespondentEnvelope struct {
	Context Context           `json:"context"`
	Message RespondentMessage `json:"message"`
}

type RespondentMessage struct {
	Issue RespondentIssue `json:"issue"`
}
