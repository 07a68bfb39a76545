package domain

import "time"

// IssueRecord is the persisted state of one issue conversation.
type IssueRecord struct {
	Context                Context   `json:"context"`
	Issue                  Issue     `json:"issue"`
	LogisticsTransactionID string    `json:"logistics_transaction_id,omitempty"`
	Responder              UpdatedBy `json:"responder"`
	CreatedAt              time.Time `json:"-"`
	UpdatedAt              time.Time `json:"-"`
}

// TransactionID returns the correlation key of the record.
func (r *IssueRecord) TransactionID() string {
	return r.Context.TransactionID
}

// ProviderID returns the provider the complaint is against.
func (r *IssueRecord) ProviderID() string {
	if r.Issue.OrderDetails == nil {
		return ""
	}
	return r.Issue.OrderDetails.ProviderID
}

// IsClosed reports whether the complainant closed the issue.
func (r *IssueRecord) IsClosed() bool {
	return r.Issue.Status == IssueStatusClosed
}

// IsCascaded reports whether the issue was delegated to a logistics counterparty.
func (r *IssueRecord) IsCascaded() bool {
	return r.Issue.IssueActions.HasRespondentAction(RespondentActionCascaded)
}

// Envelope wraps the record's issue in its stored context.
func (r *IssueRecord) Envelope() IssueEnvelope {
	return IssueEnvelope{Context: r.Context, Message: IssueMessage{Issue: r.Issue}}
}
