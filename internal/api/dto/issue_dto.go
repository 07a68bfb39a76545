package dto

import "github.com/spec-kit/igm-service/internal/domain"

// IssueResponseRequest is the provider's answer posted from the seller application.
type IssueResponseRequest struct {
	TransactionID    string                      `json:"transaction_id"`
	RespondentAction domain.RespondentActionType `json:"respondent_action"`
	ActionTriggered  domain.ResolutionAction     `json:"action_triggered"`
	ShortDesc        string                      `json:"short_desc"`
	LongDesc         string                      `json:"long_desc"`
	RefundAmount     string                      `json:"refund_amount"`
	Domain           string                      `json:"domain"`
	UpdatedBy        ResponderRequest            `json:"updated_by"`
}

// ResponderRequest identifies the person answering for the provider.
type ResponderRequest struct {
	Contact domain.Contact `json:"contact"`
	Person  domain.Named   `json:"person"`
}

// IssueListResponse is returned by GET /all-issue.
type IssueListResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message,omitempty"`
	Issues  []domain.IssueRecord `json:"issues"`
	Count   int                  `json:"count"`
}

// IssueDetailResponse is returned by GET /getissue/:id.
type IssueDetailResponse struct {
	Success bool                `json:"success"`
	Issue   *domain.IssueRecord `json:"issue"`
}

// NoIssueResponse is the soft answer for a transaction or issue that does not exist.
type NoIssueResponse struct {
	Message string `json:"message"`
	Issues  []any  `json:"issues"`
}

// AckResponse is the synchronous protocol acknowledgement.
type AckResponse struct {
	Context *domain.Context `json:"context"`
	Message struct {
		Ack struct {
			Status string `json:"status"`
		} `json:"ack"`
	} `json:"message"`
}

// NewAckResponse builds a positive acknowledgement.
func NewAckResponse() AckResponse {
	var resp AckResponse
	resp.Message.Ack.Status = "ACK"
	return resp
}

// NoIssue is the body sent when nothing matched.
func NoIssue() NoIssueResponse {
	return NoIssueResponse{Message: "There is no issue", Issues: []any{}}
}
