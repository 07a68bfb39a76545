package domain

import (
	"encoding/json"
	"time"
)

// IssueStatus enumerates complainant-controlled issue states.
type IssueStatus string

const (
	IssueStatusOpen     IssueStatus = "OPEN"
	IssueStatusEscalate IssueStatus = "ESCALATE"
	IssueStatusClosed   IssueStatus = "CLOSED"
)

// IssueType classifies the complaint.
type IssueType string

const (
	IssueTypeIssue     IssueType = "ISSUE"
	IssueTypeGrievance IssueType = "GRIEVANCE"
	IssueTypeDispute   IssueType = "DISPUTE"
)

// ComplainantActionType tags entries in the complainant log.
type ComplainantActionType string

const (
	ComplainantActionOpen     ComplainantActionType = "OPEN"
	ComplainantActionEscalate ComplainantActionType = "ESCALATE"
	ComplainantActionClosed   ComplainantActionType = "CLOSED"
)

// RespondentActionType tags entries in the respondent log.
type RespondentActionType string

const (
	RespondentActionProcessing   RespondentActionType = "PROCESSING"
	RespondentActionCascaded     RespondentActionType = "CASCADED"
	RespondentActionResolved     RespondentActionType = "RESOLVED"
	RespondentActionNeedMoreInfo RespondentActionType = "NEED-MORE-INFO"
)

// ResolutionAction is the action a resolution triggered.
type ResolutionAction string

const (
	ResolutionResolved    ResolutionAction = "RESOLVED"
	ResolutionRefund      ResolutionAction = "REFUND"
	ResolutionReplacement ResolutionAction = "REPLACEMENT"
	ResolutionCascaded    ResolutionAction = "CASCADED"
	ResolutionNoAction    ResolutionAction = "NO-ACTION"
)

// PrimaryCascadeLevel is the level of the participant first receiving the issue.
const PrimaryCascadeLevel = 1

// Issue is the message.issue body exchanged between network participants.
type Issue struct {
	ID                     string              `json:"id"`
	Category               string              `json:"category,omitempty"`
	SubCategory            string              `json:"sub_category,omitempty"`
	ComplainantInfo        *ComplainantInfo    `json:"complainant_info,omitempty"`
	OrderDetails           *OrderDetails       `json:"order_details,omitempty"`
	Description            *Description        `json:"description,omitempty"`
	Source                 *Source             `json:"source,omitempty"`
	ExpectedResponseTime   *Duration           `json:"expected_response_time,omitempty"`
	ExpectedResolutionTime *Duration           `json:"expected_resolution_time,omitempty"`
	Status                 IssueStatus         `json:"status,omitempty"`
	IssueType              IssueType           `json:"issue_type,omitempty"`
	IssueActions           IssueActions        `json:"issue_actions"`
	Rating                 string              `json:"rating,omitempty"`
	Resolution             *Resolution         `json:"resolution,omitempty"`
	ResolutionProvider     *ResolutionProvider `json:"resolution_provider,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// IssueActions holds both append-only action logs.
type IssueActions struct {
	ComplainantActions []ComplainantAction `json:"complainant_actions,omitempty"`
	RespondentActions  []RespondentAction  `json:"respondent_actions"`
}

// UnmarshalJSON decodes both logs leniently: a log that is not a well-formed
// array of entries decodes as empty instead of failing the whole message.
func (a *IssueActions) UnmarshalJSON(data []byte) error {
	var raw struct {
		ComplainantActions json.RawMessage `json:"complainant_actions"`
		RespondentActions  json.RawMessage `json:"respondent_actions"`
	}
	*a = IssueActions{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	a.ComplainantActions = decodeLog[ComplainantAction](raw.ComplainantActions)
	a.RespondentActions = decodeLog[RespondentAction](raw.RespondentActions)
	return nil
}

func decodeLog[T any](raw json.RawMessage) []T {
	if len(raw) == 0 {
		return nil
	}
	var entries []T
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}

// ComplainantAction is one entry of the complainant log.
type ComplainantAction struct {
	ComplainantAction ComplainantActionType `json:"complainant_action"`
	ShortDesc         string                `json:"short_desc,omitempty"`
	UpdatedAt         time.Time             `json:"updated_at"`
	UpdatedBy         UpdatedBy             `json:"updated_by"`
}

// RespondentAction is one entry of the respondent log.
type RespondentAction struct {
	RespondentAction RespondentActionType `json:"respondent_action"`
	ShortDesc        string               `json:"short_desc,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
	UpdatedBy        UpdatedBy            `json:"updated_by"`
	CascadedLevel    int                  `json:"cascaded_level"`
}

// UpdatedBy identifies the actor behind an action.
type UpdatedBy struct {
	Org     Named   `json:"org"`
	Contact Contact `json:"contact"`
	Person  Named   `json:"person"`
}

type Named struct {
	Name string `json:"name"`
}

type Contact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type ComplainantInfo struct {
	Person  Person  `json:"person"`
	Contact Contact `json:"contact"`
}

type Person struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// OrderDetails references the order the complaint is about.
type OrderDetails struct {
	ID           string        `json:"id"`
	State        string        `json:"state,omitempty"`
	Items        []OrderItem   `json:"items"`
	Fulfillments []Fulfillment `json:"fulfillments,omitempty"`
	ProviderID   string        `json:"provider_id"`
	ProviderName string        `json:"provider_name,omitempty"`
}

// OrderItem is an order line. ProductName is seller-only and never leaves for a delegate.
type OrderItem struct {
	ID          string `json:"id"`
	Quantity    int    `json:"quantity"`
	ProductName string `json:"product_name,omitempty"`
}

type Fulfillment struct {
	ID    string `json:"id"`
	State string `json:"state,omitempty"`
}

type Description struct {
	ShortDesc      string          `json:"short_desc,omitempty"`
	LongDesc       string          `json:"long_desc,omitempty"`
	AdditionalDesc *AdditionalDesc `json:"additional_desc,omitempty"`
	Images         []string        `json:"images,omitempty"`
}

type AdditionalDesc struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

type Source struct {
	NetworkParticipantID string `json:"network_participant_id"`
	Type                 string `json:"type"`
}

// Duration wraps an ISO-8601 duration expression such as PT2H.
type Duration struct {
	Duration string `json:"duration"`
}

// Resolution describes how the respondent settled the issue.
type Resolution struct {
	ShortDesc       string           `json:"short_desc,omitempty"`
	LongDesc        string           `json:"long_desc,omitempty"`
	ActionTriggered ResolutionAction `json:"action_triggered"`
	RefundAmount    string           `json:"refund_amount,omitempty"`
}

type ResolutionProvider struct {
	RespondentInfo RespondentInfo `json:"respondent_info"`
}

type RespondentInfo struct {
	Type              string            `json:"type"`
	Organization      UpdatedBy         `json:"organization"`
	ResolutionSupport ResolutionSupport `json:"resolution_support"`
}

type ResolutionSupport struct {
	ChatLink string  `json:"chat_link,omitempty"`
	Contact  Contact `json:"contact"`
	Gros     []Gro   `json:"gros"`
}

// Gro is a grievance redressal officer in the resolution provider chain.
type Gro struct {
	Person  Named   `json:"person"`
	Contact Contact `json:"contact"`
	GroType string  `json:"gro_type"`
}

// HasComplainantAction reports whether any complainant entry carries the tag.
func (a IssueActions) HasComplainantAction(tag ComplainantActionType) bool {
	for _, action := range a.ComplainantActions {
		if action.ComplainantAction == tag {
			return true
		}
	}
	return false
}

// HasRespondentAction reports whether any respondent entry carries the tag.
func (a IssueActions) HasRespondentAction(tag RespondentActionType) bool {
	for _, action := range a.RespondentActions {
		if action.RespondentAction == tag {
			return true
		}
	}
	return false
}

// CurrentCascadeLevel is the highest level in the respondent log, never below the primary level.
func (a IssueActions) CurrentCascadeLevel() int {
	level := PrimaryCascadeLevel
	for _, action := range a.RespondentActions {
		if action.CascadedLevel > level {
			level = action.CascadedLevel
		}
	}
	return level
}
