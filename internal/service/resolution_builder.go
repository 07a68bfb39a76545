package service

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/igm-service/internal/config"
	"github.com/spec-kit/igm-service/internal/domain"
	apperrors "github.com/spec-kit/igm-service/pkg/util/errorutil"
)

const (
	respondentTypeCounterparty = "TRANSACTION-COUNTERPARTY-NP"
	groTypeCounterparty        = "TRANSACTION-COUNTERPARTY-NP-GRO"
	processingShortDesc        = "We are investigating your concern."
)

// ProviderResponse is a provider's answer to an open issue.
type ProviderResponse struct {
	TransactionID    string
	RespondentAction domain.RespondentActionType
	ActionTriggered  domain.ResolutionAction
	ShortDesc        string
	LongDesc         string
	RefundAmount     string
	Domain           string
	Contact          domain.Contact
	Person           domain.Named
}

// StatusPayload is the outbound respondent message. It is either an
// AckPayload (no resolution) or a ResolvedPayload.
type StatusPayload interface {
	Envelope() domain.RespondentEnvelope
	Actions() []domain.RespondentAction
	statusPayload()
}

// AckPayload acknowledges progress without resolving the issue.
type AckPayload struct {
	Context           domain.Context
	IssueID           string
	IssueType         domain.IssueType
	RespondentActions []domain.RespondentAction
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (p AckPayload) Envelope() domain.RespondentEnvelope {
	return domain.RespondentEnvelope{
		Context: p.Context,
		Message: domain.RespondentMessage{Issue: p.issue()},
	}
}

func (p AckPayload) Actions() []domain.RespondentAction {
	return p.RespondentActions
}

func (p AckPayload) issue() domain.RespondentIssue {
	return domain.RespondentIssue{
		ID:           p.IssueID,
		IssueType:    p.IssueType,
		IssueActions: domain.RespondentLog{RespondentActions: nonNilActions(p.RespondentActions)},
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func (AckPayload) statusPayload() {}

// ResolvedPayload carries a resolution and the chain of officers behind it.
type ResolvedPayload struct {
	AckPayload
	Resolution         domain.Resolution
	ResolutionProvider domain.ResolutionProvider
}

func (p ResolvedPayload) Envelope() domain.RespondentEnvelope {
	issue := p.issue()
	resolution := p.Resolution
	provider := p.ResolutionProvider
	issue.Resolution = &resolution
	issue.ResolutionProvider = &provider
	return domain.RespondentEnvelope{
		Context: p.Context,
		Message: domain.RespondentMessage{Issue: issue},
	}
}

// ResolutionBuilder composes respondent payloads from stored issues.
type ResolutionBuilder struct {
	network config.NetworkConfig
	now     func() time.Time
	newID   func() string
}

func NewResolutionBuilder(network config.NetworkConfig) *ResolutionBuilder {
	return &ResolutionBuilder{
		network: network,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Build turns a provider response into the payload to send for record.
func (b *ResolutionBuilder) Build(record *domain.IssueRecord, resp ProviderResponse) (StatusPayload, error) {
	if err := validateResponse(resp); err != nil {
		return nil, err
	}
	now := b.now()
	responder := b.responder(record, resp)
	stored := record.Issue.IssueActions

	if resp.RespondentAction == domain.RespondentActionProcessing ||
		(resp.RespondentAction == domain.RespondentActionNeedMoreInfo && resp.ActionTriggered == "") {
		ack := b.ackPayload(record, now)
		ack.Context.MessageID = record.Context.MessageID
		ack.RespondentActions = appendAction(stored.RespondentActions, domain.RespondentAction{
			RespondentAction: resp.RespondentAction,
			ShortDesc:        resp.ShortDesc,
			UpdatedAt:        now,
			UpdatedBy:        responder,
			CascadedLevel:    stored.CurrentCascadeLevel(),
		})
		return ack, nil
	}

	action := resp.RespondentAction
	resolution := domain.Resolution{
		ShortDesc:       resp.ShortDesc,
		LongDesc:        resp.LongDesc,
		ActionTriggered: resp.ActionTriggered,
	}
	if resp.ActionTriggered == domain.ResolutionRefund {
		action = domain.RespondentActionResolved
		resolution.RefundAmount = resp.RefundAmount
	} else if resolution.ActionTriggered == "" {
		resolution.ActionTriggered = domain.ResolutionAction(resp.RespondentAction)
	}

	level := stored.CurrentCascadeLevel()
	if action == domain.RespondentActionCascaded {
		level++
	}
	resolved := ResolvedPayload{
		AckPayload:         b.ackPayload(record, now),
		Resolution:         resolution,
		ResolutionProvider: b.resolutionProvider(responder, resp),
	}
	resolved.RespondentActions = appendAction(stored.RespondentActions, domain.RespondentAction{
		RespondentAction: action,
		ShortDesc:        resp.ShortDesc,
		UpdatedAt:        now,
		UpdatedBy:        responder,
		CascadedLevel:    level,
	})
	return resolved, nil
}

// EscalationAck answers a complainant escalation with a level-1 PROCESSING
// action and marks the issue a grievance.
func (b *ResolutionBuilder) EscalationAck(record *domain.IssueRecord) AckPayload {
	ack := b.processingAck(record)
	ack.IssueType = domain.IssueTypeGrievance
	return ack
}

// DeadlineAck is the synthetic PROCESSING answer sent when no provider
// responded before the expected response time.
func (b *ResolutionBuilder) DeadlineAck(record *domain.IssueRecord) AckPayload {
	return b.processingAck(record)
}

// StatusReply renders the stored state of record in reply to a status poll.
func (b *ResolutionBuilder) StatusReply(record *domain.IssueRecord, messageID string) StatusPayload {
	ack := b.ackPayload(record, b.now())
	ack.UpdatedAt = record.Issue.UpdatedAt
	ack.RespondentActions = record.Issue.IssueActions.RespondentActions
	if messageID != "" {
		ack.Context.MessageID = messageID
	}
	if record.Issue.Resolution == nil {
		return ack
	}
	resolved := ResolvedPayload{AckPayload: ack, Resolution: *record.Issue.Resolution}
	if record.Issue.ResolutionProvider != nil {
		resolved.ResolutionProvider = *record.Issue.ResolutionProvider
	}
	return resolved
}

func (b *ResolutionBuilder) processingAck(record *domain.IssueRecord) AckPayload {
	now := b.now()
	ack := b.ackPayload(record, now)
	ack.RespondentActions = appendAction(record.Issue.IssueActions.RespondentActions, domain.RespondentAction{
		RespondentAction: domain.RespondentActionProcessing,
		ShortDesc:        processingShortDesc,
		UpdatedAt:        now,
		UpdatedBy:        b.defaultResponder(record),
		CascadedLevel:    domain.PrimaryCascadeLevel,
	})
	return ack
}

func (b *ResolutionBuilder) ackPayload(record *domain.IssueRecord, now time.Time) AckPayload {
	ctx := record.Context
	if b.network.SubscriberID != "" {
		ctx.BppID = b.network.SubscriberID
	}
	if b.network.SubscriberURI != "" {
		ctx.BppURI = b.network.SubscriberURI
	}
	ctx.CoreVersion = b.network.CoreVersion
	ctx.Timestamp = now
	ctx.MessageID = b.newID()
	return AckPayload{
		Context:   ctx,
		IssueID:   record.Issue.ID,
		CreatedAt: record.Issue.CreatedAt,
		UpdatedAt: now,
	}
}

func (b *ResolutionBuilder) responder(record *domain.IssueRecord, resp ProviderResponse) domain.UpdatedBy {
	domainName := resp.Domain
	if domainName == "" {
		domainName = record.Context.Domain
	}
	return domain.UpdatedBy{
		Org:     domain.Named{Name: b.network.SubscriberID + "::" + domainName},
		Contact: resp.Contact,
		Person:  resp.Person,
	}
}

// defaultResponder is the provider identity cached at creation, falling back
// to this participant's network identity.
func (b *ResolutionBuilder) defaultResponder(record *domain.IssueRecord) domain.UpdatedBy {
	responder := record.Responder
	if responder.Org.Name == "" {
		responder.Org.Name = b.network.SubscriberURI + "::" + record.Context.Domain
	}
	return responder
}

func (b *ResolutionBuilder) resolutionProvider(responder domain.UpdatedBy, resp ProviderResponse) domain.ResolutionProvider {
	return domain.ResolutionProvider{
		RespondentInfo: domain.RespondentInfo{
			Type:         respondentTypeCounterparty,
			Organization: responder,
			ResolutionSupport: domain.ResolutionSupport{
				ChatLink: b.network.ChatLink,
				Contact:  resp.Contact,
				Gros: []domain.Gro{{
					Person:  resp.Person,
					Contact: resp.Contact,
					GroType: groTypeCounterparty,
				}},
			},
		},
	}
}

func validateResponse(resp ProviderResponse) error {
	switch resp.RespondentAction {
	case domain.RespondentActionProcessing,
		domain.RespondentActionCascaded,
		domain.RespondentActionResolved,
		domain.RespondentActionNeedMoreInfo:
	default:
		return apperrors.NewValidationError("unknown respondent_action", map[string]any{
			"respondent_action": resp.RespondentAction,
		})
	}
	if resp.ActionTriggered == domain.ResolutionRefund && strings.TrimSpace(resp.RefundAmount) == "" {
		return apperrors.NewValidationError("refund_amount is required for a refund", nil)
	}
	return nil
}

// appendAction copies log before appending so stored slices are never shared.
func appendAction(log []domain.RespondentAction, action domain.RespondentAction) []domain.RespondentAction {
	out := make([]domain.RespondentAction, 0, len(log)+1)
	out = append(out, log...)
	return append(out, action)
}

func nonNilActions(actions []domain.RespondentAction) []domain.RespondentAction {
	if actions == nil {
		return []domain.RespondentAction{}
	}
	return actions
}
