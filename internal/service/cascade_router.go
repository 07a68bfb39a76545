package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/igm-service/internal/config"
	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/repository"
	apperrors "github.com/spec-kit/igm-service/pkg/util/errorutil"
)

const cascadedShortDesc = "We have sent your request to logistics."

// LogisticsNotifier delivers protocol messages to the logistics participant.
type LogisticsNotifier interface {
	Issue(ctx context.Context, envelope domain.IssueEnvelope) error
	IssueStatus(ctx context.Context, req domain.StatusRequest) error
}

// CascadeRouter delegates logistics-related issues to the counterparty that
// fulfilled the order and folds its answers back into the retail issue.
type CascadeRouter struct {
	eligible   map[string]struct{}
	selections repository.SelectedLogisticsRepository
	logistics  LogisticsNotifier
	network    config.NetworkConfig
	now        func() time.Time
	newID      func() string
}

func NewCascadeRouter(subCategories []string, selections repository.SelectedLogisticsRepository, logistics LogisticsNotifier, network config.NetworkConfig) *CascadeRouter {
	eligible := make(map[string]struct{}, len(subCategories))
	for _, sub := range subCategories {
		eligible[strings.ToUpper(strings.TrimSpace(sub))] = struct{}{}
	}
	return &CascadeRouter{
		eligible:   eligible,
		selections: selections,
		logistics:  logistics,
		network:    network,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// IsCascadeEligible reports whether issues of subCategory belong to the logistics counterparty.
func (r *CascadeRouter) IsCascadeEligible(subCategory string) bool {
	_, ok := r.eligible[strings.ToUpper(strings.TrimSpace(subCategory))]
	return ok
}

// Delegate forwards a narrowed copy of the issue to the selected counterparty
// and returns the counterparty's transaction id.
func (r *CascadeRouter) Delegate(ctx context.Context, record *domain.IssueRecord) (string, error) {
	delegateCtx, err := r.delegateContext(ctx, record, domain.ActionIssue, r.newID())
	if err != nil {
		return "", err
	}
	envelope := domain.IssueEnvelope{
		Context: delegateCtx,
		Message: domain.IssueMessage{Issue: NarrowIssue(record.Issue)},
	}
	if err := r.logistics.Issue(ctx, envelope); err != nil {
		return "", err
	}
	return delegateCtx.TransactionID, nil
}

// StatusPoll asks the counterparty for the state of a delegated issue.
func (r *CascadeRouter) StatusPoll(ctx context.Context, record *domain.IssueRecord, messageID string) error {
	if messageID == "" {
		messageID = r.newID()
	}
	delegateCtx, err := r.delegateContext(ctx, record, domain.ActionIssueStatus, messageID)
	if err != nil {
		return err
	}
	return r.logistics.IssueStatus(ctx, domain.StatusRequest{
		Context: delegateCtx,
		Message: domain.StatusRequestMessage{IssueID: record.Issue.ID},
	})
}

// CascadedAction is the respondent entry recorded once a delegation succeeded.
func (r *CascadeRouter) CascadedAction(record *domain.IssueRecord) domain.RespondentAction {
	responder := record.Responder
	if responder.Org.Name == "" {
		responder.Org.Name = r.network.SubscriberID + "::" + record.Context.Domain
	}
	return domain.RespondentAction{
		RespondentAction: domain.RespondentActionCascaded,
		ShortDesc:        cascadedShortDesc,
		UpdatedAt:        r.now(),
		UpdatedBy:        responder,
		CascadedLevel:    record.Issue.IssueActions.CurrentCascadeLevel() + 1,
	}
}

func (r *CascadeRouter) delegateContext(ctx context.Context, record *domain.IssueRecord, action, messageID string) (domain.Context, error) {
	selection, err := r.selections.GetLatest(ctx, record.TransactionID(), record.ProviderID())
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domain.Context{}, apperrors.NewNotFound("selected logistics", map[string]any{
				"transaction_id": record.TransactionID(),
				"provider_id":    record.ProviderID(),
			})
		}
		return domain.Context{}, err
	}
	transactionID, bppID, bppURI := selection.DelegateContext()
	if transactionID == "" || bppURI == "" {
		return domain.Context{}, apperrors.NewValidationError("selected logistics has no counterparty context", map[string]any{
			"transaction_id": record.TransactionID(),
		})
	}
	return domain.Context{
		Domain:        r.network.LogisticsDomain,
		Country:       record.Context.Country,
		City:          record.Context.City,
		Action:        action,
		CoreVersion:   r.network.CoreVersion,
		BapID:         r.network.SubscriberID,
		BapURI:        r.network.SubscriberURI,
		BppID:         bppID,
		BppURI:        bppURI,
		TransactionID: transactionID,
		MessageID:     messageID,
		Timestamp:     r.now(),
		TTL:           record.Context.TTL,
	}, nil
}

// NarrowIssue strips what only the seller may see: product names on order
// items, complainant details beyond a name, and any resolution.
func NarrowIssue(issue domain.Issue) domain.Issue {
	narrowed := issue
	narrowed.Resolution = nil
	narrowed.ResolutionProvider = nil
	if issue.ComplainantInfo != nil {
		narrowed.ComplainantInfo = &domain.ComplainantInfo{
			Person:  domain.Person{Name: issue.ComplainantInfo.Person.Name},
			Contact: issue.ComplainantInfo.Contact,
		}
	}
	if issue.OrderDetails != nil {
		od := *issue.OrderDetails
		od.Items = make([]domain.OrderItem, len(issue.OrderDetails.Items))
		for i, item := range issue.OrderDetails.Items {
			od.Items[i] = domain.OrderItem{ID: item.ID, Quantity: item.Quantity}
		}
		od.Fulfillments = append([]domain.Fulfillment(nil), issue.OrderDetails.Fulfillments...)
		narrowed.OrderDetails = &od
	}
	narrowed.IssueActions = domain.IssueActions{
		ComplainantActions: append([]domain.ComplainantAction(nil), issue.IssueActions.ComplainantActions...),
		RespondentActions:  append([]domain.RespondentAction{}, issue.IssueActions.RespondentActions...),
	}
	return narrowed
}

// MergeCallback folds a delegate's answer into the primary record. The
// respondent log keeps the primary's entries up to its last CASCADED entry,
// then the primary's own later entries (those below the cascaded level, such as
// an escalation's PROCESSING), then the delegate's entries lifted to at least
// the cascaded level. Earlier delegate entries are replaced by the callback.
// Complainant actions and order details are left as they were.
func MergeCallback(primary domain.IssueRecord, callback domain.RespondentIssue) domain.IssueRecord {
	merged := primary
	stored := primary.Issue.IssueActions.RespondentActions

	cut := len(stored)
	floor := primary.Issue.IssueActions.CurrentCascadeLevel() + 1
	for i := len(stored) - 1; i >= 0; i-- {
		if stored[i].RespondentAction == domain.RespondentActionCascaded {
			cut = i + 1
			floor = stored[i].CascadedLevel
			break
		}
	}

	actions := make([]domain.RespondentAction, 0, len(stored)+len(callback.IssueActions.RespondentActions))
	actions = append(actions, stored[:cut]...)
	for _, action := range stored[cut:] {
		if action.CascadedLevel < floor {
			actions = append(actions, action)
		}
	}
	level := floor
	for _, action := range callback.IssueActions.RespondentActions {
		if action.CascadedLevel > level {
			level = action.CascadedLevel
		}
		action.CascadedLevel = level
		actions = append(actions, action)
	}

	merged.Issue.IssueActions = domain.IssueActions{
		ComplainantActions: primary.Issue.IssueActions.ComplainantActions,
		RespondentActions:  actions,
	}
	if callback.Resolution != nil {
		merged.Issue.Resolution = callback.Resolution
		merged.Issue.ResolutionProvider = callback.ResolutionProvider
	}
	if !callback.UpdatedAt.IsZero() {
		merged.Issue.UpdatedAt = callback.UpdatedAt.UTC()
	}
	return merged
}

// ForwardUpdate re-sends the narrowed issue to the counterparty after the
// complainant changed it, so escalations and closures reach the delegate too.
func (r *CascadeRouter) ForwardUpdate(ctx context.Context, record *domain.IssueRecord) error {
	_, err := r.Delegate(ctx, record)
	return err
}
