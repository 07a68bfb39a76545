package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/client"
	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/events"
	"github.com/spec-kit/igm-service/internal/repository"
	"github.com/spec-kit/igm-service/internal/worker"
	apperrors "github.com/spec-kit/igm-service/pkg/util/errorutil"
)

const defaultPageSize = 10

// GatewayNotifier delivers respondent messages to the buyer side.
type GatewayNotifier interface {
	OnIssue(ctx context.Context, envelope domain.RespondentEnvelope) error
	OnIssueStatus(ctx context.Context, envelope domain.RespondentEnvelope) error
}

// TicketMirror keeps the triage ticket in step with the issue.
type TicketMirror interface {
	Create(ctx context.Context, record *domain.IssueRecord) error
	Update(ctx context.Context, transactionID string, actions domain.IssueActions, resolved bool) error
}

// ProviderDirectory looks up seller organizations and products.
type ProviderDirectory interface {
	Provider(ctx context.Context, providerID string) (*domain.ProviderDetail, error)
	Product(ctx context.Context, productID string) (*domain.Product, error)
}

// DeadlineScheduler arms and cancels the response deadline of an issue.
type DeadlineScheduler interface {
	Arm(ref string, createdAt time.Time, duration string, fn worker.DeadlineFunc) (time.Time, error)
	Cancel(ref string) bool
}

// IssueDependencies bundles collaborators of the issue service.
type IssueDependencies struct {
	Issues         repository.IssueRepository
	Builder        *ResolutionBuilder
	Router         *CascadeRouter
	Scheduler      DeadlineScheduler
	Gateway        GatewayNotifier
	Tickets        TicketMirror
	Directory      ProviderDirectory
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	SuperAdminRole string
}

// IssueService drives the issue lifecycle: creation, complainant updates,
// provider responses, status polls, deadlines and delegate callbacks.
type IssueService struct {
	issues         repository.IssueRepository
	builder        *ResolutionBuilder
	router         *CascadeRouter
	scheduler      DeadlineScheduler
	gateway        GatewayNotifier
	tickets        TicketMirror
	directory      ProviderDirectory
	dispatcher     events.Dispatcher
	logger         *zap.Logger
	superAdminRole string
	locks          *keyedLock
	now            func() time.Time
}

func NewIssueService(deps IssueDependencies) *IssueService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IssueService{
		issues:         deps.Issues,
		builder:        deps.Builder,
		router:         deps.Router,
		scheduler:      deps.Scheduler,
		gateway:        deps.Gateway,
		tickets:        deps.Tickets,
		directory:      deps.Directory,
		dispatcher:     deps.Dispatcher,
		logger:         logger,
		superAdminRole: deps.SuperAdminRole,
		locks:          newKeyedLock(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SubmitIssue creates the issue for a new transaction or applies a
// complainant update to an existing one. It reports whether a record was created.
func (s *IssueService) SubmitIssue(ctx context.Context, envelope domain.IssueEnvelope) (bool, error) {
	transactionID := envelope.Context.TransactionID
	unlock := s.locks.Lock(transactionID)
	defer unlock()

	record, err := s.issues.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return false, apperrors.MapError(err)
		}
		return true, s.createIssue(ctx, envelope)
	}
	return false, s.updateIssue(ctx, record, envelope.Message.Issue)
}

func (s *IssueService) createIssue(ctx context.Context, envelope domain.IssueEnvelope) error {
	now := s.now()
	record := &domain.IssueRecord{Context: envelope.Context, Issue: envelope.Message.Issue}
	record.Context.Timestamp = utcOr(record.Context.Timestamp, now)
	record.Issue.CreatedAt = utcOr(record.Issue.CreatedAt, now)
	record.Issue.UpdatedAt = utcOr(record.Issue.UpdatedAt, now)
	record.Issue.IssueActions.RespondentActions = []domain.RespondentAction{}
	record.Issue.Resolution = nil
	record.Issue.ResolutionProvider = nil
	if record.Issue.Status == "" {
		record.Issue.Status = domain.IssueStatusOpen
	}
	s.enrich(ctx, record)

	if err := s.issues.Create(ctx, record); err != nil {
		return apperrors.MapError(err)
	}
	logger := s.issueLogger(record)
	logger.Info("issue created", zap.String("sub_category", record.Issue.SubCategory))

	if s.router != nil && s.router.IsCascadeEligible(record.Issue.SubCategory) {
		s.cascade(ctx, record)
	}
	if !record.IsClosed() {
		s.armDeadline(record)
	}
	if err := s.tickets.Create(ctx, record); err != nil {
		logger.Warn("ticket mirror create failed", zap.Error(err))
	}

	s.publishEvent(ctx, record, events.EventIssueCreated, events.IssueCreatedPayload{
		Category:    record.Issue.Category,
		SubCategory: record.Issue.SubCategory,
		ProviderID:  record.ProviderID(),
		Status:      record.Issue.Status,
	})
	return nil
}

// enrich fills responder identity and product names from the provider
// directory. Lookups are best effort.
func (s *IssueService) enrich(ctx context.Context, record *domain.IssueRecord) {
	if s.directory == nil || record.Issue.OrderDetails == nil {
		return
	}
	logger := s.issueLogger(record)
	od := record.Issue.OrderDetails
	if od.ProviderID != "" {
		provider, err := s.directory.Provider(ctx, od.ProviderID)
		if err != nil {
			logger.Warn("provider lookup failed", zap.String("provider_id", od.ProviderID), zap.Error(err))
		} else {
			record.Responder = domain.UpdatedBy{
				Org:     domain.Named{Name: provider.Name},
				Contact: domain.Contact{Phone: provider.ContactMobile, Email: provider.ContactEmail},
				Person:  domain.Named{Name: provider.Name},
			}
			if od.ProviderName == "" {
				od.ProviderName = provider.Name
			}
		}
	}
	for i := range od.Items {
		item := &od.Items[i]
		if item.ProductName != "" {
			continue
		}
		product, err := s.directory.Product(ctx, item.ID)
		if err != nil {
			logger.Warn("product lookup failed", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		item.ProductName = product.ProductName
	}
}

// cascade delegates a new issue and records the CASCADED action on success.
func (s *IssueService) cascade(ctx context.Context, record *domain.IssueRecord) {
	logger := s.issueLogger(record)
	logisticsTransactionID, err := s.router.Delegate(ctx, record)
	if err != nil {
		logger.Warn("cascade to logistics failed", zap.Error(err))
		return
	}
	action := s.router.CascadedAction(record)
	actions := appendAction(record.Issue.IssueActions.RespondentActions, action)
	if err := s.issues.UpdateCascade(ctx, record.TransactionID(), logisticsTransactionID, actions); err != nil {
		logger.Error("persist cascade failed", zap.Error(err))
		return
	}
	record.Issue.IssueActions.RespondentActions = actions
	record.LogisticsTransactionID = logisticsTransactionID
	logger.Info("issue cascaded", zap.String("logistics_transaction_id", logisticsTransactionID))
	s.publishEvent(ctx, record, events.EventIssueCascaded, events.IssueCascadedPayload{
		LogisticsTransactionID: logisticsTransactionID,
		CascadedLevel:          action.CascadedLevel,
	})
}

func (s *IssueService) armDeadline(record *domain.IssueRecord) {
	if s.scheduler == nil || record.Issue.ExpectedResponseTime == nil {
		return
	}
	transactionID := record.TransactionID()
	at, err := s.scheduler.Arm(transactionID, record.Issue.CreatedAt, record.Issue.ExpectedResponseTime.Duration,
		func(ctx context.Context) { s.HandleDeadline(ctx, transactionID) })
	if err != nil {
		s.issueLogger(record).Warn("deadline not armed", zap.Error(err))
		return
	}
	s.issueLogger(record).Info("deadline armed", zap.Time("fire_at", at))
}

func (s *IssueService) updateIssue(ctx context.Context, record *domain.IssueRecord, incoming domain.Issue) error {
	logger := s.issueLogger(record)
	stored := record.Issue.IssueActions
	closing := incoming.Status == domain.IssueStatusClosed ||
		domain.IssueActions{ComplainantActions: incoming.IssueActions.ComplainantActions}.HasComplainantAction(domain.ComplainantActionClosed)

	if !record.IsClosed() && !closing {
		for _, action := range incoming.IssueActions.ComplainantActions {
			if action.ComplainantAction != domain.ComplainantActionEscalate || containsComplainantAction(stored.ComplainantActions, action) {
				continue
			}
			escalated, err := s.escalate(ctx, record, incoming)
			if err != nil {
				return err
			}
			if escalated {
				return nil
			}
			break
		}
	}

	complainantActions := mergeComplainantActions(stored.ComplainantActions, incoming.IssueActions.ComplainantActions)
	if err := s.tickets.Update(ctx, record.TransactionID(), domain.IssueActions{
		ComplainantActions: complainantActions,
		RespondentActions:  stored.RespondentActions,
	}, closing || record.IsClosed()); err != nil {
		logger.Warn("ticket mirror update failed", zap.Error(err))
	}

	state := repository.ComplainantState{
		IssueType:          pick(incoming.IssueType, record.Issue.IssueType),
		Status:             complainantStatus(record, incoming, closing),
		Rating:             pick(incoming.Rating, record.Issue.Rating),
		ComplainantActions: complainantActions,
		UpdatedAt:          s.now(),
	}
	if err := s.issues.UpdateComplainantState(ctx, record.TransactionID(), state); err != nil {
		return apperrors.MapError(err)
	}
	wasClosed := record.IsClosed()
	record.Issue.IssueType = state.IssueType
	record.Issue.Status = state.Status
	record.Issue.Rating = state.Rating
	record.Issue.IssueActions.ComplainantActions = complainantActions
	record.Issue.UpdatedAt = state.UpdatedAt
	logger.Info("issue updated", zap.String("status", string(state.Status)))

	s.forwardToDelegate(ctx, record)

	s.publishEvent(ctx, record, events.EventIssueUpdated, events.IssueUpdatedPayload{
		Status:    state.Status,
		IssueType: state.IssueType,
		Rating:    state.Rating,
	})
	if record.IsClosed() && !wasClosed {
		s.publishEvent(ctx, record, events.EventIssueClosed, events.IssueUpdatedPayload{
			Status:    state.Status,
			IssueType: state.IssueType,
			Rating:    state.Rating,
		})
	}
	return nil
}

// complainantStatus keeps a stored CLOSED status and otherwise takes the
// incoming one, with a CLOSED action counting as a close.
func complainantStatus(record *domain.IssueRecord, incoming domain.Issue, closing bool) domain.IssueStatus {
	switch {
	case record.IsClosed(), closing:
		return domain.IssueStatusClosed
	default:
		return pick(incoming.Status, record.Issue.Status)
	}
}

// forwardToDelegate re-sends complainant changes to the logistics counterparty
// of a cascaded issue.
func (s *IssueService) forwardToDelegate(ctx context.Context, record *domain.IssueRecord) {
	if !record.IsCascaded() || s.router == nil {
		return
	}
	if err := s.router.ForwardUpdate(ctx, record); err != nil {
		s.issueLogger(record).Warn("forwarding update to logistics failed", zap.Error(err))
	}
}

// escalate answers a new complainant escalation with PROCESSING. It reports
// false when the gateway refused, leaving the caller to apply a plain update.
func (s *IssueService) escalate(ctx context.Context, record *domain.IssueRecord, incoming domain.Issue) (bool, error) {
	logger := s.issueLogger(record)
	ack := s.builder.EscalationAck(record)
	if err := s.gateway.OnIssue(ctx, ack.Envelope()); err != nil {
		logger.Warn("escalation not acknowledged", zap.Error(err))
		return false, nil
	}

	actions := domain.IssueActions{
		ComplainantActions: mergeComplainantActions(record.Issue.IssueActions.ComplainantActions, incoming.IssueActions.ComplainantActions),
		RespondentActions:  ack.RespondentActions,
	}
	if err := s.issues.UpdateActions(ctx, record.TransactionID(), actions, s.now()); err != nil {
		return false, apperrors.MapError(err)
	}
	record.Issue.IssueActions = actions
	logger.Info("issue escalated")
	s.forwardToDelegate(ctx, record)

	if err := s.tickets.Update(ctx, record.TransactionID(), actions, false); err != nil {
		logger.Warn("ticket mirror update failed", zap.Error(err))
	}
	last := ack.RespondentActions[len(ack.RespondentActions)-1]
	s.publishEvent(ctx, record, events.EventIssueEscalated, events.RespondentActionPayload{
		Action:        last.RespondentAction,
		CascadedLevel: last.CascadedLevel,
	})
	return true, nil
}

// RespondToIssue sends a provider response to the gateway and stores it once
// acknowledged. It reports false when no issue exists for the transaction.
func (s *IssueService) RespondToIssue(ctx context.Context, resp ProviderResponse) (bool, error) {
	unlock := s.locks.Lock(resp.TransactionID)
	defer unlock()

	record, err := s.issues.GetByTransactionID(ctx, resp.TransactionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return false, apperrors.MapError(err)
	}
	logger := s.issueLogger(record)

	payload, err := s.builder.Build(record, resp)
	if err != nil {
		return true, err
	}
	if len(record.Issue.IssueActions.RespondentActions) == 0 {
		err = s.gateway.OnIssue(ctx, payload.Envelope())
	} else {
		err = s.gateway.OnIssueStatus(ctx, payload.Envelope())
	}
	if err != nil {
		return true, upstreamError("gateway", err)
	}

	outcome := repository.RespondentOutcome{RespondentActions: payload.Actions(), UpdatedAt: s.now()}
	var triggered domain.ResolutionAction
	if resolved, ok := payload.(ResolvedPayload); ok {
		resolution, provider := resolved.Resolution, resolved.ResolutionProvider
		outcome.Resolution = &resolution
		outcome.ResolutionProvider = &provider
		triggered = resolution.ActionTriggered
	}
	if err := s.issues.UpdateRespondentOutcome(ctx, record.TransactionID(), outcome); err != nil {
		return true, apperrors.MapError(err)
	}
	record.Issue.IssueActions.RespondentActions = outcome.RespondentActions
	if outcome.Resolution != nil {
		record.Issue.Resolution = outcome.Resolution
		record.Issue.ResolutionProvider = outcome.ResolutionProvider
	}
	if s.scheduler != nil && s.scheduler.Cancel(record.TransactionID()) {
		logger.Info("deadline canceled by provider response")
	}

	last := outcome.RespondentActions[len(outcome.RespondentActions)-1]
	logger.Info("provider response recorded", zap.String("respondent_action", string(last.RespondentAction)))
	resolvedNow := last.RespondentAction == domain.RespondentActionResolved
	if err := s.tickets.Update(ctx, record.TransactionID(), record.Issue.IssueActions, resolvedNow); err != nil {
		logger.Warn("ticket mirror update failed", zap.Error(err))
	}
	s.publishEvent(ctx, record, events.EventIssueResponded, events.RespondentActionPayload{
		Action:          last.RespondentAction,
		CascadedLevel:   last.CascadedLevel,
		ActionTriggered: triggered,
	})

	if resp.RespondentAction == domain.RespondentActionCascaded && s.router != nil {
		s.delegateResponse(ctx, record, last.CascadedLevel)
	}
	return true, nil
}

// delegateResponse hands an issue the provider cascaded to the logistics counterparty.
func (s *IssueService) delegateResponse(ctx context.Context, record *domain.IssueRecord, level int) {
	logger := s.issueLogger(record)
	logisticsTransactionID, err := s.router.Delegate(ctx, record)
	if err != nil {
		logger.Warn("cascade to logistics failed", zap.Error(err))
		return
	}
	if err := s.issues.UpdateCascade(ctx, record.TransactionID(), logisticsTransactionID, record.Issue.IssueActions.RespondentActions); err != nil {
		logger.Error("persist cascade failed", zap.Error(err))
		return
	}
	record.LogisticsTransactionID = logisticsTransactionID
	s.publishEvent(ctx, record, events.EventIssueCascaded, events.IssueCascadedPayload{
		LogisticsTransactionID: logisticsTransactionID,
		CascadedLevel:          level,
	})
}

// GetIssueStatus answers a status poll: a cascaded issue is polled at the
// counterparty, anything else is answered from the stored record.
func (s *IssueService) GetIssueStatus(ctx context.Context, issueID, messageID string) error {
	record, err := s.issues.GetByIssueID(ctx, issueID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewNotFound("issue", map[string]any{"issue_id": issueID})
		}
		return apperrors.MapError(err)
	}
	unlock := s.locks.Lock(record.TransactionID())
	defer unlock()
	logger := s.issueLogger(record)

	if record.IsCascaded() && s.router != nil {
		if messageID != "" {
			if err := s.issues.UpdateMessageID(ctx, issueID, messageID); err != nil {
				return apperrors.MapError(err)
			}
		}
		if err := s.router.StatusPoll(ctx, record, messageID); err != nil {
			logger.Warn("status poll to logistics failed", zap.Error(err))
		}
		return nil
	}

	reply := s.builder.StatusReply(record, messageID)
	if err := s.gateway.OnIssueStatus(ctx, reply.Envelope()); err != nil {
		logger.Warn("status reply not acknowledged", zap.Error(err))
	}
	return nil
}

// HandleDeadline sends the synthetic PROCESSING answer for an issue nobody
// responded to in time.
func (s *IssueService) HandleDeadline(ctx context.Context, transactionID string) {
	unlock := s.locks.Lock(transactionID)
	defer unlock()

	record, err := s.issues.GetByTransactionID(ctx, transactionID)
	if err != nil {
		s.logger.Warn("deadline for unknown issue", zap.String("transaction_id", transactionID), zap.Error(err))
		return
	}
	logger := s.issueLogger(record)
	if record.IsClosed() || len(record.Issue.IssueActions.RespondentActions) > 0 {
		logger.Info("deadline skipped", zap.String("status", string(record.Issue.Status)))
		return
	}

	ack := s.builder.DeadlineAck(record)
	actions := domain.IssueActions{
		ComplainantActions: record.Issue.IssueActions.ComplainantActions,
		RespondentActions:  ack.RespondentActions,
	}
	if err := s.issues.UpdateActions(ctx, transactionID, actions, s.now()); err != nil {
		logger.Error("persist deadline action failed", zap.Error(err))
		return
	}
	record.Issue.IssueActions = actions
	if err := s.gateway.OnIssueStatus(ctx, ack.Envelope()); err != nil {
		logger.Warn("deadline notification not acknowledged", zap.Error(err))
	}
	s.publishEvent(ctx, record, events.EventIssueDeadlineReached, events.RespondentActionPayload{
		Action:        domain.RespondentActionProcessing,
		CascadedLevel: domain.PrimaryCascadeLevel,
	})
}

// HandleDelegateCallback merges an on_issue or on_issue_status from the
// logistics counterparty and relays the result to the gateway.
func (s *IssueService) HandleDelegateCallback(ctx context.Context, envelope domain.RespondentEnvelope) error {
	logisticsTransactionID := envelope.Context.TransactionID
	record, err := s.issues.GetByLogisticsTransactionID(ctx, logisticsTransactionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewNotFound("issue", map[string]any{"logistics_transaction_id": logisticsTransactionID})
		}
		return apperrors.MapError(err)
	}
	unlock := s.locks.Lock(record.TransactionID())
	defer unlock()

	// the record may have moved while waiting for the lock
	record, err = s.issues.GetByTransactionID(ctx, record.TransactionID())
	if err != nil {
		return apperrors.MapError(err)
	}
	logger := s.issueLogger(record).With(zap.String("logistics_transaction_id", logisticsTransactionID))

	merged := MergeCallback(*record, envelope.Message.Issue)
	if err := s.issues.Replace(ctx, &merged); err != nil {
		return apperrors.MapError(err)
	}
	logger.Info("delegate callback merged",
		zap.String("action", envelope.Context.Action),
		zap.Int("respondent_actions", len(merged.Issue.IssueActions.RespondentActions)))

	messageID := ""
	if envelope.Context.Action == domain.ActionOnIssueStatus {
		messageID = record.Context.MessageID
	}
	reply := s.builder.StatusReply(&merged, messageID)
	if err := s.gateway.OnIssueStatus(ctx, reply.Envelope()); err != nil {
		logger.Warn("relaying delegate update failed", zap.Error(err))
	}
	s.publishEvent(ctx, &merged, events.EventIssueDelegateUpdated, events.IssueCascadedPayload{
		LogisticsTransactionID: logisticsTransactionID,
		CascadedLevel:          merged.Issue.IssueActions.CurrentCascadeLevel(),
	})
	return nil
}

// ListIssues returns one page of the issues visible to principal, newest
// first. Super admins see every issue; other callers only their organization's.
// page counts from zero.
func (s *IssueService) ListIssues(ctx context.Context, principal domain.Principal, page, limit int) ([]domain.IssueRecord, int, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if page < 0 {
		page = 0
	}
	filter := repository.IssueFilter{Limit: limit, Offset: page * limit}
	if s.superAdminRole == "" || principal.RoleName != s.superAdminRole {
		if principal.OrganizationID == "" {
			return []domain.IssueRecord{}, 0, nil
		}
		organizationID := principal.OrganizationID
		filter.ProviderID = &organizationID
	}
	records, total, err := s.issues.List(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.MapError(err)
	}
	if records == nil {
		records = []domain.IssueRecord{}
	}
	return records, total, nil
}

// GetIssue returns one issue by its issue id.
func (s *IssueService) GetIssue(ctx context.Context, issueID string) (*domain.IssueRecord, error) {
	record, err := s.issues.GetByIssueID(ctx, issueID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("issue", map[string]any{"issue_id": issueID})
		}
		return nil, apperrors.MapError(err)
	}
	return record, nil
}

func (s *IssueService) publishEvent(ctx context.Context, record *domain.IssueRecord, eventType events.EventType, payload any) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		TransactionID: record.TransactionID(),
		IssueID:       record.Issue.ID,
		Timestamp:     s.now(),
		Payload:       payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.issueLogger(record).Warn("event publish failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}

func (s *IssueService) issueLogger(record *domain.IssueRecord) *zap.Logger {
	return s.logger.With(
		zap.String("transaction_id", record.TransactionID()),
		zap.String("issue_id", record.Issue.ID),
	)
}

func upstreamError(peer string, err error) error {
	if nack, ok := client.IsNack(err); ok {
		return apperrors.NewUpstreamNack(nack.Peer, nack.Upstream())
	}
	return apperrors.NewUpstreamNack(peer, err.Error())
}

// mergeComplainantActions appends incoming entries the stored log lacks.
func mergeComplainantActions(stored, incoming []domain.ComplainantAction) []domain.ComplainantAction {
	merged := make([]domain.ComplainantAction, 0, len(stored)+len(incoming))
	merged = append(merged, stored...)
	for _, action := range incoming {
		if !containsComplainantAction(merged, action) {
			merged = append(merged, action)
		}
	}
	return merged
}

// containsComplainantAction matches entries by tag and timestamp.
func containsComplainantAction(log []domain.ComplainantAction, action domain.ComplainantAction) bool {
	for _, existing := range log {
		if existing.ComplainantAction == action.ComplainantAction && existing.UpdatedAt.Equal(action.UpdatedAt) {
			return true
		}
	}
	return false
}

func pick[T comparable](incoming, stored T) T {
	var zero T
	if incoming == zero {
		return stored
	}
	return incoming
}

func utcOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.UTC()
}
