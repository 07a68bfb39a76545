package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/config"
	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/events"
	"github.com/spec-kit/igm-service/internal/repository"
	"github.com/spec-kit/igm-service/internal/worker"
)

var testNetwork = config.NetworkConfig{
	SubscriberID:    "seller.example.com",
	SubscriberURI:   "https://seller.example.com/protocol",
	LogisticsDomain: "nic2004:60232",
	CoreVersion:     "1.0.0",
	ChatLink:        "http://chat-link/respondent",
}

type fakeGateway struct {
	mu       sync.Mutex
	onIssue  []domain.RespondentEnvelope
	onStatus []domain.RespondentEnvelope
	err      error
}

func (g *fakeGateway) OnIssue(_ context.Context, envelope domain.RespondentEnvelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.onIssue = append(g.onIssue, envelope)
	return nil
}

func (g *fakeGateway) OnIssueStatus(_ context.Context, envelope domain.RespondentEnvelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.onStatus = append(g.onStatus, envelope)
	return nil
}

type fakeLogistics struct {
	mu       sync.Mutex
	issues   []domain.IssueEnvelope
	statuses []domain.StatusRequest
	err      error
}

func (l *fakeLogistics) Issue(_ context.Context, envelope domain.IssueEnvelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.issues = append(l.issues, envelope)
	return nil
}

func (l *fakeLogistics) IssueStatus(_ context.Context, req domain.StatusRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.statuses = append(l.statuses, req)
	return nil
}

type ticketUpdate struct {
	transactionID string
	resolved      bool
}

type fakeTickets struct {
	mu      sync.Mutex
	created []string
	updates []ticketUpdate
}

func (t *fakeTickets) Create(_ context.Context, record *domain.IssueRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.created = append(t.created, record.TransactionID())
	return nil
}

func (t *fakeTickets) Update(_ context.Context, transactionID string, _ domain.IssueActions, resolved bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, ticketUpdate{transactionID: transactionID, resolved: resolved})
	return nil
}

type fakeDirectory struct {
	providers map[string]domain.ProviderDetail
	products  map[string]domain.Product
}

func (d *fakeDirectory) Provider(_ context.Context, id string) (*domain.ProviderDetail, error) {
	provider, ok := d.providers[id]
	if !ok {
		return nil, repositoryMiss()
	}
	return &provider, nil
}

func (d *fakeDirectory) Product(_ context.Context, id string) (*domain.Product, error) {
	product, ok := d.products[id]
	if !ok {
		return nil, repositoryMiss()
	}
	return &product, nil
}

func repositoryMiss() error {
	return errors.New("not in directory")
}

type armedDeadline struct {
	createdAt time.Time
	duration  string
	fn        worker.DeadlineFunc
}

type fakeScheduler struct {
	mu       sync.Mutex
	armed    map[string]armedDeadline
	canceled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: map[string]armedDeadline{}}
}

func (s *fakeScheduler) Arm(ref string, createdAt time.Time, duration string, fn worker.DeadlineFunc) (time.Time, error) {
	responseTime, err := worker.ParseResponseDuration(duration)
	if err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed[ref] = armedDeadline{createdAt: createdAt, duration: duration, fn: fn}
	return worker.FireTime(createdAt, responseTime), nil
}

func (s *fakeScheduler) Cancel(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, ref)
	_, ok := s.armed[ref]
	delete(s.armed, ref)
	return ok
}

type harness struct {
	service    *IssueService
	issues     *repository.MemoryIssueRepository
	selections *repository.MemorySelectedLogisticsRepository
	gateway    *fakeGateway
	logistics  *fakeLogistics
	tickets    *fakeTickets
	scheduler  *fakeScheduler
	events     []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		issues:     repository.NewMemoryIssueRepository(),
		selections: repository.NewMemorySelectedLogisticsRepository(),
		gateway:    &fakeGateway{},
		logistics:  &fakeLogistics{},
		tickets:    &fakeTickets{},
		scheduler:  newFakeScheduler(),
	}
	dispatcher := events.NewInMemoryDispatcher()
	events.SubscribeAll(dispatcher, func(_ context.Context, event events.Event) error {
		h.events = append(h.events, event)
		return nil
	})
	h.service = NewIssueService(IssueDependencies{
		Issues:    h.issues,
		Builder:   NewResolutionBuilder(testNetwork),
		Router:    NewCascadeRouter([]string{"FLM01", "FLM02"}, h.selections, h.logistics, testNetwork),
		Scheduler: h.scheduler,
		Gateway:   h.gateway,
		Tickets:   h.tickets,
		Directory: &fakeDirectory{
			providers: map[string]domain.ProviderDetail{"P1": {ID: "P1", Name: "Fresh Mart", ContactEmail: "ops@fresh.example", ContactMobile: "9999999999"}},
			products:  map[string]domain.Product{"I1": {ID: "I1", ProductName: "Atta 5kg"}},
		},
		Dispatcher:     dispatcher,
		Logger:         zap.NewNop(),
		SuperAdminRole: "Super Admin",
	})
	return h
}

func (h *harness) eventTypes() []events.EventType {
	types := make([]events.EventType, 0, len(h.events))
	for _, event := range h.events {
		types = append(types, event.Type)
	}
	return types
}

func (h *harness) stored(t *testing.T, transactionID string) *domain.IssueRecord {
	t.Helper()
	record, err := h.issues.GetByTransactionID(context.Background(), transactionID)
	if err != nil {
		t.Fatalf("load %s: %v", transactionID, err)
	}
	return record
}

var issueCreatedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newIssueEnvelope(transactionID, issueID, providerID, subCategory string) domain.IssueEnvelope {
	return domain.IssueEnvelope{
		Context: domain.Context{
			Domain:        "ONDC:RET10",
			Country:       "IND",
			City:          "std:080",
			Action:        domain.ActionIssue,
			CoreVersion:   "1.0.0",
			BapID:         "buyer.example.com",
			BapURI:        "https://buyer.example.com/protocol",
			TransactionID: transactionID,
			MessageID:     "M-" + transactionID,
			Timestamp:     issueCreatedAt,
			TTL:           "PT30S",
		},
		Message: domain.IssueMessage{Issue: domain.Issue{
			ID:          issueID,
			Category:    "FULFILLMENT",
			SubCategory: subCategory,
			ComplainantInfo: &domain.ComplainantInfo{
				Person:  domain.Person{Name: "Asha", Email: "asha@example.com"},
				Contact: domain.Contact{Phone: "8888888888"},
			},
			OrderDetails: &domain.OrderDetails{
				ID:         "O1",
				Items:      []domain.OrderItem{{ID: "I1", Quantity: 2}},
				ProviderID: providerID,
			},
			Description:          &domain.Description{ShortDesc: "Late delivery", LongDesc: "Order arrived two days late"},
			ExpectedResponseTime: &domain.Duration{Duration: "PT2H"},
			IssueType:            domain.IssueTypeIssue,
			IssueActions: domain.IssueActions{ComplainantActions: []domain.ComplainantAction{{
				ComplainantAction: domain.ComplainantActionOpen,
				ShortDesc:         "Complaint created",
				UpdatedAt:         issueCreatedAt,
			}}},
			CreatedAt: issueCreatedAt,
			UpdatedAt: issueCreatedAt,
		}},
	}
}

func withComplainantAction(envelope domain.IssueEnvelope, tag domain.ComplainantActionType, at time.Time) domain.IssueEnvelope {
	actions := append([]domain.ComplainantAction{}, envelope.Message.Issue.IssueActions.ComplainantActions...)
	envelope.Message.Issue.IssueActions.ComplainantActions = append(actions, domain.ComplainantAction{
		ComplainantAction: tag,
		UpdatedAt:         at,
	})
	envelope.Message.Issue.UpdatedAt = at
	return envelope
}

func selectLogistics(t *testing.T, h *harness, transactionID, providerID, logisticsTransactionID string) {
	t.Helper()
	err := h.selections.Create(context.Background(), &domain.SelectedLogistics{
		TransactionID: transactionID,
		ProviderID:    providerID,
		Selected: &domain.SelectedLogisticsPayload{Context: domain.Context{
			TransactionID: logisticsTransactionID,
			BppID:         "lsp.example.com",
			BppURI:        "https://lsp.example.com/protocol",
		}},
	})
	if err != nil {
		t.Fatalf("select logistics: %v", err)
	}
}
