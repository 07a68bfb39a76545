package service

import (
	"testing"
	"time"

	"github.com/spec-kit/igm-service/internal/domain"
	apperrors "github.com/spec-kit/igm-service/pkg/util/errorutil"
)

var builderNow = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

func newTestBuilder() *ResolutionBuilder {
	b := NewResolutionBuilder(testNetwork)
	b.now = func() time.Time { return builderNow }
	b.newID = func() string { return "generated-id" }
	return b
}

func storedRecord() *domain.IssueRecord {
	envelope := newIssueEnvelope("T1", "ISS-1", "P1", "FLM04")
	record := &domain.IssueRecord{Context: envelope.Context, Issue: envelope.Message.Issue}
	record.Issue.IssueActions.RespondentActions = []domain.RespondentAction{}
	return record
}

func TestBuildRefundResolvesWithAmount(t *testing.T) {
	payload, err := newTestBuilder().Build(storedRecord(), ProviderResponse{
		TransactionID:    "T1",
		RespondentAction: domain.RespondentActionResolved,
		ActionTriggered:  domain.ResolutionRefund,
		ShortDesc:        "Refunded",
		RefundAmount:     "120.00",
		Contact:          domain.Contact{Phone: "9999999999"},
		Person:           domain.Named{Name: "Ravi"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	resolved, ok := payload.(ResolvedPayload)
	if !ok {
		t.Fatalf("expected ResolvedPayload, got %T", payload)
	}
	if resolved.Resolution.ActionTriggered != domain.ResolutionRefund || resolved.Resolution.RefundAmount != "120.00" {
		t.Fatalf("unexpected resolution %+v", resolved.Resolution)
	}
	actions := resolved.Actions()
	if len(actions) != 1 || actions[0].RespondentAction != domain.RespondentActionResolved || actions[0].CascadedLevel != 1 {
		t.Fatalf("unexpected actions %+v", actions)
	}
	if actions[0].UpdatedBy.Org.Name != "seller.example.com::ONDC:RET10" {
		t.Fatalf("responder org = %q", actions[0].UpdatedBy.Org.Name)
	}
	gros := resolved.ResolutionProvider.RespondentInfo.ResolutionSupport.Gros
	if len(gros) != 1 || gros[0].Person.Name != "Ravi" || gros[0].GroType != groTypeCounterparty {
		t.Fatalf("unexpected gros %+v", gros)
	}

	envelope := resolved.Envelope()
	if envelope.Message.Issue.Resolution == nil || envelope.Message.Issue.ResolutionProvider == nil {
		t.Fatalf("resolved envelope must carry a resolution")
	}
	if envelope.Context.BppID != testNetwork.SubscriberID || envelope.Context.MessageID != "generated-id" {
		t.Fatalf("unexpected context %+v", envelope.Context)
	}
}

func TestBuildProcessingHasNoResolution(t *testing.T) {
	record := storedRecord()
	payload, err := newTestBuilder().Build(record, ProviderResponse{
		TransactionID:    "T1",
		RespondentAction: domain.RespondentActionProcessing,
		ShortDesc:        "Looking into it",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ack, ok := payload.(AckPayload)
	if !ok {
		t.Fatalf("expected AckPayload, got %T", payload)
	}
	envelope := ack.Envelope()
	if envelope.Message.Issue.Resolution != nil {
		t.Fatalf("processing must not carry a resolution")
	}
	if envelope.Context.MessageID != record.Context.MessageID {
		t.Fatalf("processing reply should reuse message id, got %s", envelope.Context.MessageID)
	}
	if len(record.Issue.IssueActions.RespondentActions) != 0 {
		t.Fatalf("build must not mutate the stored log")
	}
}

func TestBuildDefaultsActionTriggered(t *testing.T) {
	payload, err := newTestBuilder().Build(storedRecord(), ProviderResponse{
		TransactionID:    "T1",
		RespondentAction: domain.RespondentActionResolved,
		ShortDesc:        "Delivered",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	resolved := payload.(ResolvedPayload)
	if resolved.Resolution.ActionTriggered != domain.ResolutionResolved {
		t.Fatalf("action_triggered = %s", resolved.Resolution.ActionTriggered)
	}
}

func TestBuildCascadedRaisesLevel(t *testing.T) {
	record := storedRecord()
	record.Issue.IssueActions.RespondentActions = []domain.RespondentAction{{
		RespondentAction: domain.RespondentActionProcessing,
		CascadedLevel:    1,
	}}
	payload, err := newTestBuilder().Build(record, ProviderResponse{
		TransactionID:    "T1",
		RespondentAction: domain.RespondentActionCascaded,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	actions := payload.Actions()
	if len(actions) != 2 || actions[1].CascadedLevel != 2 {
		t.Fatalf("unexpected actions %+v", actions)
	}
}

func TestBuildRejectsInvalidResponses(t *testing.T) {
	cases := map[string]ProviderResponse{
		"unknown action":        {TransactionID: "T1", RespondentAction: "ESCALATED"},
		"refund without amount": {TransactionID: "T1", RespondentAction: domain.RespondentActionResolved, ActionTriggered: domain.ResolutionRefund},
	}
	for name, resp := range cases {
		_, err := newTestBuilder().Build(storedRecord(), resp)
		domainErr := apperrors.ToDomainError(err)
		if domainErr == nil || domainErr.Code != "VALIDATION_FAILED" {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestEscalationAckMarksGrievance(t *testing.T) {
	ack := newTestBuilder().EscalationAck(storedRecord())
	if ack.IssueType != domain.IssueTypeGrievance {
		t.Fatalf("issue type = %s", ack.IssueType)
	}
	actions := ack.Actions()
	if len(actions) != 1 || actions[0].RespondentAction != domain.RespondentActionProcessing || actions[0].CascadedLevel != 1 {
		t.Fatalf("unexpected actions %+v", actions)
	}
	if actions[0].UpdatedBy.Org.Name != testNetwork.SubscriberURI+"::ONDC:RET10" {
		t.Fatalf("fallback responder = %q", actions[0].UpdatedBy.Org.Name)
	}
}

func TestStatusReplyReflectsStoredResolution(t *testing.T) {
	record := storedRecord()
	if _, ok := newTestBuilder().StatusReply(record, "poll-1").(AckPayload); !ok {
		t.Fatalf("unresolved record should reply with an ack payload")
	}
	record.Issue.Resolution = &domain.Resolution{ActionTriggered: domain.ResolutionReplacement}
	reply := newTestBuilder().StatusReply(record, "poll-1")
	resolved, ok := reply.(ResolvedPayload)
	if !ok {
		t.Fatalf("resolved record should reply with a resolved payload")
	}
	if resolved.Context.MessageID != "poll-1" {
		t.Fatalf("message id = %s", resolved.Context.MessageID)
	}
}
