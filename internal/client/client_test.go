package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/observability"
)

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type peerServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newPeerServer(t *testing.T, status int, response string) *peerServer {
	t.Helper()
	ps := &peerServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ps.mu.Lock()
		ps.requests = append(ps.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		ps.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *peerServer) last(t *testing.T) recordedRequest {
	t.Helper()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.requests) == 0 {
		t.Fatalf("no request received")
	}
	return ps.requests[len(ps.requests)-1]
}

func (ps *peerServer) count() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.requests)
}

const ackBody = `{"message":{"ack":{"status":"ACK"}}}`

func TestGatewayOnIssueSignsAndAccepts(t *testing.T) {
	server := newPeerServer(t, http.StatusOK, ackBody)
	signer, public := newTestSigner(t)
	metrics := observability.NewMetrics()
	gateway := NewGatewayClient(server.URL+"/protocol/v1", time.Second, signer, metrics, zap.NewNop())

	envelope := domain.RespondentEnvelope{
		Context: domain.Context{TransactionID: "T1", MessageID: "M1"},
		Message: domain.RespondentMessage{Issue: domain.RespondentIssue{ID: "ISS-1"}},
	}
	if err := gateway.OnIssue(context.Background(), envelope); err != nil {
		t.Fatalf("on_issue: %v", err)
	}

	req := server.last(t)
	if req.Method != http.MethodPost || req.Path != "/protocol/v1/on_issue" {
		t.Fatalf("unexpected request %s %s", req.Method, req.Path)
	}
	if err := verifySignature(req.Header.Get("Authorization"), req.Body, public, time.Now()); err != nil {
		t.Fatalf("signature: %v", err)
	}
	var sent domain.RespondentEnvelope
	if err := json.Unmarshal(req.Body, &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.Context.Action != domain.ActionOnIssue {
		t.Fatalf("action = %s", sent.Context.Action)
	}
	if metrics.OutboundCount("gateway", domain.ActionOnIssue, "ack") != 1 {
		t.Fatalf("ack not counted")
	}
}

func TestGatewayNackSurfacesUpstreamBody(t *testing.T) {
	server := newPeerServer(t, http.StatusOK, `{"message":{"ack":{"status":"NACK"}},"error":{"code":"20002"}}`)
	gateway := NewGatewayClient(server.URL, time.Second, nil, nil, zap.NewNop())

	err := gateway.OnIssueStatus(context.Background(), domain.RespondentEnvelope{})
	nack, ok := IsNack(err)
	if !ok {
		t.Fatalf("expected NackError, got %v", err)
	}
	if nack.Peer != "gateway" || nack.Action != domain.ActionOnIssueStatus {
		t.Fatalf("unexpected nack %+v", nack)
	}
	upstream, ok := nack.Upstream().(map[string]any)
	if !ok || upstream["error"] == nil {
		t.Fatalf("upstream body not decoded: %v", nack.Upstream())
	}
	if server.last(t).Header.Get("Authorization") != "" {
		t.Fatalf("unsigned client must not send Authorization")
	}
}

func TestGatewayServerErrorIsNack(t *testing.T) {
	server := newPeerServer(t, http.StatusInternalServerError, ackBody)
	gateway := NewGatewayClient(server.URL, time.Second, nil, nil, zap.NewNop())
	if _, ok := IsNack(gateway.OnIssue(context.Background(), domain.RespondentEnvelope{})); !ok {
		t.Fatalf("a 5xx must not count as an acknowledgement")
	}
}

func TestUnreachablePeerIsNack(t *testing.T) {
	server := newPeerServer(t, http.StatusOK, ackBody)
	url := server.URL
	server.Close()

	logistics := NewLogisticsClient(url, time.Second, nil, nil, zap.NewNop())
	nack, ok := IsNack(logistics.Issue(context.Background(), domain.IssueEnvelope{}))
	if !ok || nack.Err == nil {
		t.Fatalf("expected transport failure as NackError, got %+v", nack)
	}
	if _, isString := nack.Upstream().(string); !isString {
		t.Fatalf("transport failure should surface as text")
	}
}

func TestLogisticsIssueStatusPath(t *testing.T) {
	server := newPeerServer(t, http.StatusOK, ackBody)
	logistics := NewLogisticsClient(server.URL+"/protocol/logistics/v1/", time.Second, nil, nil, zap.NewNop())
	err := logistics.IssueStatus(context.Background(), domain.StatusRequest{
		Message: domain.StatusRequestMessage{IssueID: "ISS-1"},
	})
	if err != nil {
		t.Fatalf("issue_status: %v", err)
	}
	req := server.last(t)
	if req.Path != "/protocol/logistics/v1/issue_status" {
		t.Fatalf("path = %s", req.Path)
	}
	var sent domain.StatusRequest
	_ = json.Unmarshal(req.Body, &sent)
	if sent.Context.Action != domain.ActionIssueStatus || sent.Message.IssueID != "ISS-1" {
		t.Fatalf("unexpected body %s", req.Body)
	}
}

func TestTicketClientMirrorsCreateAndUpdate(t *testing.T) {
	server := newPeerServer(t, http.StatusCreated, `{}`)
	tickets := NewTicketClient(server.URL, "secret", time.Second, nil, zap.NewNop())

	record := &domain.IssueRecord{
		Context: domain.Context{TransactionID: "T1", BapID: "buyer.example.com", BapURI: "https://buyer.example.com"},
		Issue: domain.Issue{
			ID:           "ISS-1",
			Description:  &domain.Description{ShortDesc: "short", LongDesc: "long", Images: []string{"http://img/1"}},
			OrderDetails: &domain.OrderDetails{Items: []domain.OrderItem{{ID: "I1", ProductName: "Atta"}}},
		},
	}
	if err := tickets.Create(context.Background(), record); err != nil {
		t.Fatalf("create: %v", err)
	}
	req := server.last(t)
	if req.Method != http.MethodPost || req.Path != "/create" || req.Header.Get("X-API-KEY") != "secret" {
		t.Fatalf("unexpected create request %s %s", req.Method, req.Path)
	}
	var created ticketCreateRequest
	_ = json.Unmarshal(req.Body, &created)
	if created.Alias != "T1" || created.Summary != "long" || created.Product != "Atta" || len(created.Attachments) != 1 {
		t.Fatalf("unexpected create payload %+v", created)
	}

	if err := tickets.Update(context.Background(), "T1", domain.IssueActions{}, true); err != nil {
		t.Fatalf("update: %v", err)
	}
	req = server.last(t)
	var updated ticketUpdateRequest
	_ = json.Unmarshal(req.Body, &updated)
	if req.Method != http.MethodPut || req.Path != "/updateBug/T1" || updated.Status != "RESOLVED" {
		t.Fatalf("unexpected update %s %s %+v", req.Method, req.Path, updated)
	}
}

func TestTicketClientWithoutURLIsNoop(t *testing.T) {
	tickets := NewTicketClient("", "", time.Second, nil, zap.NewNop())
	if err := tickets.Update(context.Background(), "T1", domain.IssueActions{}, false); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.data[key]
	return val, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func TestSellerProviderIsCached(t *testing.T) {
	server := newPeerServer(t, http.StatusOK, `{"providerDetail":{"_id":"P1","name":"Store","contactEmail":"a@b.c","contactMobile":"999"}}`)
	cache := &mapCache{data: map[string][]byte{}}
	seller := NewSellerClient(server.URL, time.Second, cache, time.Minute, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		provider, err := seller.Provider(context.Background(), "P1")
		if err != nil {
			t.Fatalf("provider: %v", err)
		}
		if provider.Name != "Store" || provider.ContactMobile != "999" {
			t.Fatalf("unexpected provider %+v", provider)
		}
	}
	if server.count() != 1 {
		t.Fatalf("expected one upstream call, got %d", server.count())
	}
	if server.last(t).Path != "/api/v1/organizations/P1/ondcGet" {
		t.Fatalf("path = %s", server.last(t).Path)
	}
}

func TestSellerProductNotFound(t *testing.T) {
	server := newPeerServer(t, http.StatusNotFound, `{"message":"missing"}`)
	seller := NewSellerClient(server.URL, time.Second, nil, 0, nil, zap.NewNop())
	if _, err := seller.Product(context.Background(), "I1"); err == nil {
		t.Fatalf("expected error for missing product")
	}
}
