package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/observability"
)

// Outcome labels recorded per outbound call.
const (
	outcomeAck   = "ack"
	outcomeNack  = "nack"
	outcomeError = "error"
)

// NackError reports a peer that answered without a positive acknowledgement,
// or could not be reached at all (Err set, Body empty).
type NackError struct {
	Peer   string
	Action string
	Status int
	Body   json.RawMessage
	Err    error
}

func (e *NackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Peer, e.Action, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Peer, e.Action, e.Status, string(e.Body))
}

func (e *NackError) Unwrap() error {
	return e.Err
}

// Upstream returns what the peer said, decoded when it is JSON.
func (e *NackError) Upstream() any {
	if e.Err != nil {
		return e.Err.Error()
	}
	var decoded any
	if err := json.Unmarshal(e.Body, &decoded); err == nil {
		return decoded
	}
	return string(e.Body)
}

// IsNack reports whether err came from a peer refusing or failing a call.
func IsNack(err error) (*NackError, bool) {
	var nack *NackError
	if errors.As(err, &nack) {
		return nack, true
	}
	return nil, false
}

// peer is a protocol participant reached over HTTP.
type peer struct {
	name    string
	baseURL string
	timeout time.Duration
	signer  *Signer
	metrics *observability.Metrics
	logger  *zap.Logger
}

type request struct {
	method  string
	url     string
	body    []byte
	headers map[string]string
}

// postEnvelope signs and posts a protocol envelope, succeeding only on ACK.
func (p *peer) postEnvelope(ctx context.Context, path, action string, envelope any) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}
	headers := map[string]string{}
	if p.signer != nil {
		headers[fiber.HeaderAuthorization] = p.signer.Sign(body)
	}

	status, respBody, err := p.do(ctx, request{
		method:  fiber.MethodPost,
		url:     joinURL(p.baseURL, path),
		body:    body,
		headers: headers,
	})
	if err != nil {
		p.metrics.RecordOutbound(p.name, action, outcomeError)
		p.logger.Warn("peer unreachable", zap.String("peer", p.name), zap.String("action", action), zap.Error(err))
		return &NackError{Peer: p.name, Action: action, Err: err}
	}

	var ack domain.Ack
	if status >= fiber.StatusMultipleChoices || json.Unmarshal(respBody, &ack) != nil || !ack.Acknowledged() {
		p.metrics.RecordOutbound(p.name, action, outcomeNack)
		p.logger.Warn("peer did not acknowledge",
			zap.String("peer", p.name),
			zap.String("action", action),
			zap.Int("status", status),
			zap.ByteString("body", respBody))
		return &NackError{Peer: p.name, Action: action, Status: status, Body: respBody}
	}
	p.metrics.RecordOutbound(p.name, action, outcomeAck)
	return nil
}

// do performs one HTTP exchange through a pooled fiber agent.
func (p *peer) do(ctx context.Context, r request) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}

	agent := fiber.AcquireAgent()
	req := agent.Request()
	req.Header.SetMethod(r.method)
	req.SetRequestURI(r.url)
	if timeout > 0 {
		agent.Timeout(timeout)
	}
	if r.body != nil {
		agent.ContentType(fiber.MIMEApplicationJSON)
		agent.Body(r.body)
	}
	for key, value := range r.headers {
		agent.Set(key, value)
	}
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return 0, nil, err
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return status, body, errors.Join(errs...)
	}
	return status, body, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
