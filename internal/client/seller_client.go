package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/observability"
)

// Cache stores seller lookups; *persistence.Redis satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SellerClient reads provider contacts and product names from the seller server.
type SellerClient struct {
	peer  peer
	cache Cache
	ttl   time.Duration
}

func NewSellerClient(baseURL string, timeout time.Duration, cache Cache, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) *SellerClient {
	return &SellerClient{
		peer: peer{
			name:    "seller",
			baseURL: baseURL,
			timeout: timeout,
			metrics: metrics,
			logger:  logger,
		},
		cache: cache,
		ttl:   ttl,
	}
}

type providerResponse struct {
	ProviderDetail domain.ProviderDetail `json:"providerDetail"`
}

// Provider returns the organization behind providerID.
func (c *SellerClient) Provider(ctx context.Context, providerID string) (*domain.ProviderDetail, error) {
	var resp providerResponse
	path := "/api/v1/organizations/" + url.PathEscape(providerID) + "/ondcGet"
	if err := c.fetch(ctx, "organization", "seller:org:"+providerID, path, &resp); err != nil {
		return nil, err
	}
	return &resp.ProviderDetail, nil
}

// Product returns the catalog entry for productID.
func (c *SellerClient) Product(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product
	path := "/api/v1/products/" + url.PathEscape(productID) + "/ondcGet"
	if err := c.fetch(ctx, "product", "seller:product:"+productID, path, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *SellerClient) fetch(ctx context.Context, action, key, path string, dest any) error {
	if c.peer.baseURL == "" {
		return fmt.Errorf("seller server not configured")
	}
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.peer.logger.Debug("seller cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok && json.Unmarshal(cached, dest) == nil {
			return nil
		}
	}

	status, body, err := c.peer.do(ctx, request{method: fiber.MethodGet, url: joinURL(c.peer.baseURL, path)})
	if err != nil {
		c.peer.metrics.RecordOutbound(c.peer.name, action, outcomeError)
		return fmt.Errorf("seller %s: %w", action, err)
	}
	if status != fiber.StatusOK {
		c.peer.metrics.RecordOutbound(c.peer.name, action, outcomeNack)
		return &NackError{Peer: c.peer.name, Action: action, Status: status, Body: body}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode seller %s: %w", action, err)
	}
	c.peer.metrics.RecordOutbound(c.peer.name, action, outcomeAck)

	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.Set(ctx, key, body, c.ttl); err != nil {
			c.peer.logger.Debug("seller cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}
