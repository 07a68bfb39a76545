package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/igm-service/internal/domain"
	apperrors "github.com/spec-kit/igm-service/pkg/util/errorutil"
)

const (
	principalKey      = "auth_principal"
	accessTokenHeader = "access-token"
)

// AuthMiddleware validates bearer tokens on the operator endpoints.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes. The seller
// application sends its token in access-token; Authorization is accepted too.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(accessTokenHeader)
	if authHeader == "" {
		authHeader = c.Get(fiber.HeaderAuthorization)
	}
	if authHeader == "" {
		return apperrors.NewUnauthorized("a token is required for authentication")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal := claims.Principal()
	c.Locals(principalKey, &principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated operator.
func PrincipalFromContext(c *fiber.Ctx) (*domain.Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*domain.Principal)
	return principal, ok
}
