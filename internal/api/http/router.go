package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/igm-service/internal/api/http/handlers"
	"github.com/spec-kit/igm-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Issues         *handlers.IssueHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/issue", cfg.Issues.Issue)
	app.Post("/issue_status", cfg.Issues.IssueStatus)
	app.Post("/on_issue", cfg.Issues.DelegateCallback)
	app.Post("/on_issue_status", cfg.Issues.DelegateCallback)

	requireAuth := cfg.AuthMiddleware.Handle
	app.Post("/issue_response", requireAuth, cfg.Issues.IssueResponse)
	app.Get("/all-issue", requireAuth, cfg.Issues.ListIssues)
	app.Get("/getissue/:id", requireAuth, cfg.Issues.GetIssue)
}
