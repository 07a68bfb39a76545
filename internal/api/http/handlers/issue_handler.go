package handlers

import (
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/igm-service/internal/api/dto"
	"github.com/spec-kit/igm-service/internal/auth"
	"github.com/spec-kit/igm-service/internal/domain"
	"github.com/spec-kit/igm-service/internal/service"
	apperrors "github.com/spec-kit/igm-service/pkg/util/errorutil"
)

// IssueHandler serves the protocol and operator issue endpoints.
type IssueHandler struct {
	service *service.IssueService
}

// NewIssueHandler constructs handler.
func NewIssueHandler(issueService *service.IssueService) *IssueHandler {
	return &IssueHandler{service: issueService}
}

// Issue POST /issue.
func (h *IssueHandler) Issue(c *fiber.Ctx) error {
	var req domain.IssueEnvelope
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := requireFields(map[string]string{
		"context.transaction_id": req.Context.TransactionID,
		"context.message_id":     req.Context.MessageID,
		"message.issue.id":       req.Message.Issue.ID,
	}); err != nil {
		return err
	}

	created, err := h.service.SubmitIssue(c.UserContext(), req)
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(dto.NewAckResponse())
}

// IssueResponse POST /issue_response.
func (h *IssueHandler) IssueResponse(c *fiber.Ctx) error {
	var req dto.IssueResponseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := requireFields(map[string]string{
		"transaction_id":    req.TransactionID,
		"respondent_action": string(req.RespondentAction),
	}); err != nil {
		return err
	}

	found, err := h.service.RespondToIssue(c.UserContext(), service.ProviderResponse{
		TransactionID:    req.TransactionID,
		RespondentAction: req.RespondentAction,
		ActionTriggered:  req.ActionTriggered,
		ShortDesc:        req.ShortDesc,
		LongDesc:         req.LongDesc,
		RefundAmount:     req.RefundAmount,
		Domain:           req.Domain,
		Contact:          req.UpdatedBy.Contact,
		Person:           req.UpdatedBy.Person,
	})
	if err != nil {
		return err
	}
	if !found {
		return c.JSON(dto.NoIssue())
	}
	return c.JSON(dto.NewAckResponse())
}

// IssueStatus POST /issue_status.
func (h *IssueHandler) IssueStatus(c *fiber.Ctx) error {
	var req domain.StatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := requireFields(map[string]string{"message.issue_id": req.Message.IssueID}); err != nil {
		return err
	}
	if err := h.service.GetIssueStatus(c.UserContext(), req.Message.IssueID, req.Context.MessageID); err != nil {
		return err
	}
	return c.JSON(dto.NewAckResponse())
}

// DelegateCallback POST /on_issue and POST /on_issue_status from the logistics counterparty.
func (h *IssueHandler) DelegateCallback(c *fiber.Ctx) error {
	var req domain.RespondentEnvelope
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := requireFields(map[string]string{"context.transaction_id": req.Context.TransactionID}); err != nil {
		return err
	}
	if err := h.service.HandleDelegateCallback(c.UserContext(), req); err != nil {
		return err
	}
	return c.JSON(dto.NewAckResponse())
}

// ListIssues GET /all-issue.
func (h *IssueHandler) ListIssues(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("operator required")
	}
	page := queryInt(c, "offset", 0)
	limit := queryInt(c, "limit", 10)

	records, total, err := h.service.ListIssues(c.UserContext(), *principal, page, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return c.JSON(dto.IssueListResponse{Success: true, Message: "There is no issue", Issues: records, Count: total})
	}
	return c.JSON(dto.IssueListResponse{Success: true, Issues: records, Count: total})
}

// GetIssue GET /getissue/:id.
func (h *IssueHandler) GetIssue(c *fiber.Ctx) error {
	record, err := h.service.GetIssue(c.UserContext(), c.Params("id"))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return c.JSON(dto.NoIssue())
		}
		return err
	}
	return c.JSON(dto.IssueDetailResponse{Success: true, Issue: record})
}

func requireFields(fields map[string]string) error {
	missing := []string{}
	for name, value := range fields {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperrors.NewValidationError("missing required fields", map[string]any{"fields": missing})
	}
	return nil
}

func queryInt(c *fiber.Ctx, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
