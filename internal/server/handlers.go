package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/planforgelabs/planforged/internal/logging"
	"github.com/planforgelabs/planforged/internal/orchestrator"
	"github.com/planforgelabs/planforged/internal/payments"
	"github.com/planforgelabs/planforged/internal/plan"
)

// SubmitRequest is the request body for POST /api/v1/plans.
type SubmitRequest struct {
	UserID   string         `json:"user_id"`
	Tier     string         `json:"tier"`
	Intake   plan.Intake    `json:"intake"`
	Metadata datatypes.JSON `json:"metadata,omitempty"`
}

// VerifyPaymentRequest is the request body for POST /api/v1/plans/:id/verify-payment.
type VerifyPaymentRequest struct {
	SessionID string `json:"session_id"`
}

// CheckoutResponse is the response body for POST /api/v1/plans/:id/checkout.
type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// DocumentResponse is the response body for GET /api/v1/plans/:id/document.
type DocumentResponse struct {
	PlanID   string `json:"plan_id"`
	Document string `json:"document"`
}

// AcceptedResponse acknowledges a state-changing request whose effect is
// observed through the status endpoint.
type AcceptedResponse struct {
	PlanID string `json:"plan_id"`
	State  string `json:"state"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmit accepts a questionnaire submission and creates a draft plan.
func (s *Server) handleSubmit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid submit request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id must be a valid UUID")
	}
	c.SetRequest(c.Request().WithContext(logging.WithUserID(c.Request().Context(), userID)))
	tier := plan.Tier(req.Tier)
	if !tier.Known() {
		return echo.NewHTTPError(http.StatusBadRequest, "tier must be one of basic, premium, enterprise")
	}
	if req.Intake.BusinessName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intake.business_name is required")
	}

	p, err := s.plans.Submit(c.Request().Context(), &plan.SubmitRequest{
		UserID:   userID,
		Tier:     tier,
		Intake:   req.Intake,
		Metadata: req.Metadata,
	})
	if err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusCreated, p)
}

// handleGet returns the full plan record.
func (s *Server) handleGet(c echo.Context) error {
	id, err := s.planID(c)
	if err != nil {
		return err
	}

	p, err := s.plans.Get(c.Request().Context(), id)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// handleList returns all plans belonging to a user.
func (s *Server) handleList(c echo.Context) error {
	userID, err := uuid.Parse(c.QueryParam("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id query parameter must be a valid UUID")
	}

	plans, err := s.plans.List(c.Request().Context(), userID)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, plans)
}

// handleCheckout creates a payment session for a draft plan.
func (s *Server) handleCheckout(c echo.Context) error {
	id, err := s.planID(c)
	if err != nil {
		return err
	}

	session, err := s.plans.CreateCheckout(c.Request().Context(), id)
	if err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusCreated, CheckoutResponse{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	})
}

// handleVerifyPayment confirms payment with the processor and advances the
// plan to paid.
func (s *Server) handleVerifyPayment(c echo.Context) error {
	id, err := s.planID(c)
	if err != nil {
		return err
	}

	var req VerifyPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id field is required")
	}

	if err := s.plans.VerifyPayment(c.Request().Context(), id, req.SessionID); err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusOK, AcceptedResponse{
		PlanID: id.String(),
		State:  string(plan.StatePaid),
	})
}

// handleGenerate starts document generation for a paid plan. The work runs
// in the background; the response only acknowledges the start.
func (s *Server) handleGenerate(c echo.Context) error {
	id, err := s.planID(c)
	if err != nil {
		return err
	}

	if err := s.generator.Start(c.Request().Context(), id); err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusAccepted, AcceptedResponse{
		PlanID: id.String(),
		State:  string(plan.StateGenerating),
	})
}

// handleCancel aborts an in-flight generation run. The run settles
// asynchronously, so the response reports the plan's current state rather
// than presuming the terminal one.
func (s *Server) handleCancel(c echo.Context) error {
	id, err := s.planID(c)
	if err != nil {
		return err
	}

	if err := s.generator.Cancel(id); err != nil {
		return s.mapError(err)
	}

	status, err := s.plans.Status(c.Request().Context(), id)
	if err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusAccepted, AcceptedResponse{
		PlanID: id.String(),
		State:  string(status.State),
	})
}

// handleRetry resets a failed plan back to paid so generation can start
// again without a second payment.
func (s *Server) handleRetry(c echo.Context) error {
	id, err := s.planID(c)
	if err != nil {
		return err
	}

	if err := s.plans.Retry(c.Request().Context(), id); err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusOK, AcceptedResponse{
		PlanID: id.String(),
		State:  string(plan.StatePaid),
	})
}

// handleStatus is the polling endpoint: state, stage label, and progress.
func (s *Server) handleStatus(c echo.Context) error {
	id, err := s.planID(c)
	if err != nil {
		return err
	}

	status, err := s.plans.Status(c.Request().Context(), id)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, status)
}

// handleDocument returns the assembled document of a finished plan.
func (s *Server) handleDocument(c echo.Context) error {
	id, err := s.planID(c)
	if err != nil {
		return err
	}

	doc, err := s.plans.Document(c.Request().Context(), id)
	if err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusOK, DocumentResponse{
		PlanID:   id.String(),
		Document: doc,
	})
}

// planID parses the :id path parameter and tags the request context with
// it so downstream logs carry the plan id.
func (s *Server) planID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "plan id must be a valid UUID")
	}
	c.SetRequest(c.Request().WithContext(logging.WithPlanID(c.Request().Context(), id)))
	return id, nil
}

// mapError translates domain errors to HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, plan.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	case errors.Is(err, plan.ErrSessionMismatch):
		return echo.NewHTTPError(http.StatusForbidden, "payment session mismatch")
	case errors.Is(err, payments.ErrNotPaid):
		return echo.NewHTTPError(http.StatusPaymentRequired, "payment not completed")
	case errors.Is(err, plan.ErrNotReady):
		return echo.NewHTTPError(http.StatusConflict, "document not ready")
	case errors.Is(err, plan.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, "plan is not in a state that allows this operation")
	case errors.Is(err, orchestrator.ErrNotEligible):
		return echo.NewHTTPError(http.StatusConflict, "plan is not eligible for generation")
	case errors.Is(err, orchestrator.ErrNoActiveRun):
		return echo.NewHTTPError(http.StatusConflict, "no active generation run")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
