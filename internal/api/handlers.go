package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"propiq-billing/internal/account"
	"propiq-billing/internal/analysis"
	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/reconciler"
	"propiq-billing/internal/webhook"

	"github.com/gin-gonic/gin"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code      apperrors.ErrorCode    `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// respondError maps err onto its HTTP status. Details stay in the log.
func (s *Server) respondError(c *gin.Context, err error) {
	std := apperrors.AsStandard(err)
	status := apperrors.HTTPStatus(std.Code)
	fields := map[string]interface{}{
		"route":   c.FullPath(),
		"code":    string(std.Code),
		"details": std.Details,
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields)
	} else {
		s.logger.Info("request rejected", fields)
	}
	c.JSON(status, gin.H{"error": errorBody{
		Code:      std.Code,
		Message:   std.Message,
		Retryable: std.Retryable,
		Metadata:  std.Metadata,
	}})
}

func readBody(c *gin.Context, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		return nil, apperrors.NewPayloadInvalidError("read body: " + err.Error())
	}
	if int64(len(body)) > limit {
		return nil, apperrors.NewPayloadInvalidError("body exceeds " + strconv.FormatInt(limit, 10) + " bytes")
	}
	return body, nil
}

const maxRequestBytes = 1 << 16

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().UTC().Format(time.RFC3339)})
}

// stripeWebhook acknowledges duplicates with 200 so the provider stops
// redelivering. Unresolved users answer 503 so it tries again later.
func (s *Server) stripeWebhook(c *gin.Context) {
	body, err := readBody(c, webhook.MaxBodyBytes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	event, err := s.deps.Verifier.Verify(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.deps.Processor.Process(c.Request.Context(), event)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "eventId": res.EventID, "outcome": res.Outcome})
}

func (s *Server) signup(c *gin.Context) {
	body, err := readBody(c, maxRequestBytes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	req, err := account.DecodeSignup(body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	u, err := s.deps.Accounts.Signup(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) usage(c *gin.Context) {
	usage, err := s.deps.Ledger.Usage(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (s *Server) access(c *gin.Context) {
	d, err := s.deps.Reconciler.CheckAccess(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) listAnalyses(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		s.respondError(c, apperrors.NewPayloadInvalidError("limit must be between 1 and 100"))
		return
	}
	list, err := s.deps.Analysis.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": list})
}

func (s *Server) analyze(c *gin.Context) {
	body, err := readBody(c, maxRequestBytes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	req, err := analysis.DecodeRequest(body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.deps.Analysis.Analyze(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type reconcileRequest struct {
	UserID        string                    `json:"userId"`
	ProviderState *reconciler.ProviderState `json:"providerState,omitempty"`
}

func (s *Server) reconcile(c *gin.Context) {
	body, err := readBody(c, maxRequestBytes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req reconcileRequest
	if err := json.Unmarshal(body, &req); err != nil || req.UserID == "" {
		s.respondError(c, apperrors.NewPayloadInvalidError("body must be {userId, providerState?}"))
		return
	}
	u, err := s.deps.Reconciler.ReconcileUserSubscription(c.Request.Context(), req.UserID, req.ProviderState)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u.Subscription())
}

func (s *Server) reconcileStale(c *gin.Context) {
	var req struct {
		OlderThanMinutes int `json:"olderThanMinutes"`
	}
	body, err := readBody(c, maxRequestBytes)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil || req.OlderThanMinutes < 0 {
			s.respondError(c, apperrors.NewPayloadInvalidError("body must be {olderThanMinutes?}"))
			return
		}
	}
	report, err := s.deps.Reconciler.ReconcileStale(c.Request.Context(), time.Duration(req.OlderThanMinutes)*time.Minute)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
