// Package analysis runs AI property analyses against the quota ledger:
// reserve a slot, call the model outside any lock, then persist or release.
package analysis

import (
	"context"
	"encoding/json"
	"time"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/metrics"
	"propiq-billing/internal/common/validation"
	"propiq-billing/internal/ledger"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"

	"github.com/google/uuid"
)

// Request is one analysis action.
type Request struct {
	UserID        string  `json:"userId,omitempty"`
	Address       string  `json:"address"`
	PropertyType  string  `json:"propertyType,omitempty"`
	PurchasePrice float64 `json:"purchasePrice,omitempty"`
	MonthlyRent   float64 `json:"monthlyRent,omitempty"`
	Bedrooms      int     `json:"bedrooms,omitempty"`
	Bathrooms     float64 `json:"bathrooms,omitempty"`
	SquareFeet    int     `json:"squareFeet,omitempty"`
	YearBuilt     int     `json:"yearBuilt,omitempty"`
}

// facts is what the model sees: the property without the caller's identity.
func (r *Request) facts() Request {
	f := *r
	f.UserID = ""
	return f
}

// Result is returned to the caller. Degraded results were not charged and
// are not stored.
type Result struct {
	Success           bool            `json:"success"`
	AnalysisID        string          `json:"analysisId,omitempty"`
	AnalysesRemaining int             `json:"analysesRemaining"`
	Analysis          json.RawMessage `json:"analysis"`
	Degraded          bool            `json:"degraded,omitempty"`
}

const requestSchema = `{
	"type": "object",
	"required": ["userId", "address"],
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"address": {"type": "string", "minLength": 3, "maxLength": 500},
		"propertyType": {"enum": ["single_family", "multi_family", "condo", "townhouse", "commercial", "land"]},
		"purchasePrice": {"type": "number", "minimum": 0},
		"monthlyRent": {"type": "number", "minimum": 0},
		"bedrooms": {"type": "integer", "minimum": 0, "maximum": 100},
		"bathrooms": {"type": "number", "minimum": 0, "maximum": 100},
		"squareFeet": {"type": "integer", "minimum": 0},
		"yearBuilt": {"type": "integer", "minimum": 1600, "maximum": 2200}
	}
}`

var schema = validation.MustCompile(requestSchema)

var unavailable = json.RawMessage(`{"status":"unavailable","message":"Analysis is temporarily unavailable. You were not charged for this request."}`)

// DecodeRequest validates and decodes a raw analysis request.
func DecodeRequest(body []byte) (*Request, error) {
	if err := schema.Validate(body); err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.NewPayloadInvalidError(err.Error())
	}
	return &req, nil
}

type Service struct {
	ledger   *ledger.Ledger
	store    store.Store
	analyzer Analyzer
	timeout  time.Duration
	logger   logger.Logger
	newID    func() string
}

// NewService wires the analysis flow. A nil analyzer makes every request fail
// with CONFIGURATION_ERROR before anything is reserved.
func NewService(l *ledger.Ledger, s store.Store, analyzer Analyzer, timeout time.Duration, log logger.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		ledger:   l,
		store:    s,
		analyzer: analyzer,
		timeout:  timeout,
		logger:   log.WithFields(map[string]interface{}{"component": "analysis"}),
		newID:    uuid.NewString,
	}
}

// Analyze charges one slot and returns the stored analysis. When the model
// fails the slot is released and a degraded result is returned instead of an
// error. When storing fails the slot is released and the error surfaces.
func (s *Service) Analyze(ctx context.Context, req *Request) (*Result, error) {
	if s.analyzer == nil {
		return nil, apperrors.NewConfigurationError("analysis model is not configured")
	}
	input, err := json.Marshal(req.facts())
	if err != nil {
		return nil, apperrors.NewPayloadInvalidError("property facts: " + err.Error())
	}

	res, err := s.ledger.ReserveAnalysisSlot(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	report, err := s.analyzer.Analyze(callCtx, req)
	cancel()
	if err != nil {
		metrics.AnalysisDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		s.logger.Warn("analysis call failed, returning degraded result", map[string]interface{}{
			"userId": req.UserID,
			"error":  err.Error(),
		})
		remaining := res.Remaining
		if s.release(ctx, req.UserID) {
			remaining++
		}
		return &Result{Success: false, AnalysesRemaining: remaining, Analysis: unavailable, Degraded: true}, nil
	}
	metrics.AnalysisDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	a := &models.PropertyAnalysis{
		ID:      s.newID(),
		UserID:  req.UserID,
		Address: req.Address,
		Input:   input,
		Result:  report.Content,
		Model:   report.Model,
	}
	if err := s.store.SaveAnalysis(ctx, a); err != nil {
		s.release(ctx, req.UserID)
		return nil, err
	}

	s.logger.Info("analysis completed", map[string]interface{}{
		"userId":     req.UserID,
		"analysisId": a.ID,
		"remaining":  res.Remaining,
	})
	return &Result{
		Success:           true,
		AnalysisID:        a.ID,
		AnalysesRemaining: res.Remaining,
		Analysis:          a.Result,
	}, nil
}

// History lists a user's stored analyses, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.PropertyAnalysis, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListAnalyses(ctx, userID, limit)
}

// release runs on a detached context so a canceled request still hands the
// slot back.
func (s *Service) release(ctx context.Context, userID string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.ledger.ReleaseAnalysisSlot(ctx, userID) == nil
}
