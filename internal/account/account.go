// Package account creates users on the default plan.
package account

import (
	"context"
	"encoding/json"
	"strings"

	"propiq-billing/internal/billing"
	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/validation"
	"propiq-billing/internal/models"
	"propiq-billing/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SignupRequest is the body of a signup call.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

var signupSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["email", "password"],
	"properties": {
		"email": {"type": "string", "format": "email", "maxLength": 254},
		"password": {"type": "string", "minLength": 8, "maxLength": 72}
	}
}`)

// DecodeSignup validates and decodes a raw signup body.
func DecodeSignup(body []byte) (*SignupRequest, error) {
	if err := signupSchema.Validate(body); err != nil {
		return nil, err
	}
	var req SignupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.NewPayloadInvalidError(err.Error())
	}
	return &req, nil
}

type Service struct {
	store      store.Store
	plans      *billing.Plans
	logger     logger.Logger
	bcryptCost int
}

func NewService(s store.Store, plans *billing.Plans, log logger.Logger) *Service {
	return &Service{
		store:      s,
		plans:      plans,
		logger:     log.WithFields(map[string]interface{}{"component": "account"}),
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Signup creates a user on the default plan with no usage. Emails are unique
// regardless of case.
func (s *Service) Signup(ctx context.Context, req *SignupRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewPayloadInvalidError(err.Error())
	}

	plan := s.plans.Default()
	u := &models.User{
		ID:               uuid.NewString(),
		Email:            strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:     string(hash),
		SubscriptionTier: plan.Tier,
		AnalysesUsed:     0,
		AnalysesLimit:    plan.AnalysesLimit,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", map[string]interface{}{
		"userId": u.ID,
		"tier":   string(u.SubscriptionTier),
	})
	return u, nil
}

// Authenticate checks a password against the stored hash.
func (s *Service) Authenticate(ctx context.Context, userID, password string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperrors.NewUnauthorizedError("password mismatch")
	}
	return u, nil
}
