// internal/workers/billing/check-entitlement/handler.go
package checkentitlement

import (
	"context"
	"encoding/json"
	"time"

	"propiq-billing/internal/common/camunda"
	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/metrics"
	"propiq-billing/internal/reconciler"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "billing-check-entitlement"

// AccessChecker is the slice of the reconciler this worker needs.
type AccessChecker interface {
	CheckAccess(ctx context.Context, userID string) (*reconciler.AccessDecision, error)
}

type Handler struct {
	config  *Config
	checker AccessChecker
	errors  *apperrors.JobErrorHandler
	logger  logger.Logger
}

func NewHandler(config *Config, checker AccessChecker, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		checker: checker,
		errors:  apperrors.NewJobErrorHandler(log),
		logger:  log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewPayloadInvalidError(err.Error()))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	camunda.CompleteJob(ctx, client, job, output, h.logger)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.AsStandard(err).Code)).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

// Execute answers hasActiveAccess for one user. A denial is a normal output,
// not an error, so the workflow can branch on it.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.UserID == "" {
		return nil, apperrors.NewPayloadInvalidError("userId is required")
	}
	d, err := h.checker.CheckAccess(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	return &Output{
		HasActiveAccess: d.HasActiveAccess,
		Reason:          d.Reason,
		TierLevel:       string(d.Tier),
		Status:          string(d.Status),
		GraceEndsAt:     d.GraceEndsAt,
	}, nil
}
