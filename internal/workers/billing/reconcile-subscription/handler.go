// internal/workers/billing/reconcile-subscription/handler.go
package reconcilesubscription

import (
	"context"
	"encoding/json"
	"time"

	"propiq-billing/internal/common/camunda"
	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/metrics"
	"propiq-billing/internal/common/validation"
	"propiq-billing/internal/reconciler"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "billing-reconcile-subscription"

var schema = validation.MustCompile(inputSchema)

type Handler struct {
	config     *Config
	reconciler *reconciler.Reconciler
	errors     *apperrors.JobErrorHandler
	logger     logger.Logger
}

func NewHandler(config *Config, r *reconciler.Reconciler, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		reconciler: r,
		errors:     apperrors.NewJobErrorHandler(log),
		logger:     log,
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

	output, err := h.run(ctx, job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.AsStandard(err).Code)).Inc()
		h.errors.HandleJobError(ctx, client, job, err)
		return
	}

	camunda.CompleteJob(ctx, client, job, output, h.logger)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) run(ctx context.Context, job entities.Job) (*Output, error) {
	input, err := parseInput([]byte(job.Variables))
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, input)
}

func parseInput(variables []byte) (*Input, error) {
	if err := schema.Validate(variables); err != nil {
		return nil, err
	}
	var input Input
	if err := json.Unmarshal(variables, &input); err != nil {
		return nil, apperrors.NewPayloadInvalidError(err.Error())
	}
	return &input, nil
}

// Execute reconciles one user and reports the resulting subscription.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.UserID == "" {
		return nil, apperrors.NewPayloadInvalidError("userId is required")
	}
	u, err := h.reconciler.ReconcileUserSubscription(ctx, input.UserID, input.State)
	if err != nil {
		return nil, err
	}
	return &Output{
		UserID:                   u.ID,
		SubscriptionTier:         string(u.SubscriptionTier),
		SubscriptionStatus:       string(u.SubscriptionStatus),
		AnalysesLimit:            u.AnalysesLimit,
		LastVerifiedFromStripeAt: u.LastVerifiedFromStripeAt,
	}, nil
}
