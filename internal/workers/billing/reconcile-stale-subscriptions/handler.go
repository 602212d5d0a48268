// internal/workers/billing/reconcile-stale-subscriptions/handler.go
package reconcilestale

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

const TaskType = "billing-reconcile-stale-subscriptions"

// Sweeper is the slice of the reconciler this worker needs.
type Sweeper interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration) (*reconciler.StaleReport, error)
}

type Handler struct {
	config  *Config
	sweeper Sweeper
	errors  *apperrors.JobErrorHandler
	logger  logger.Logger
}

func NewHandler(config *Config, sweeper Sweeper, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		sweeper: sweeper,
		errors:  apperrors.NewJobErrorHandler(log),
		logger:  log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			h.fail(ctx, client, job, apperrors.NewPayloadInvalidError(err.Error()))
			return
		}
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

// Execute runs one sweep. Individual user failures are reported in Failed and
// do not fail the job.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.OlderThanMinutes < 0 {
		return nil, apperrors.NewPayloadInvalidError("olderThanMinutes must not be negative")
	}
	report, err := h.sweeper.ReconcileStale(ctx, time.Duration(input.OlderThanMinutes)*time.Minute)
	if err != nil {
		return nil, err
	}
	h.logger.Info("sweep complete", map[string]interface{}{
		"checked":    report.Checked,
		"reconciled": report.Reconciled,
		"failed":     report.Failed,
	})
	return &Output{Checked: report.Checked, Reconciled: report.Reconciled, Failed: report.Failed}, nil
}
