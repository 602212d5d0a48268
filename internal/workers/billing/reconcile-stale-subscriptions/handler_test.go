// internal/workers/billing/reconcile-stale-subscriptions/handler_test.go
package reconcilestale

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "propiq-billing/internal/common/errors"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/reconciler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	olderThan time.Duration
	report    *reconciler.StaleReport
	err       error
}

func (f *fakeSweeper) ReconcileStale(_ context.Context, olderThan time.Duration) (*reconciler.StaleReport, error) {
	f.olderThan = olderThan
	return f.report, f.err
}

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name          string
		input         *Input
		sweeper       *fakeSweeper
		wantOlderThan time.Duration
		wantOutput    *Output
		wantErr       *apperrors.StandardError
	}{
		{
			name:          "default window",
			input:         &Input{},
			sweeper:       &fakeSweeper{report: &reconciler.StaleReport{Checked: 3, Reconciled: 2, Failed: 1}},
			wantOlderThan: 0,
			wantOutput:    &Output{Checked: 3, Reconciled: 2, Failed: 1},
		},
		{
			name:          "explicit window",
			input:         &Input{OlderThanMinutes: 30},
			sweeper:       &fakeSweeper{report: &reconciler.StaleReport{}},
			wantOlderThan: 30 * time.Minute,
			wantOutput:    &Output{},
		},
		{
			name:    "negative window",
			input:   &Input{OlderThanMinutes: -1},
			sweeper: &fakeSweeper{},
			wantErr: apperrors.ErrPayloadInvalid,
		},
		{
			name:          "store failure",
			input:         &Input{},
			sweeper:       &fakeSweeper{err: apperrors.NewStoreFailedError("list_stale", errors.New("db down"))},
			wantOlderThan: 0,
			wantErr:       apperrors.ErrStoreFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(LoadConfig(), tt.sweeper, logger.NewTestLogger(t))
			out, err := h.Execute(context.Background(), tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutput, out)
			assert.Equal(t, tt.wantOlderThan, tt.sweeper.olderThan)
		})
	}
}
