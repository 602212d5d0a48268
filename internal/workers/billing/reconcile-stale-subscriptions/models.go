// internal/workers/billing/reconcile-stale-subscriptions/models.go
package reconcilestale

// Input optionally overrides how old a verification may be before the user is
// revisited. Zero uses the configured default.
type Input struct {
	OlderThanMinutes int `json:"olderThanMinutes,omitempty"`
}

type Output struct {
	Checked    int `json:"checked"`
	Reconciled int `json:"reconciled"`
	Failed     int `json:"failed"`
}
