package models

import "time"

// RunStatusCompleted is the terminal workflow run status reported by the provider.
const RunStatusCompleted = "completed"

// WorkflowRun is a provider-neutral summary of a CI workflow run for a branch.
type WorkflowRun struct {
	ID         int64     `json:"id"`
	Branch     string    `json:"branch"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion,omitempty"`
	URL        string    `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Completed returns true if the run has reached its terminal status.
func (r *WorkflowRun) Completed() bool {
	return r.Status == RunStatusCompleted
}
