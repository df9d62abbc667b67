package models

import "time"

// GitHubAccount is a pooled credential binding used to perform deployments.
// Token is stored encrypted at rest; RepoOwner/RepoName/WorkflowFile identify
// the repository and workflow the account deploys into.
type GitHubAccount struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Token        string     `json:"-"`
	RepoOwner    string     `json:"repo_owner"`
	RepoName     string     `json:"repo_name"`
	WorkflowFile string     `json:"workflow_file"`
	Active       bool       `json:"active"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	QueueLength  int        `json:"queue_length"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
