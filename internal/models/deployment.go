package models

import "time"

// DeploymentStatus represents the current state of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusDeploying DeploymentStatus = "deploying"
	DeploymentStatusActive    DeploymentStatus = "active"
	DeploymentStatusFailed    DeploymentStatus = "failed"
	DeploymentStatusStopped   DeploymentStatus = "stopped"
)

// Terminal returns true if no further automatic transitions happen from this status.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentStatusFailed, DeploymentStatusStopped:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a transition from s to next is allowed.
// Deletion is allowed from any status and is not modelled here.
func (s DeploymentStatus) CanTransition(next DeploymentStatus) bool {
	switch s {
	case DeploymentStatusDeploying:
		return next == DeploymentStatusActive || next == DeploymentStatusFailed
	case DeploymentStatusActive:
		return next == DeploymentStatusStopped || next == DeploymentStatusFailed
	default:
		return false
	}
}

// Deployment represents one bot instance running on a CI branch.
type Deployment struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Name           string            `json:"name"`
	Branch         string            `json:"branch"`
	AccountID      string            `json:"account_id,omitempty"`
	Status         DeploymentStatus  `json:"status"`
	Cost           int64             `json:"cost"`
	LastChargeDate time.Time         `json:"last_charge_date"`
	NextChargeDate time.Time         `json:"next_charge_date"`
	Config         map[string]string `json:"config,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// DeploymentVariable is a key/value override owned by a single deployment.
// Variables are merged over the default config set when the config file is
// regenerated on redeploy.
type DeploymentVariable struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
