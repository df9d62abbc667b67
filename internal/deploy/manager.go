// Package deploy implements the deployment lifecycle: create, redeploy,
// stop, and delete, including billing compensation on provider failures.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/botgrid/control-plane/internal/events"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/notify"
	"github.com/botgrid/control-plane/internal/store"
	"github.com/botgrid/control-plane/internal/store/postgres"
	"github.com/botgrid/control-plane/internal/wallet"
)

// configPath is where the rendered bot configuration lands on each branch.
const configPath = "config.env"

// Client is the provider surface the manager needs for one account.
type Client interface {
	CheckRepoAccess(ctx context.Context) error
	BranchExists(ctx context.Context, branch string) (bool, error)
	DefaultBranchSHA(ctx context.Context) (string, error)
	CreateBranch(ctx context.Context, branch, sha string) error
	DeleteBranch(ctx context.Context, branch string) error
	PutFile(ctx context.Context, branch, path, message string, content []byte) error
	DispatchWorkflow(ctx context.Context, branch string, inputs map[string]any) error
}

// ClientFactory builds a provider client for a pool account.
type ClientFactory interface {
	ForAccount(ctx context.Context, account *models.GitHubAccount) (Client, error)
}

// Selector picks a pool account for a new deployment.
type Selector interface {
	Select(ctx context.Context) (*models.GitHubAccount, error)
}

// Watcher starts run monitoring for a deployment branch.
type Watcher interface {
	Watch(branch string, account *models.GitHubAccount)
}

// IsRefNotFound classifies branch-delete failures. Wired to the provider
// package's not-found check in production.
type IsRefNotFound func(error) bool

// Config carries the manager's pricing and scheduling knobs.
type Config struct {
	Fee         int64
	DailyCharge int64
	// ChargePeriod is how far NextChargeDate advances on create and on each
	// billing charge.
	ChargePeriod time.Duration
}

// Manager owns the deployment lifecycle.
type Manager struct {
	store    store.Store
	wallet   *wallet.Service
	selector Selector
	clients  ClientFactory
	watcher  Watcher
	hub      *events.Hub
	notifier notify.Notifier
	refGone  IsRefNotFound
	cfg      Config
	logger   *slog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(
	st store.Store,
	w *wallet.Service,
	selector Selector,
	clients ClientFactory,
	watcher Watcher,
	hub *events.Hub,
	notifier notify.Notifier,
	refGone IsRefNotFound,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChargePeriod <= 0 {
		cfg.ChargePeriod = 24 * time.Hour
	}
	if refGone == nil {
		refGone = func(error) bool { return false }
	}
	return &Manager{
		store:    st,
		wallet:   w,
		selector: selector,
		clients:  clients,
		watcher:  watcher,
		hub:      hub,
		notifier: notifier,
		refGone:  refGone,
		cfg:      cfg,
		logger:   logger.With("component", "deploy"),
	}
}

// CreateInput carries everything needed to provision a new bot deployment.
type CreateInput struct {
	UserID      string
	Name        string
	SessionID   string
	OwnerNumber string
	Prefix      string
}

// Create provisions a new deployment: it validates input, confirms funds and
// branch availability, debits the fee, provisions the branch on the provider,
// and persists the record. Any failure after the debit refunds the fee.
// The ordering is deliberate: availability is confirmed before the debit, and
// the debit happens before any provider mutation, so the worst financial
// outcome is "charged but provider failed", which the refund undoes.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*models.Deployment, error) {
	if in.UserID == "" {
		return nil, validationErr("user id is required")
	}
	if in.Name == "" {
		return nil, validationErr("name is required")
	}
	if in.SessionID == "" {
		return nil, validationErr("session id is required")
	}
	if in.OwnerNumber == "" {
		return nil, validationErr("owner number is required")
	}
	if in.Prefix == "" {
		return nil, validationErr("command prefix is required")
	}

	branch := SanitizeBranch(in.Name)
	if branch == "" {
		return nil, validationErr("name %q contains no usable branch characters", in.Name)
	}

	balance, err := m.wallet.Balance(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if balance < m.cfg.Fee {
		return nil, fmt.Errorf("%w: you need %d coins, balance is %d",
			wallet.ErrInsufficientFunds, m.cfg.Fee, balance)
	}

	account, err := m.selector.Select(ctx)
	if err != nil {
		return nil, err
	}

	client, err := m.clients.ForAccount(ctx, account)
	if err != nil {
		return nil, &ProviderError{Op: "authenticate", Err: err}
	}
	if err := client.CheckRepoAccess(ctx); err != nil {
		return nil, &ProviderError{Op: "repository check", Err: err}
	}

	exists, err := client.BranchExists(ctx, branch)
	if err != nil {
		return nil, &ProviderError{Op: "branch check", Err: err}
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrBranchTaken, branch)
	}

	deploymentID := uuid.New().String()
	if err := m.wallet.Debit(ctx, in.UserID, m.cfg.Fee, models.TransactionDeploymentFee,
		fmt.Sprintf("Deployment fee for %s", branch), deploymentID); err != nil {
		return nil, err
	}

	// From here on every failure must refund the fee.
	deployment, err := m.provision(ctx, client, account, deploymentID, branch, in)
	if err != nil {
		m.refund(ctx, in.UserID, branch, deploymentID)
		return nil, err
	}

	m.logger.Info("deployment created",
		"deployment_id", deployment.ID,
		"branch", branch,
		"account_id", account.ID,
	)
	m.notifier.Notify(ctx, notify.KindDeploymentCreated, "Deployment created",
		fmt.Sprintf("Bot %s is deploying on branch %s", in.Name, branch),
		map[string]string{"deployment_id": deployment.ID, "branch": branch})

	m.watcher.Watch(branch, account)
	return deployment, nil
}

// provision performs the provider mutations and record persistence that sit
// inside the refund window.
func (m *Manager) provision(ctx context.Context, client Client, account *models.GitHubAccount, deploymentID, branch string, in CreateInput) (*models.Deployment, error) {
	sha, err := client.DefaultBranchSHA(ctx)
	if err != nil {
		return nil, &ProviderError{Op: "resolve default branch", Err: err}
	}
	if err := client.CreateBranch(ctx, branch, sha); err != nil {
		return nil, &ProviderError{Op: "create branch", Err: err}
	}

	config := map[string]string{
		ConfigKeySessionID:   in.SessionID,
		ConfigKeyOwnerNumber: in.OwnerNumber,
		ConfigKeyPrefix:      in.Prefix,
		ConfigKeyBotName:     in.Name,
	}
	configContent, err := renderConfig(config)
	if err != nil {
		return nil, err
	}
	if err := client.PutFile(ctx, branch, configPath, "Add bot configuration", configContent); err != nil {
		return nil, &ProviderError{Op: "write config", Err: err}
	}

	workflowContent, err := renderWorkflow(branch, account.WorkflowFile)
	if err != nil {
		return nil, err
	}
	workflowPath := ".github/workflows/" + account.WorkflowFile
	if err := client.PutFile(ctx, branch, workflowPath, "Add deployment workflow", workflowContent); err != nil {
		return nil, &ProviderError{Op: "write workflow", Err: err}
	}

	if err := client.DispatchWorkflow(ctx, branch, nil); err != nil {
		return nil, &ProviderError{Op: "dispatch workflow", Err: err}
	}

	now := time.Now().UTC()
	deployment := &models.Deployment{
		ID:             deploymentID,
		UserID:         in.UserID,
		Name:           in.Name,
		Branch:         branch,
		AccountID:      account.ID,
		Status:         models.DeploymentStatusDeploying,
		Cost:           m.cfg.DailyCharge,
		LastChargeDate: now,
		NextChargeDate: now.Add(m.cfg.ChargePeriod),
		Config:         config,
	}
	if err := m.store.Deployments().Create(ctx, deployment); err != nil {
		if errors.Is(err, postgres.ErrDuplicateBranch) {
			return nil, fmt.Errorf("%w: %q", ErrBranchTaken, branch)
		}
		return nil, fmt.Errorf("persisting deployment: %w", err)
	}
	return deployment, nil
}

// refund is the compensating transaction for a failed create. A refund
// failure leaves the ledger inconsistent, so it is logged loudly.
func (m *Manager) refund(ctx context.Context, userID, branch, deploymentID string) {
	err := m.wallet.Credit(ctx, userID, m.cfg.Fee, models.TransactionDeploymentRefund,
		fmt.Sprintf("Refund for failed deployment %s", branch), deploymentID)
	if err != nil {
		m.logger.Error("refund failed, ledger requires manual correction",
			"user_id", userID,
			"deployment_id", deploymentID,
			"amount", m.cfg.Fee,
			"error", err,
		)
	}
}

// Redeploy regenerates the config file on the existing branch by merging
// stored variables over the deployment's defaults and re-triggers the
// workflow. No fee is charged.
func (m *Manager) Redeploy(ctx context.Context, id string) error {
	deployment, err := m.get(ctx, id)
	if err != nil {
		return err
	}

	account, err := m.store.Accounts().Get(ctx, deployment.AccountID)
	if err != nil {
		return fmt.Errorf("loading account for deployment %s: %w", id, err)
	}

	client, err := m.clients.ForAccount(ctx, account)
	if err != nil {
		return &ProviderError{Op: "authenticate", Err: err}
	}

	config := make(map[string]string, len(deployment.Config))
	for k, v := range deployment.Config {
		config[k] = v
	}
	vars, err := m.store.Variables().ListByDeployment(ctx, id)
	if err != nil {
		return fmt.Errorf("loading variables: %w", err)
	}
	for _, v := range vars {
		config[v.Key] = v.Value
	}

	content, err := renderConfig(config)
	if err != nil {
		return err
	}
	if err := client.PutFile(ctx, deployment.Branch, configPath, "Update bot configuration", content); err != nil {
		return &ProviderError{Op: "write config", Err: err}
	}
	if err := client.DispatchWorkflow(ctx, deployment.Branch, nil); err != nil {
		return &ProviderError{Op: "dispatch workflow", Err: err}
	}

	if err := m.store.Accounts().TouchLastUsed(ctx, account.ID, time.Now().UTC()); err != nil {
		m.logger.Warn("failed to touch account last_used", "account_id", account.ID, "error", err)
	}

	deployment.Status = models.DeploymentStatusDeploying
	if err := m.store.Deployments().Update(ctx, deployment); err != nil {
		return fmt.Errorf("updating deployment: %w", err)
	}

	m.logger.Info("deployment redeployed", "deployment_id", id, "branch", deployment.Branch)
	m.watcher.Watch(deployment.Branch, account)
	return nil
}

// Stop marks an active deployment stopped. The branch and its workflow are
// left in place; only the status changes.
func (m *Manager) Stop(ctx context.Context, id string) error {
	deployment, err := m.get(ctx, id)
	if err != nil {
		return err
	}
	if !deployment.Status.CanTransition(models.DeploymentStatusStopped) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, deployment.Status, models.DeploymentStatusStopped)
	}

	deployment.Status = models.DeploymentStatusStopped
	if err := m.store.Deployments().Update(ctx, deployment); err != nil {
		return fmt.Errorf("updating deployment: %w", err)
	}

	m.hub.Publish(events.Event{
		Type:   events.TypeStatusUpdate,
		Branch: deployment.Branch,
		Payload: map[string]string{
			"deployment_id": id,
			"status":        string(models.DeploymentStatusStopped),
		},
	})
	return nil
}

// Delete removes a deployment. The provider branch is deleted best-effort: a
// missing branch counts as success, and any other branch-delete failure is
// logged but never blocks removal of the record and its variables. Deleting
// an already-deleted deployment succeeds.
func (m *Manager) Delete(ctx context.Context, id string) error {
	deployment, err := m.get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	m.deleteBranch(ctx, deployment)

	if err := m.store.Variables().DeleteByDeployment(ctx, id); err != nil {
		m.logger.Warn("failed to delete deployment variables", "deployment_id", id, "error", err)
	}
	if err := m.store.Deployments().Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting deployment record: %w", err)
	}

	m.logger.Info("deployment deleted", "deployment_id", id, "branch", deployment.Branch)
	m.notifier.Notify(ctx, notify.KindDeploymentDeleted, "Deployment deleted",
		fmt.Sprintf("Bot %s on branch %s was removed", deployment.Name, deployment.Branch),
		map[string]string{"deployment_id": id, "branch": deployment.Branch})
	return nil
}

func (m *Manager) deleteBranch(ctx context.Context, deployment *models.Deployment) {
	account, err := m.store.Accounts().Get(ctx, deployment.AccountID)
	if err != nil {
		m.logger.Warn("skipping branch delete, account unavailable",
			"deployment_id", deployment.ID, "account_id", deployment.AccountID, "error", err)
		return
	}
	client, err := m.clients.ForAccount(ctx, account)
	if err != nil {
		m.logger.Warn("skipping branch delete, client unavailable",
			"deployment_id", deployment.ID, "error", err)
		return
	}
	if err := client.DeleteBranch(ctx, deployment.Branch); err != nil && !m.refGone(err) {
		m.logger.Warn("branch delete failed",
			"deployment_id", deployment.ID, "branch", deployment.Branch, "error", err)
	}
}

// Get returns a deployment by ID.
func (m *Manager) Get(ctx context.Context, id string) (*models.Deployment, error) {
	return m.get(ctx, id)
}

// ListByUser returns a user's deployments, newest first.
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]*models.Deployment, error) {
	return m.store.Deployments().ListByUser(ctx, userID)
}

func (m *Manager) get(ctx context.Context, id string) (*models.Deployment, error) {
	deployment, err := m.store.Deployments().Get(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return deployment, nil
}
