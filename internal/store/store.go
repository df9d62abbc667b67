// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/botgrid/control-plane/internal/models"
)

// GitHubAccountStore defines operations for the pooled GitHub account bindings.
type GitHubAccountStore interface {
	// Create saves a new account.
	Create(ctx context.Context, account *models.GitHubAccount) error
	// Get retrieves an account by ID.
	Get(ctx context.Context, id string) (*models.GitHubAccount, error)
	// List retrieves all accounts.
	List(ctx context.Context) ([]*models.GitHubAccount, error)
	// ListActive retrieves all accounts with the active flag set.
	ListActive(ctx context.Context) ([]*models.GitHubAccount, error)
	// Update updates an existing account.
	Update(ctx context.Context, account *models.GitHubAccount) error
	// TouchLastUsed records that an account was selected for a deployment.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// Delete removes an account.
	Delete(ctx context.Context, id string) error
}

// DeploymentStore defines operations for deployment management.
type DeploymentStore interface {
	// Create creates a new deployment.
	Create(ctx context.Context, deployment *models.Deployment) error
	// Get retrieves a deployment by ID.
	Get(ctx context.Context, id string) (*models.Deployment, error)
	// GetByBranch retrieves a deployment by its branch name.
	GetByBranch(ctx context.Context, branch string) (*models.Deployment, error)
	// ListByUser retrieves all deployments for a given owner, newest first.
	ListByUser(ctx context.Context, userID string) ([]*models.Deployment, error)
	// ListByStatus retrieves all deployments with a given status.
	ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error)
	// Update updates an existing deployment.
	Update(ctx context.Context, deployment *models.Deployment) error
	// Delete removes a deployment record.
	Delete(ctx context.Context, id string) error
}

// DeploymentVariableStore defines operations for per-deployment config overrides.
type DeploymentVariableStore interface {
	// Upsert creates or updates a variable for a deployment.
	Upsert(ctx context.Context, v *models.DeploymentVariable) error
	// ListByDeployment retrieves all variables for a deployment.
	ListByDeployment(ctx context.Context, deploymentID string) ([]*models.DeploymentVariable, error)
	// Delete removes a single variable.
	Delete(ctx context.Context, deploymentID, key string) error
	// DeleteByDeployment removes all variables owned by a deployment.
	DeleteByDeployment(ctx context.Context, deploymentID string) error
}

// TransactionStore defines operations for the append-only coin ledger.
// Entries are never updated or deleted.
type TransactionStore interface {
	// Create appends a ledger entry.
	Create(ctx context.Context, tx *models.Transaction) error
	// ListByUser retrieves ledger entries for a user, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
}

// WalletStore defines operations for per-user coin balances.
type WalletStore interface {
	// Get retrieves a wallet, creating a zero-balance row if none exists.
	Get(ctx context.Context, userID string) (*models.Wallet, error)
	// GetForUpdate retrieves a wallet like Get but locks it for the
	// enclosing transaction, so a read-check-write sequence cannot race a
	// concurrent adjustment.
	GetForUpdate(ctx context.Context, userID string) (*models.Wallet, error)
	// Save writes a wallet's balance.
	Save(ctx context.Context, wallet *models.Wallet) error
}

// Store is the main interface for database operations.
type Store interface {
	// Accounts returns the GitHubAccountStore for pooled account operations.
	Accounts() GitHubAccountStore
	// Deployments returns the DeploymentStore for deployment operations.
	Deployments() DeploymentStore
	// Variables returns the DeploymentVariableStore for config override operations.
	Variables() DeploymentVariableStore
	// Transactions returns the TransactionStore for ledger operations.
	Transactions() TransactionStore
	// Wallets returns the WalletStore for balance operations.
	Wallets() WalletStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Close closes the database connection.
	Close() error
}
