package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botgrid/control-plane/internal/models"
)

// DeploymentStore implements store.DeploymentStore using PostgreSQL.
type DeploymentStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *DeploymentStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const deploymentColumns = `id, user_id, name, branch, account_id, status, cost, last_charge_date, next_charge_date, config, created_at, updated_at`

// Create creates a new deployment.
func (s *DeploymentStore) Create(ctx context.Context, deployment *models.Deployment) error {
	configJSON, err := json.Marshal(deployment.Config)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	now := time.Now().UTC()
	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = now
	}
	if deployment.UpdatedAt.IsZero() {
		deployment.UpdatedAt = now
	}

	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.conn().ExecContext(ctx, query,
		deployment.ID, deployment.UserID, deployment.Name, deployment.Branch,
		deployment.AccountID, deployment.Status, deployment.Cost,
		deployment.LastChargeDate, deployment.NextChargeDate, configJSON,
		deployment.CreatedAt, deployment.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateBranch
	}
	return err
}

// Get retrieves a deployment by ID.
func (s *DeploymentStore) Get(ctx context.Context, id string) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return scanDeployment(s.conn().QueryRowContext(ctx, query, id))
}

// GetByBranch retrieves a deployment by its branch name.
func (s *DeploymentStore) GetByBranch(ctx context.Context, branch string) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE branch = $1`
	return scanDeployment(s.conn().QueryRowContext(ctx, query, branch))
}

// ListByUser retrieves all deployments for a given owner, newest first.
func (s *DeploymentStore) ListByUser(ctx context.Context, userID string) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE user_id = $1 ORDER BY created_at DESC`
	return s.queryDeployments(ctx, query, userID)
}

// ListByStatus retrieves all deployments with a given status.
func (s *DeploymentStore) ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE status = $1 ORDER BY created_at`
	return s.queryDeployments(ctx, query, status)
}

// Update updates an existing deployment.
func (s *DeploymentStore) Update(ctx context.Context, deployment *models.Deployment) error {
	configJSON, err := json.Marshal(deployment.Config)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	deployment.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE deployments SET
			name = $1,
			account_id = $2,
			status = $3,
			cost = $4,
			last_charge_date = $5,
			next_charge_date = $6,
			config = $7,
			updated_at = $8
		WHERE id = $9`

	res, err := s.conn().ExecContext(ctx, query,
		deployment.Name, deployment.AccountID, deployment.Status, deployment.Cost,
		deployment.LastChargeDate, deployment.NextChargeDate, configJSON,
		deployment.UpdatedAt, deployment.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes a deployment record.
func (s *DeploymentStore) Delete(ctx context.Context, id string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM deployments WHERE id = $1`, id)
	return err
}

func (s *DeploymentStore) queryDeployments(ctx context.Context, query string, args ...any) ([]*models.Deployment, error) {
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []*models.Deployment
	for rows.Next() {
		d, err := scanDeploymentRow(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func scanDeploymentRow(row rowScanner) (*models.Deployment, error) {
	var d models.Deployment
	var configJSON []byte
	var lastCharge, nextCharge sql.NullTime
	err := row.Scan(
		&d.ID, &d.UserID, &d.Name, &d.Branch, &d.AccountID, &d.Status, &d.Cost,
		&lastCharge, &nextCharge, &configJSON, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastCharge.Valid {
		d.LastChargeDate = lastCharge.Time
	}
	if nextCharge.Valid {
		d.NextChargeDate = nextCharge.Time
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &d.Config); err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
	}
	return &d, nil
}

func scanDeployment(row *sql.Row) (*models.Deployment, error) {
	d, err := scanDeploymentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}
