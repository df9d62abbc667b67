package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/botgrid/control-plane/internal/models"
)

// DeploymentVariableStore implements store.DeploymentVariableStore using PostgreSQL.
type DeploymentVariableStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *DeploymentVariableStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Upsert creates or updates a variable for a deployment.
func (s *DeploymentVariableStore) Upsert(ctx context.Context, v *models.DeploymentVariable) error {
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	query := `
		INSERT INTO deployment_variables (id, deployment_id, key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (deployment_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`

	_, err := s.conn().ExecContext(ctx, query,
		v.ID, v.DeploymentID, v.Key, v.Value, v.CreatedAt, v.UpdatedAt,
	)
	return err
}

// ListByDeployment retrieves all variables for a deployment.
func (s *DeploymentVariableStore) ListByDeployment(ctx context.Context, deploymentID string) ([]*models.DeploymentVariable, error) {
	query := `
		SELECT id, deployment_id, key, value, created_at, updated_at
		FROM deployment_variables
		WHERE deployment_id = $1
		ORDER BY key`

	rows, err := s.conn().QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vars []*models.DeploymentVariable
	for rows.Next() {
		var v models.DeploymentVariable
		if err := rows.Scan(&v.ID, &v.DeploymentID, &v.Key, &v.Value, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, &v)
	}
	return vars, rows.Err()
}

// Delete removes a single variable.
func (s *DeploymentVariableStore) Delete(ctx context.Context, deploymentID, key string) error {
	query := `DELETE FROM deployment_variables WHERE deployment_id = $1 AND key = $2`
	_, err := s.conn().ExecContext(ctx, query, deploymentID, key)
	return err
}

// DeleteByDeployment removes all variables owned by a deployment.
func (s *DeploymentVariableStore) DeleteByDeployment(ctx context.Context, deploymentID string) error {
	query := `DELETE FROM deployment_variables WHERE deployment_id = $1`
	_, err := s.conn().ExecContext(ctx, query, deploymentID)
	return err
}
