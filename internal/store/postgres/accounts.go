package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/botgrid/control-plane/internal/models"
)

// GitHubAccountStore implements store.GitHubAccountStore using PostgreSQL.
type GitHubAccountStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *GitHubAccountStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const accountColumns = `id, name, token, repo_owner, repo_name, workflow_file, active, last_used, queue_length, created_at, updated_at`

// Create saves a new account.
func (s *GitHubAccountStore) Create(ctx context.Context, account *models.GitHubAccount) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := `
		INSERT INTO github_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.conn().ExecContext(ctx, query,
		account.ID, account.Name, account.Token,
		account.RepoOwner, account.RepoName, account.WorkflowFile,
		account.Active, nullTime(account.LastUsed), account.QueueLength,
		account.CreatedAt, account.UpdatedAt,
	)
	return err
}

// Get retrieves an account by ID.
func (s *GitHubAccountStore) Get(ctx context.Context, id string) (*models.GitHubAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM github_accounts WHERE id = $1`
	return scanAccount(s.conn().QueryRowContext(ctx, query, id))
}

// List retrieves all accounts.
func (s *GitHubAccountStore) List(ctx context.Context) ([]*models.GitHubAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM github_accounts ORDER BY created_at`
	return s.queryAccounts(ctx, query)
}

// ListActive retrieves all accounts with the active flag set.
func (s *GitHubAccountStore) ListActive(ctx context.Context) ([]*models.GitHubAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM github_accounts WHERE active ORDER BY created_at`
	return s.queryAccounts(ctx, query)
}

// Update updates an existing account.
func (s *GitHubAccountStore) Update(ctx context.Context, account *models.GitHubAccount) error {
	account.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE github_accounts SET
			name = $1,
			token = $2,
			repo_owner = $3,
			repo_name = $4,
			workflow_file = $5,
			active = $6,
			last_used = $7,
			queue_length = $8,
			updated_at = $9
		WHERE id = $10`

	res, err := s.conn().ExecContext(ctx, query,
		account.Name, account.Token,
		account.RepoOwner, account.RepoName, account.WorkflowFile,
		account.Active, nullTime(account.LastUsed), account.QueueLength,
		account.UpdatedAt, account.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// TouchLastUsed records that an account was selected for a deployment.
func (s *GitHubAccountStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE github_accounts SET last_used = $1, updated_at = $1 WHERE id = $2`
	res, err := s.conn().ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes an account.
func (s *GitHubAccountStore) Delete(ctx context.Context, id string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM github_accounts WHERE id = $1`, id)
	return err
}

func (s *GitHubAccountStore) queryAccounts(ctx context.Context, query string, args ...any) ([]*models.GitHubAccount, error) {
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.GitHubAccount
	for rows.Next() {
		account, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(row rowScanner) (*models.GitHubAccount, error) {
	var account models.GitHubAccount
	var lastUsed sql.NullTime
	err := row.Scan(
		&account.ID, &account.Name, &account.Token,
		&account.RepoOwner, &account.RepoName, &account.WorkflowFile,
		&account.Active, &lastUsed, &account.QueueLength,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		account.LastUsed = &t
	}
	return &account, nil
}

func scanAccount(row *sql.Row) (*models.GitHubAccount, error) {
	account, err := scanAccountRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// nullTime converts an optional timestamp pointer into a sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// requireRow converts a zero-rows-affected update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
