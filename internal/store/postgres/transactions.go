package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/botgrid/control-plane/internal/models"
)

// TransactionStore implements store.TransactionStore using PostgreSQL.
// The ledger is append-only; there are no update or delete operations.
type TransactionStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *TransactionStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create appends a ledger entry.
func (s *TransactionStore) Create(ctx context.Context, t *models.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (id, user_id, amount, type, description, related_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.conn().ExecContext(ctx, query,
		t.ID, t.UserID, t.Amount, t.Type, t.Description, t.RelatedID, t.CreatedAt,
	)
	return err
}

// ListByUser retrieves ledger entries for a user, newest first.
func (s *TransactionStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, amount, type, description, related_id, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.conn().QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &t.RelatedID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}
