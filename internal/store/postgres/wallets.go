package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/botgrid/control-plane/internal/models"
)

// WalletStore implements store.WalletStore using PostgreSQL.
type WalletStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *WalletStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Get retrieves a wallet, creating a zero-balance row if none exists.
func (s *WalletStore) Get(ctx context.Context, userID string) (*models.Wallet, error) {
	query := `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1`

	var w models.Wallet
	err := s.conn().QueryRowContext(ctx, query, userID).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		w = models.Wallet{UserID: userID, Balance: 0, UpdatedAt: time.Now().UTC()}
		insert := `
			INSERT INTO wallets (user_id, balance, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING`
		if _, err := s.conn().ExecContext(ctx, insert, w.UserID, w.Balance, w.UpdatedAt); err != nil {
			return nil, err
		}
		return &w, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetForUpdate retrieves a wallet and takes a row lock that lasts until the
// enclosing transaction commits, creating a zero-balance row if none exists.
// Callers that check the balance before writing it must use this instead of
// Get; outside a transaction the lock is released immediately and guards
// nothing.
func (s *WalletStore) GetForUpdate(ctx context.Context, userID string) (*models.Wallet, error) {
	insert := `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.conn().ExecContext(ctx, insert, userID, time.Now().UTC()); err != nil {
		return nil, err
	}

	query := `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1 FOR UPDATE`

	var w models.Wallet
	if err := s.conn().QueryRowContext(ctx, query, userID).Scan(&w.UserID, &w.Balance, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// Save writes a wallet's balance.
func (s *WalletStore) Save(ctx context.Context, wallet *models.Wallet) error {
	wallet.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at`

	_, err := s.conn().ExecContext(ctx, query, wallet.UserID, wallet.Balance, wallet.UpdatedAt)
	return err
}
