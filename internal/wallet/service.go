// Package wallet manages user coin balances and their append-only ledger.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/store"
)

// ErrInsufficientFunds is returned when a debit would push a balance below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Service adjusts wallet balances. Every adjustment runs in a single database
// transaction that updates the balance and appends exactly one ledger entry,
// so the ledger always explains the balance.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// NewService creates a wallet service.
func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "wallet"),
	}
}

// Balance returns the user's current coin balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	w, err := s.store.Wallets().Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("loading wallet: %w", err)
	}
	return w.Balance, nil
}

// Debit withdraws amount coins from the user's wallet. If the balance would
// go negative the debit is rejected with ErrInsufficientFunds and nothing is
// written.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, txType models.TransactionType, description, relatedID string) error {
	if amount < 0 {
		return fmt.Errorf("debit amount must not be negative, got %d", amount)
	}
	return s.adjust(ctx, userID, -amount, txType, description, relatedID)
}

// Credit deposits amount coins into the user's wallet.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, txType models.TransactionType, description, relatedID string) error {
	if amount < 0 {
		return fmt.Errorf("credit amount must not be negative, got %d", amount)
	}
	return s.adjust(ctx, userID, amount, txType, description, relatedID)
}

// Record appends a zero-amount ledger entry. Used for events that touched no
// funds but must show up in the user's history, like a deletion for
// insufficient balance.
func (s *Service) Record(ctx context.Context, userID string, txType models.TransactionType, description, relatedID string) error {
	return s.adjust(ctx, userID, 0, txType, description, relatedID)
}

// Transactions returns the user's ledger entries, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	return s.store.Transactions().ListByUser(ctx, userID, limit)
}

func (s *Service) adjust(ctx context.Context, userID string, amount int64, txType models.TransactionType, description, relatedID string) error {
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		// The row lock holds until commit, so concurrent adjustments
		// cannot both pass the balance check on the same stale read.
		w, err := tx.Wallets().GetForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("loading wallet: %w", err)
		}

		if w.Balance+amount < 0 {
			return ErrInsufficientFunds
		}
		w.Balance += amount

		if err := tx.Wallets().Save(ctx, w); err != nil {
			return fmt.Errorf("saving wallet: %w", err)
		}

		entry := &models.Transaction{
			ID:          uuid.New().String(),
			UserID:      userID,
			Amount:      amount,
			Type:        txType,
			Description: description,
			RelatedID:   relatedID,
		}
		if err := tx.Transactions().Create(ctx, entry); err != nil {
			return fmt.Errorf("recording transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("wallet adjusted",
		"user_id", userID,
		"amount", amount,
		"type", txType,
	)
	return nil
}
