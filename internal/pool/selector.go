// Package pool selects the least-loaded provider account for new deployments.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/store"
)

// ErrNoAccounts is returned when no active account can serve a deployment.
var ErrNoAccounts = errors.New("no active accounts available")

// LoadFunc reports the number of queued and in-progress workflow runs on an
// account's repository.
type LoadFunc func(ctx context.Context, account *models.GitHubAccount) (int, error)

// Selector picks a provider account for a new deployment. Accounts are
// scanned least recently used first; the first one under the concurrency
// threshold wins. When every account is busy the least recently used one
// still takes the deployment so load spreads instead of piling onto one
// account.
type Selector struct {
	accounts  store.GitHubAccountStore
	load      LoadFunc
	threshold int
	logger    *slog.Logger
}

// NewSelector creates a selector. threshold is the run count at or above
// which an account is considered busy.
func NewSelector(accounts store.GitHubAccountStore, load LoadFunc, threshold int, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = 5
	}
	return &Selector{
		accounts:  accounts,
		load:      load,
		threshold: threshold,
		logger:    logger.With("component", "pool"),
	}
}

// Select returns the account to use for a new deployment and records the
// selection time on it. Accounts whose load cannot be determined are skipped.
func (s *Selector) Select(ctx context.Context) (*models.GitHubAccount, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	// Never-used accounts sort first, then oldest selection time.
	sort.SliceStable(accounts, func(i, j int) bool {
		return olderUse(accounts[i], accounts[j])
	})

	var chosen *models.GitHubAccount
	var fallback *models.GitHubAccount

	for _, account := range accounts {
		n, err := s.load(ctx, account)
		if err != nil {
			s.logger.Warn("skipping account, load check failed",
				"account_id", account.ID, "error", err)
			continue
		}
		account.QueueLength = n

		if n < s.threshold {
			chosen = account
			break
		}
		if fallback == nil {
			fallback = account
		}
	}

	if chosen == nil {
		chosen = fallback
	}
	if chosen == nil {
		return nil, ErrNoAccounts
	}

	now := time.Now().UTC()
	chosen.LastUsed = &now
	if err := s.accounts.Update(ctx, chosen); err != nil {
		return nil, fmt.Errorf("recording account selection: %w", err)
	}

	s.logger.Info("selected account",
		"account_id", chosen.ID,
		"queue_length", chosen.QueueLength,
	)
	return chosen, nil
}

// olderUse reports whether a was used less recently than b. An account that
// was never used sorts before any used one.
func olderUse(a, b *models.GitHubAccount) bool {
	if b == nil {
		return true
	}
	if a.LastUsed == nil {
		return b.LastUsed != nil
	}
	if b.LastUsed == nil {
		return false
	}
	return a.LastUsed.Before(*b.LastUsed)
}
