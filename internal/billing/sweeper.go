// Package billing charges active deployments their recurring upkeep cost and
// removes the ones whose owners can no longer pay.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/notify"
	"github.com/botgrid/control-plane/internal/store"
	"github.com/botgrid/control-plane/internal/wallet"
)

// Lifecycle is the slice of the deployment manager the sweeper needs:
// deleting a deployment must also clean up its provider branch, so the
// sweeper never deletes records directly.
type Lifecycle interface {
	Delete(ctx context.Context, id string) error
}

// Config carries the sweeper's schedule.
type Config struct {
	// Interval is the charge period. A deployment is due when its
	// NextChargeDate is unset or at least this far in the past.
	Interval time.Duration
	// StartupDelay is how long after Start the first sweep runs, catching
	// charges that came due while the process was down.
	StartupDelay time.Duration
}

// Sweeper runs the recurring billing sweep. It is safe to trigger on demand:
// only deployments whose NextChargeDate has actually elapsed are touched, so
// overlapping invocations within one charge period cannot double-charge.
type Sweeper struct {
	store     store.Store
	wallet    *wallet.Service
	lifecycle Lifecycle
	notifier  notify.Notifier
	cfg       Config
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a billing sweeper.
func NewSweeper(st store.Store, w *wallet.Service, lifecycle Lifecycle, notifier notify.Notifier, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Sweeper{
		store:     st,
		wallet:    w,
		lifecycle: lifecycle,
		notifier:  notifier,
		cfg:       cfg,
		cron:      cron.New(),
		logger:    logger.With("component", "billing"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the recurring sweep and a delayed startup sweep.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), func() {
		s.runSweep()
	})
	if err != nil {
		return fmt.Errorf("scheduling billing sweep: %w", err)
	}
	s.cron.Start()

	if s.cfg.StartupDelay > 0 {
		time.AfterFunc(s.cfg.StartupDelay, s.runSweep)
	} else {
		go s.runSweep()
	}

	s.logger.Info("billing sweep scheduled",
		"interval", s.cfg.Interval, "startup_delay", s.cfg.StartupDelay)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("billing sweep failed", "error", err)
	}
}

// Sweep charges every due deployment once. Items are independent: a failure
// on one is logged and the sweep continues.
func (s *Sweeper) Sweep(ctx context.Context) error {
	deployments, err := s.store.Deployments().ListByStatus(ctx, models.DeploymentStatusActive)
	if err != nil {
		return fmt.Errorf("listing active deployments: %w", err)
	}

	now := s.now()
	charged, deleted := 0, 0
	for _, deployment := range deployments {
		if !s.due(deployment, now) {
			continue
		}
		switch err := s.chargeOne(ctx, deployment, now); {
		case err == errDeleted:
			deleted++
		case err != nil:
			s.logger.Error("failed to bill deployment",
				"deployment_id", deployment.ID, "error", err)
		default:
			charged++
		}
	}

	s.logger.Info("billing sweep finished",
		"examined", len(deployments), "charged", charged, "deleted", deleted)
	return nil
}

// due reports whether a deployment owes its recurring charge.
func (s *Sweeper) due(d *models.Deployment, now time.Time) bool {
	return d.NextChargeDate.IsZero() || !now.Before(d.NextChargeDate)
}

// errDeleted distinguishes the insufficient-funds outcome from real errors
// inside the sweep loop.
var errDeleted = fmt.Errorf("deployment deleted for insufficient funds")

func (s *Sweeper) chargeOne(ctx context.Context, deployment *models.Deployment, now time.Time) error {
	charge := deployment.Cost

	balance, err := s.wallet.Balance(ctx, deployment.UserID)
	if err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}

	if balance < charge {
		return s.deleteForInsufficientFunds(ctx, deployment, balance, charge)
	}

	if err := s.wallet.Debit(ctx, deployment.UserID, charge, models.TransactionDeploymentCharge,
		fmt.Sprintf("Daily charge for %s", deployment.Branch), deployment.ID); err != nil {
		return fmt.Errorf("debiting daily charge: %w", err)
	}

	deployment.LastChargeDate = now
	deployment.NextChargeDate = now.Add(s.cfg.Interval)
	if err := s.store.Deployments().Update(ctx, deployment); err != nil {
		return fmt.Errorf("advancing charge dates: %w", err)
	}

	s.notifier.Notify(ctx, notify.KindBillingCharge, "Deployment charged",
		fmt.Sprintf("%d coins charged for %s", charge, deployment.Branch),
		map[string]string{"deployment_id": deployment.ID, "amount": fmt.Sprintf("%d", charge)})
	return nil
}

func (s *Sweeper) deleteForInsufficientFunds(ctx context.Context, deployment *models.Deployment, balance, charge int64) error {
	if err := s.lifecycle.Delete(ctx, deployment.ID); err != nil {
		return fmt.Errorf("deleting deployment: %w", err)
	}

	// The zero-amount entry keeps the deletion visible in the user's ledger.
	desc := fmt.Sprintf("Deployment %s deleted: insufficient funds (balance %d, required %d)",
		deployment.Branch, balance, charge)
	if err := s.wallet.Record(ctx, deployment.UserID, models.TransactionDeploymentDeleted,
		desc, deployment.ID); err != nil {
		s.logger.Error("failed to record deletion transaction",
			"deployment_id", deployment.ID, "error", err)
	}

	s.notifier.Notify(ctx, notify.KindDeploymentDeleted, "Deployment deleted",
		desc, map[string]string{"deployment_id": deployment.ID, "branch": deployment.Branch})
	s.logger.Warn("deployment deleted for insufficient funds",
		"deployment_id", deployment.ID,
		"branch", deployment.Branch,
		"balance", balance,
		"required", charge,
	)
	return errDeleted
}
