package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/botgrid/control-plane/internal/events"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/store"
)

// Verdict is a log analyzer's judgement of a deploying branch.
type Verdict int

const (
	// VerdictUnknown means the logs are inconclusive; leave the status alone.
	VerdictUnknown Verdict = iota
	// VerdictSuccess means the bot came up.
	VerdictSuccess
	// VerdictFailure means the run failed or went stale.
	VerdictFailure
)

// LogAnalyzer judges a deploying deployment from its run logs. It sits
// behind an interface so the keyword heuristic can be swapped for a real
// provider status read without touching the sweep.
type LogAnalyzer interface {
	Analyze(ctx context.Context, deployment *models.Deployment) (Verdict, error)
}

// LogFetcher reads a branch's latest run and its log text.
type LogFetcher interface {
	LatestRun(ctx context.Context, branch string) (*models.WorkflowRun, error)
	RunLogs(ctx context.Context, runID int64) (string, error)
}

// LogClientFactory builds a log fetcher for a pool account.
type LogClientFactory interface {
	ForAccount(ctx context.Context, account *models.GitHubAccount) (LogFetcher, error)
}

var (
	successPatterns = []string{
		"bot is ready",
		"connected successfully",
		"session restored",
		"logged in as",
	}
	failurePatterns = []string{
		"invalid session",
		"session expired",
		"authentication failed",
		"fatal error",
		"npm err!",
	}
)

// KeywordAnalyzer inspects accumulated run log text for success and failure
// patterns, and treats a run with no log movement for staleAfter as failed.
type KeywordAnalyzer struct {
	accounts   store.GitHubAccountStore
	clients    LogClientFactory
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewKeywordAnalyzer creates the default heuristic analyzer.
func NewKeywordAnalyzer(accounts store.GitHubAccountStore, clients LogClientFactory, staleAfter time.Duration, logger *slog.Logger) *KeywordAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &KeywordAnalyzer{
		accounts:   accounts,
		clients:    clients,
		staleAfter: staleAfter,
		logger:     logger.With("component", "log-analyzer"),
	}
}

// Analyze fetches the branch's latest run logs and matches them against the
// known patterns. Failure patterns win over success patterns since a crash
// after a clean start still means the deployment is down.
func (a *KeywordAnalyzer) Analyze(ctx context.Context, deployment *models.Deployment) (Verdict, error) {
	account, err := a.accounts.Get(ctx, deployment.AccountID)
	if err != nil {
		return VerdictUnknown, fmt.Errorf("loading account: %w", err)
	}
	client, err := a.clients.ForAccount(ctx, account)
	if err != nil {
		return VerdictUnknown, fmt.Errorf("building client: %w", err)
	}

	run, err := client.LatestRun(ctx, deployment.Branch)
	if err != nil {
		return VerdictUnknown, fmt.Errorf("fetching latest run: %w", err)
	}
	if run == nil {
		// Dispatched but never registered. Stale deployments give up.
		if time.Since(deployment.UpdatedAt) > a.staleAfter {
			return VerdictFailure, nil
		}
		return VerdictUnknown, nil
	}

	if !run.UpdatedAt.IsZero() && time.Since(run.UpdatedAt) > a.staleAfter && !run.Completed() {
		return VerdictFailure, nil
	}

	logs, err := client.RunLogs(ctx, run.ID)
	if err != nil {
		return VerdictUnknown, fmt.Errorf("fetching run logs: %w", err)
	}
	lower := strings.ToLower(logs)

	for _, p := range failurePatterns {
		if strings.Contains(lower, p) {
			return VerdictFailure, nil
		}
	}
	for _, p := range successPatterns {
		if strings.Contains(lower, p) {
			return VerdictSuccess, nil
		}
	}
	return VerdictUnknown, nil
}

// Fallback periodically re-examines all deploying deployments independently
// of the live watches, as a second line of defence when a watch was lost
// (e.g. across a restart).
type Fallback struct {
	store    store.Store
	analyzer LogAnalyzer
	hub      *events.Hub
	interval time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewFallback creates the fallback sweeper.
func NewFallback(st store.Store, analyzer LogAnalyzer, hub *events.Hub, interval time.Duration, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Fallback{
		store:    st,
		analyzer: analyzer,
		hub:      hub,
		interval: interval,
		cron:     cron.New(),
		logger:   logger.With("component", "monitor-fallback"),
	}
}

// Start schedules the sweep.
func (f *Fallback) Start() error {
	_, err := f.cron.AddFunc(fmt.Sprintf("@every %s", f.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.interval)
		defer cancel()
		f.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling fallback sweep: %w", err)
	}
	f.cron.Start()
	f.logger.Info("fallback sweep scheduled", "interval", f.interval)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (f *Fallback) Stop(ctx context.Context) error {
	select {
	case <-f.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep analyzes every deploying deployment. Each item is independent: an
// analyzer error is logged and the sweep moves on.
func (f *Fallback) Sweep(ctx context.Context) {
	deployments, err := f.store.Deployments().ListByStatus(ctx, models.DeploymentStatusDeploying)
	if err != nil {
		f.logger.Error("failed to list deploying deployments", "error", err)
		return
	}

	for _, deployment := range deployments {
		verdict, err := f.analyzer.Analyze(ctx, deployment)
		if err != nil {
			f.logger.Warn("log analysis failed",
				"deployment_id", deployment.ID, "branch", deployment.Branch, "error", err)
			continue
		}

		var status models.DeploymentStatus
		var eventType string
		switch verdict {
		case VerdictSuccess:
			status = models.DeploymentStatusActive
			eventType = events.TypeDeploymentComplete
		case VerdictFailure:
			status = models.DeploymentStatusFailed
			eventType = events.TypeDeploymentFailed
		default:
			continue
		}

		if !deployment.Status.CanTransition(status) {
			continue
		}
		deployment.Status = status
		if err := f.store.Deployments().Update(ctx, deployment); err != nil {
			f.logger.Error("failed to update deployment status",
				"deployment_id", deployment.ID, "status", status, "error", err)
			continue
		}

		f.hub.Publish(events.Event{
			Type:   eventType,
			Branch: deployment.Branch,
			Payload: map[string]string{
				"deployment_id": deployment.ID,
				"status":        string(status),
				"source":        "fallback",
			},
		})
		f.logger.Info("fallback sweep updated deployment",
			"deployment_id", deployment.ID, "branch", deployment.Branch, "status", status)
	}
}
