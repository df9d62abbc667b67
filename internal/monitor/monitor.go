// Package monitor watches workflow runs for deploying branches and drives
// deployment status from their outcomes.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/botgrid/control-plane/internal/events"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/store"
	"github.com/botgrid/control-plane/internal/store/postgres"
)

// RunPoller reads the latest workflow run for a branch.
type RunPoller interface {
	LatestRun(ctx context.Context, branch string) (*models.WorkflowRun, error)
}

// ClientFactory builds a poller for a pool account.
type ClientFactory interface {
	ForAccount(ctx context.Context, account *models.GitHubAccount) (RunPoller, error)
}

// Config carries the monitor's polling knobs.
type Config struct {
	// PollInterval is the delay between run polls.
	PollInterval time.Duration
	// MaxAttempts bounds how many polls a single watch performs.
	MaxAttempts int
	// GraceDelay is the wait before the first poll, giving the provider time
	// to register the dispatched run.
	GraceDelay time.Duration
}

// Monitor owns one watch goroutine per branch. Starting a watch for a branch
// that already has one cancels the prior watch first; timers are never
// additive.
type Monitor struct {
	store   store.Store
	clients ClientFactory
	hub     *events.Hub
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	watches map[string]*watch
	wg      sync.WaitGroup
	closed  bool
}

// watch identifies one polling goroutine. The pointer doubles as an
// ownership token so a finished watch only evicts itself from the registry,
// never a replacement that took over its branch.
type watch struct {
	cancel context.CancelFunc
}

// New creates a monitor.
func New(st store.Store, clients ClientFactory, hub *events.Hub, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	return &Monitor{
		store:   st,
		clients: clients,
		hub:     hub,
		cfg:     cfg,
		logger:  logger.With("component", "monitor"),
		watches: make(map[string]*watch),
	}
}

// Watch begins polling the branch's workflow run. A prior watch for the same
// branch is cancelled.
func (m *Monitor) Watch(branch string, account *models.GitHubAccount) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if prior, ok := m.watches[branch]; ok {
		prior.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{cancel: cancel}
	m.watches[branch] = w
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, w, branch, account)
}

// WatchCount returns the number of active watches.
func (m *Monitor) WatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Shutdown cancels all watches and waits for their goroutines to exit.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, w := range m.watches {
		w.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) run(ctx context.Context, w *watch, branch string, account *models.GitHubAccount) {
	defer m.wg.Done()
	defer m.release(branch, w)

	client, err := m.clients.ForAccount(ctx, account)
	if err != nil {
		m.logger.Error("cannot monitor branch, client unavailable",
			"branch", branch, "error", err)
		return
	}

	if !m.sleep(ctx, m.cfg.GraceDelay) {
		return
	}

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		run, err := client.LatestRun(ctx, branch)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			m.logger.Warn("run poll failed", "branch", branch, "attempt", attempt, "error", err)
		case run != nil:
			m.hub.Publish(events.Event{
				Type:    events.TypeStatusUpdate,
				Branch:  branch,
				Payload: runPayload(run, attempt),
			})
			if run.Completed() {
				m.complete(branch, run)
				return
			}
		}

		// No sleep after the final poll; the timeout is reported right away.
		if attempt == m.cfg.MaxAttempts {
			break
		}
		if !m.sleep(ctx, m.cfg.PollInterval) {
			return
		}
	}

	m.logger.Warn("monitor attempt budget exhausted", "branch", branch, "attempts", m.cfg.MaxAttempts)
	m.transition(branch, models.DeploymentStatusFailed)
	m.hub.Publish(events.Event{
		Type:   events.TypeMonitorTimeout,
		Branch: branch,
		Payload: map[string]string{
			"attempts": strconv.Itoa(m.cfg.MaxAttempts),
		},
	})
}

func (m *Monitor) complete(branch string, run *models.WorkflowRun) {
	status := models.DeploymentStatusFailed
	eventType := events.TypeDeploymentFailed
	if run.Conclusion == "success" {
		status = models.DeploymentStatusActive
		eventType = events.TypeDeploymentComplete
	}

	m.transition(branch, status)
	m.hub.Publish(events.Event{
		Type:   eventType,
		Branch: branch,
		Payload: map[string]string{
			"run_id":     strconv.FormatInt(run.ID, 10),
			"conclusion": run.Conclusion,
			"url":        run.URL,
		},
	})
}

// transition moves the branch's deployment to the given status if the state
// machine allows it. Watches race with manual stops and deletes, so a missing
// record or a disallowed transition is not an error here.
func (m *Monitor) transition(branch string, status models.DeploymentStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deployment, err := m.store.Deployments().GetByBranch(ctx, branch)
	if errors.Is(err, postgres.ErrNotFound) {
		return
	}
	if err != nil {
		m.logger.Error("failed to load deployment", "branch", branch, "error", err)
		return
	}
	if !deployment.Status.CanTransition(status) {
		return
	}

	deployment.Status = status
	if err := m.store.Deployments().Update(ctx, deployment); err != nil {
		m.logger.Error("failed to update deployment status",
			"branch", branch, "status", status, "error", err)
	}
}

// release removes the branch's registry entry, but only if this watch still
// owns it. A replacement watch must not be evicted by its predecessor.
func (m *Monitor) release(branch string, w *watch) {
	w.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.watches[branch]; ok && current == w {
		delete(m.watches, branch)
	}
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func runPayload(run *models.WorkflowRun, attempt int) map[string]string {
	return map[string]string{
		"run_id":     strconv.FormatInt(run.ID, 10),
		"status":     run.Status,
		"conclusion": run.Conclusion,
		"url":        run.URL,
		"created_at": run.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": run.UpdatedAt.UTC().Format(time.RFC3339),
		"attempt":    strconv.Itoa(attempt),
	}
}
