package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/control-plane/internal/events"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/store/storetest"
)

type scriptedAnalyzer struct {
	verdicts map[string]Verdict
	errs     map[string]error
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, d *models.Deployment) (Verdict, error) {
	if err := a.errs[d.Branch]; err != nil {
		return VerdictUnknown, err
	}
	return a.verdicts[d.Branch], nil
}

func TestSweepAppliesVerdicts(t *testing.T) {
	st := storetest.New()
	seedDeployment(t, st, "up")
	seedDeployment(t, st, "down")
	seedDeployment(t, st, "pending")
	hub := events.NewHub(nil)

	f := NewFallback(st, &scriptedAnalyzer{verdicts: map[string]Verdict{
		"up":      VerdictSuccess,
		"down":    VerdictFailure,
		"pending": VerdictUnknown,
	}}, hub, time.Minute, nil)

	f.Sweep(context.Background())
	ctx := context.Background()

	up, err := st.Deployments().GetByBranch(ctx, "up")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusActive, up.Status)

	down, err := st.Deployments().GetByBranch(ctx, "down")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusFailed, down.Status)

	pending, err := st.Deployments().GetByBranch(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusDeploying, pending.Status)
}

func TestSweepContinuesPastAnalyzerErrors(t *testing.T) {
	st := storetest.New()
	seedDeployment(t, st, "broken")
	seedDeployment(t, st, "fine")
	hub := events.NewHub(nil)

	f := NewFallback(st, &scriptedAnalyzer{
		verdicts: map[string]Verdict{"fine": VerdictSuccess},
		errs:     map[string]error{"broken": errors.New("logs unavailable")},
	}, hub, time.Minute, nil)

	f.Sweep(context.Background())

	fine, err := st.Deployments().GetByBranch(context.Background(), "fine")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusActive, fine.Status,
		"one failing item must not stop the sweep")
}

// logScript wires a scripted run and log text through the KeywordAnalyzer.
type logScript struct {
	run  *models.WorkflowRun
	logs string
}

func (s *logScript) LatestRun(ctx context.Context, branch string) (*models.WorkflowRun, error) {
	return s.run, nil
}

func (s *logScript) RunLogs(ctx context.Context, runID int64) (string, error) {
	return s.logs, nil
}

type logScriptFactory struct{ script *logScript }

func (f *logScriptFactory) ForAccount(ctx context.Context, account *models.GitHubAccount) (LogFetcher, error) {
	return f.script, nil
}

func keywordFixture(t *testing.T, script *logScript) (*KeywordAnalyzer, *models.Deployment) {
	t.Helper()
	st := storetest.New()
	account := &models.GitHubAccount{ID: "acct-1", Active: true}
	require.NoError(t, st.Accounts().Create(context.Background(), account))
	d := seedDeployment(t, st, "bot-alpha")
	d.AccountID = account.ID
	require.NoError(t, st.Deployments().Update(context.Background(), d))

	a := NewKeywordAnalyzer(st.Accounts(), &logScriptFactory{script: script}, 10*time.Minute, nil)
	return a, d
}

func TestKeywordAnalyzerSuccess(t *testing.T) {
	a, d := keywordFixture(t, &logScript{
		run:  &models.WorkflowRun{ID: 1, Status: "in_progress", UpdatedAt: time.Now()},
		logs: "npm install done\nBot is ready, listening for commands",
	})

	verdict, err := a.Analyze(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, VerdictSuccess, verdict)
}

func TestKeywordAnalyzerFailureWinsOverSuccess(t *testing.T) {
	a, d := keywordFixture(t, &logScript{
		run:  &models.WorkflowRun{ID: 1, Status: "in_progress", UpdatedAt: time.Now()},
		logs: "bot is ready\nlater: Invalid session, shutting down",
	})

	verdict, err := a.Analyze(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, VerdictFailure, verdict)
}

func TestKeywordAnalyzerStaleRunFails(t *testing.T) {
	a, d := keywordFixture(t, &logScript{
		run: &models.WorkflowRun{
			ID:        1,
			Status:    "in_progress",
			UpdatedAt: time.Now().Add(-time.Hour),
		},
		logs: "still waiting",
	})

	verdict, err := a.Analyze(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, VerdictFailure, verdict)
}

func TestKeywordAnalyzerInconclusive(t *testing.T) {
	a, d := keywordFixture(t, &logScript{
		run:  &models.WorkflowRun{ID: 1, Status: "in_progress", UpdatedAt: time.Now()},
		logs: "npm install in progress",
	})

	verdict, err := a.Analyze(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, VerdictUnknown, verdict)
}
