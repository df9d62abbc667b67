package deploy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/control-plane/internal/events"
	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/notify"
	"github.com/botgrid/control-plane/internal/store/storetest"
	"github.com/botgrid/control-plane/internal/wallet"
)

var errRefGone = errors.New("ref not found")

// fakeClient scripts provider behavior per operation.
type fakeClient struct {
	branchExists    bool
	repoAccessErr   error
	branchCheckErr  error
	createBranchErr error
	putFileErr      map[string]error // path -> error
	dispatchErr     error
	deleteBranchErr error

	createdBranches []string
	putFiles        map[string][]byte
	dispatched      []string
	deletedBranches []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		putFileErr: make(map[string]error),
		putFiles:   make(map[string][]byte),
	}
}

func (c *fakeClient) CheckRepoAccess(ctx context.Context) error { return c.repoAccessErr }

func (c *fakeClient) BranchExists(ctx context.Context, branch string) (bool, error) {
	return c.branchExists, c.branchCheckErr
}

func (c *fakeClient) DefaultBranchSHA(ctx context.Context) (string, error) {
	return "headsha", nil
}

func (c *fakeClient) CreateBranch(ctx context.Context, branch, sha string) error {
	if c.createBranchErr != nil {
		return c.createBranchErr
	}
	c.createdBranches = append(c.createdBranches, branch)
	return nil
}

func (c *fakeClient) DeleteBranch(ctx context.Context, branch string) error {
	if c.deleteBranchErr != nil {
		return c.deleteBranchErr
	}
	c.deletedBranches = append(c.deletedBranches, branch)
	return nil
}

func (c *fakeClient) PutFile(ctx context.Context, branch, path, message string, content []byte) error {
	if err := c.putFileErr[path]; err != nil {
		return err
	}
	c.putFiles[path] = content
	return nil
}

func (c *fakeClient) DispatchWorkflow(ctx context.Context, branch string, inputs map[string]any) error {
	if c.dispatchErr != nil {
		return c.dispatchErr
	}
	c.dispatched = append(c.dispatched, branch)
	return nil
}

type fakeFactory struct {
	client *fakeClient
	err    error
}

func (f *fakeFactory) ForAccount(ctx context.Context, account *models.GitHubAccount) (Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type fakeSelector struct {
	account *models.GitHubAccount
	err     error
}

func (s *fakeSelector) Select(ctx context.Context) (*models.GitHubAccount, error) {
	return s.account, s.err
}

type fakeWatcher struct {
	watched []string
}

func (w *fakeWatcher) Watch(branch string, account *models.GitHubAccount) {
	w.watched = append(w.watched, branch)
}

type fixture struct {
	store   *storetest.MemoryStore
	wallet  *wallet.Service
	client  *fakeClient
	watcher *fakeWatcher
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := storetest.New()
	w := wallet.NewService(st, nil)
	client := newFakeClient()
	watcher := &fakeWatcher{}
	account := &models.GitHubAccount{
		ID:           "acct-1",
		Name:         "pool-1",
		RepoOwner:    "acme",
		RepoName:     "bots",
		WorkflowFile: "deploy.yml",
		Active:       true,
	}
	require.NoError(t, st.Accounts().Create(context.Background(), account))

	m := NewManager(
		st, w,
		&fakeSelector{account: account},
		&fakeFactory{client: client},
		watcher,
		events.NewHub(nil),
		notify.NewLogNotifier(nil),
		func(err error) bool { return errors.Is(err, errRefGone) },
		Config{Fee: 25, DailyCharge: 10, ChargePeriod: 24 * time.Hour},
		nil,
	)
	return &fixture{store: st, wallet: w, client: client, watcher: watcher, manager: m}
}

func validInput() CreateInput {
	return CreateInput{
		UserID:      "u1",
		Name:        "My Bot",
		SessionID:   "sess-123",
		OwnerNumber: "15551234567",
		Prefix:      "!",
	}
}

func TestCreateSuccess(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)
	ctx := context.Background()

	d, err := f.manager.Create(ctx, validInput())
	require.NoError(t, err)

	assert.Equal(t, "My-Bot", d.Branch)
	assert.Equal(t, models.DeploymentStatusDeploying, d.Status)
	assert.Equal(t, int64(10), d.Cost)
	assert.WithinDuration(t, d.LastChargeDate.Add(24*time.Hour), d.NextChargeDate, time.Second)

	balance, err := f.wallet.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance)

	assert.Equal(t, []string{"My-Bot"}, f.client.createdBranches)
	assert.Contains(t, f.client.putFiles, "config.env")
	assert.Contains(t, f.client.putFiles, ".github/workflows/deploy.yml")
	assert.Equal(t, []string{"My-Bot"}, f.client.dispatched)
	assert.Equal(t, []string{"My-Bot"}, f.watcher.watched)

	fees := f.store.TransactionsByType(models.TransactionDeploymentFee)
	require.Len(t, fees, 1)
	assert.Equal(t, int64(-25), fees[0].Amount)
}

func TestCreateBranchTakenNoCharge(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)
	f.client.branchExists = true
	ctx := context.Background()

	_, err := f.manager.Create(ctx, validInput())
	assert.ErrorIs(t, err, ErrBranchTaken)

	balance, err := f.wallet.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "a rejected create must never touch the balance")
	assert.Empty(t, f.store.TransactionsByType(models.TransactionDeploymentFee))
}

func TestCreateRefundOnProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)
	f.client.putFileErr["config.env"] = errors.New("boom")
	ctx := context.Background()

	_, err := f.manager.Create(ctx, validInput())
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "write config", provErr.Op)

	balance, err := f.wallet.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "failed create must net to zero")

	fees := f.store.TransactionsByType(models.TransactionDeploymentFee)
	refunds := f.store.TransactionsByType(models.TransactionDeploymentRefund)
	require.Len(t, fees, 1)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(0), fees[0].Amount+refunds[0].Amount)

	deployments, err := f.store.Deployments().ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, deployments, "no record persists for a failed create")
}

func TestCreateInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 5)

	_, err := f.manager.Create(context.Background(), validInput())
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	assert.Empty(t, f.client.createdBranches, "no provider call before the funds check passes")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)

	for _, mutate := range []func(*CreateInput){
		func(in *CreateInput) { in.SessionID = "" },
		func(in *CreateInput) { in.OwnerNumber = "" },
		func(in *CreateInput) { in.Prefix = "" },
		func(in *CreateInput) { in.Name = "" },
		func(in *CreateInput) { in.Name = "..." },
	} {
		in := validInput()
		mutate(&in)
		_, err := f.manager.Create(context.Background(), in)
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	}

	balance, err := f.wallet.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestRedeployMergesVariables(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)
	ctx := context.Background()

	d, err := f.manager.Create(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, f.store.Variables().Upsert(ctx, &models.DeploymentVariable{
		ID: "v1", DeploymentID: d.ID, Key: "PREFIX", Value: "#",
	}))
	require.NoError(t, f.store.Variables().Upsert(ctx, &models.DeploymentVariable{
		ID: "v2", DeploymentID: d.ID, Key: "EXTRA", Value: "yes",
	}))

	require.NoError(t, f.manager.Redeploy(ctx, d.ID))

	content := string(f.client.putFiles["config.env"])
	assert.Contains(t, content, "PREFIX=#", "stored variable overrides the default")
	assert.Contains(t, content, "EXTRA=yes")
	assert.Contains(t, content, "SESSION_ID=sess-123")
	assert.Equal(t, 2, len(f.client.dispatched), "redeploy re-triggers the workflow")

	// No additional fee is charged.
	fees := f.store.TransactionsByType(models.TransactionDeploymentFee)
	assert.Len(t, fees, 1)
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)
	ctx := context.Background()

	d, err := f.manager.Create(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, f.manager.Delete(ctx, d.ID))
	assert.Equal(t, []string{"My-Bot"}, f.client.deletedBranches)

	// Second delete: the record is gone, and that is fine.
	require.NoError(t, f.manager.Delete(ctx, d.ID))
}

func TestDeleteSucceedsWhenBranchAlreadyGone(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)
	ctx := context.Background()

	d, err := f.manager.Create(ctx, validInput())
	require.NoError(t, err)

	f.client.deleteBranchErr = errRefGone
	require.NoError(t, f.manager.Delete(ctx, d.ID))

	_, err = f.manager.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesVariables(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)
	ctx := context.Background()

	d, err := f.manager.Create(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, f.store.Variables().Upsert(ctx, &models.DeploymentVariable{
		ID: "v1", DeploymentID: d.ID, Key: "EXTRA", Value: "yes",
	}))

	require.NoError(t, f.manager.Delete(ctx, d.ID))

	vars, err := f.store.Variables().ListByDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestStopTransitions(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance("u1", 100)
	ctx := context.Background()

	d, err := f.manager.Create(ctx, validInput())
	require.NoError(t, err)

	// deploying -> stopped is not a legal transition.
	err = f.manager.Stop(ctx, d.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	d.Status = models.DeploymentStatusActive
	require.NoError(t, f.store.Deployments().Update(ctx, d))

	require.NoError(t, f.manager.Stop(ctx, d.ID))
	got, err := f.manager.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStatusStopped, got.Status)
}

func TestRenderedWorkflowReferencesBranch(t *testing.T) {
	out, err := renderWorkflow("My-Bot", "deploy.yml")
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, "gh workflow run deploy.yml --ref My-Bot")
	assert.True(t, strings.Contains(s, "workflow_dispatch"))
	assert.Contains(t, s, "cancel-in-progress: true")
}
