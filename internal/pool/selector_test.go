package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/control-plane/internal/models"
)

// fakeAccountStore implements store.GitHubAccountStore over a slice.
type fakeAccountStore struct {
	accounts []*models.GitHubAccount
	updated  []*models.GitHubAccount
}

func (f *fakeAccountStore) Create(ctx context.Context, a *models.GitHubAccount) error { return nil }

func (f *fakeAccountStore) Get(ctx context.Context, id string) (*models.GitHubAccount, error) {
	for _, a := range f.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeAccountStore) List(ctx context.Context) ([]*models.GitHubAccount, error) {
	return f.accounts, nil
}

func (f *fakeAccountStore) ListActive(ctx context.Context) ([]*models.GitHubAccount, error) {
	var active []*models.GitHubAccount
	for _, a := range f.accounts {
		if a.Active {
			active = append(active, a)
		}
	}
	return active, nil
}

func (f *fakeAccountStore) Update(ctx context.Context, a *models.GitHubAccount) error {
	f.updated = append(f.updated, a)
	return nil
}

func (f *fakeAccountStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (f *fakeAccountStore) Delete(ctx context.Context, id string) error { return nil }

func account(id string, active bool, lastUsed *time.Time) *models.GitHubAccount {
	return &models.GitHubAccount{
		ID:       id,
		Name:     id,
		Active:   active,
		LastUsed: lastUsed,
	}
}

func staticLoad(loads map[string]int) LoadFunc {
	return func(ctx context.Context, a *models.GitHubAccount) (int, error) {
		n, ok := loads[a.ID]
		if !ok {
			return 0, errors.New("load unavailable")
		}
		return n, nil
	}
}

func TestSelectFirstUnderThreshold(t *testing.T) {
	st := &fakeAccountStore{accounts: []*models.GitHubAccount{
		account("a", true, nil),
		account("b", true, nil),
	}}
	sel := NewSelector(st, staticLoad(map[string]int{"a": 7, "b": 2}), 5, nil)

	chosen, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", chosen.ID)
	assert.Equal(t, 2, chosen.QueueLength)
	require.Len(t, st.updated, 1)
	assert.NotNil(t, st.updated[0].LastUsed)
}

func TestSelectEqualLoadPrefersLeastRecentlyUsed(t *testing.T) {
	old := time.Now().Add(-3 * time.Hour)
	recent := time.Now().Add(-10 * time.Minute)
	st := &fakeAccountStore{accounts: []*models.GitHubAccount{
		account("recent", true, &recent),
		account("old", true, &old),
		account("never", true, nil),
	}}
	sel := NewSelector(st, staticLoad(map[string]int{"recent": 0, "old": 0, "never": 0}), 5, nil)

	chosen, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "never", chosen.ID)

	// The winner's lastUsed is now set, so the next pick rotates.
	st.accounts[2].LastUsed = st.updated[0].LastUsed
	chosen, err = sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", chosen.ID)
}

func TestSelectAllBusyPicksLeastRecentlyUsed(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-5 * time.Minute)
	st := &fakeAccountStore{accounts: []*models.GitHubAccount{
		account("recent", true, &recent),
		account("old", true, &old),
	}}
	sel := NewSelector(st, staticLoad(map[string]int{"recent": 9, "old": 8}), 5, nil)

	chosen, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", chosen.ID)
}

func TestSelectNeverUsedBeatsUsedWhenAllBusy(t *testing.T) {
	used := time.Now().Add(-24 * time.Hour)
	st := &fakeAccountStore{accounts: []*models.GitHubAccount{
		account("used", true, &used),
		account("fresh", true, nil),
	}}
	sel := NewSelector(st, staticLoad(map[string]int{"used": 6, "fresh": 6}), 5, nil)

	chosen, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", chosen.ID)
}

func TestSelectSkipsAccountsWithFailedLoadCheck(t *testing.T) {
	st := &fakeAccountStore{accounts: []*models.GitHubAccount{
		account("broken", true, nil),
		account("ok", true, nil),
	}}
	// "broken" has no load entry, so its check fails.
	sel := NewSelector(st, staticLoad(map[string]int{"ok": 0}), 5, nil)

	chosen, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", chosen.ID)
}

func TestSelectNoActiveAccounts(t *testing.T) {
	st := &fakeAccountStore{accounts: []*models.GitHubAccount{
		account("disabled", false, nil),
	}}
	sel := NewSelector(st, staticLoad(nil), 5, nil)

	_, err := sel.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoAccounts)
}

func TestSelectAllLoadChecksFailed(t *testing.T) {
	st := &fakeAccountStore{accounts: []*models.GitHubAccount{
		account("a", true, nil),
		account("b", true, nil),
	}}
	sel := NewSelector(st, staticLoad(nil), 5, nil)

	_, err := sel.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoAccounts)
}
