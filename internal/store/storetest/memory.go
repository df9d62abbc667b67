// Package storetest provides an in-memory Store implementation for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/store"
	"github.com/botgrid/control-plane/internal/store/postgres"
)

// MemoryStore implements store.Store with maps. It is safe for concurrent
// use. WithTx runs the function directly without rollback, which is enough
// for code paths that validate before writing.
type MemoryStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	accounts     map[string]*models.GitHubAccount
	deployments  map[string]*models.Deployment
	variables    map[string]map[string]*models.DeploymentVariable
	transactions []*models.Transaction
	wallets      map[string]*models.Wallet
}

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*models.GitHubAccount),
		deployments: make(map[string]*models.Deployment),
		variables:   make(map[string]map[string]*models.DeploymentVariable),
		wallets:     make(map[string]*models.Wallet),
	}
}

func (m *MemoryStore) Accounts() store.GitHubAccountStore { return (*accountStore)(m) }

func (m *MemoryStore) Deployments() store.DeploymentStore { return (*deploymentStore)(m) }

func (m *MemoryStore) Variables() store.DeploymentVariableStore { return (*variableStore)(m) }

func (m *MemoryStore) Transactions() store.TransactionStore { return (*transactionStore)(m) }

func (m *MemoryStore) Wallets() store.WalletStore { return (*walletStore)(m) }

// WithTx serializes transactions against each other, mirroring the row
// locks GetForUpdate takes in the postgres store.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

func (m *MemoryStore) Close() error { return nil }

// SetBalance seeds a wallet balance for a test.
func (m *MemoryStore) SetBalance(userID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[userID] = &models.Wallet{UserID: userID, Balance: balance, UpdatedAt: time.Now().UTC()}
}

// TransactionsByType returns recorded ledger entries of the given type.
func (m *MemoryStore) TransactionsByType(txType models.TransactionType) []*models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for _, t := range m.transactions {
		if t.Type == txType {
			out = append(out, t)
		}
	}
	return out
}

type accountStore MemoryStore

func (s *accountStore) Create(ctx context.Context, a *models.GitHubAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *accountStore) Get(ctx context.Context, id string) (*models.GitHubAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *accountStore) List(ctx context.Context) ([]*models.GitHubAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.GitHubAccount
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *accountStore) ListActive(ctx context.Context) ([]*models.GitHubAccount, error) {
	all, _ := s.List(ctx)
	var out []*models.GitHubAccount
	for _, a := range all {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *accountStore) Update(ctx context.Context, a *models.GitHubAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return postgres.ErrNotFound
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *accountStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return postgres.ErrNotFound
	}
	t := at.UTC()
	a.LastUsed = &t
	return nil
}

func (s *accountStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return nil
}

type deploymentStore MemoryStore

func (s *deploymentStore) Create(ctx context.Context, d *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.deployments {
		if existing.Branch == d.Branch {
			return postgres.ErrDuplicateBranch
		}
	}
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *deploymentStore) Get(ctx context.Context, id string) (*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *deploymentStore) GetByBranch(ctx context.Context, branch string) (*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deployments {
		if d.Branch == branch {
			cp := *d
			return &cp, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (s *deploymentStore) ListByUser(ctx context.Context, userID string) ([]*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Deployment
	for _, d := range s.deployments {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *deploymentStore) ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Deployment
	for _, d := range s.deployments {
		if d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *deploymentStore) Update(ctx context.Context, d *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[d.ID]; !ok {
		return postgres.ErrNotFound
	}
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *deploymentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deployments, id)
	return nil
}

type variableStore MemoryStore

func (s *variableStore) Upsert(ctx context.Context, v *models.DeploymentVariable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.variables[v.DeploymentID] == nil {
		s.variables[v.DeploymentID] = make(map[string]*models.DeploymentVariable)
	}
	cp := *v
	s.variables[v.DeploymentID][v.Key] = &cp
	return nil
}

func (s *variableStore) ListByDeployment(ctx context.Context, deploymentID string) ([]*models.DeploymentVariable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeploymentVariable
	for _, v := range s.variables[deploymentID] {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *variableStore) Delete(ctx context.Context, deploymentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vars := s.variables[deploymentID]; vars != nil {
		delete(vars, key)
	}
	return nil
}

func (s *variableStore) DeleteByDeployment(ctx context.Context, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.variables, deploymentID)
	return nil
}

type transactionStore MemoryStore

func (s *transactionStore) Create(ctx context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, &cp)
	return nil
}

func (s *transactionStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*models.Transaction
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.transactions[i].UserID == userID {
			cp := *s.transactions[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type walletStore MemoryStore

func (s *walletStore) Get(ctx context.Context, userID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		w = &models.Wallet{UserID: userID, UpdatedAt: time.Now().UTC()}
		s.wallets[userID] = w
	}
	cp := *w
	return &cp, nil
}

func (s *walletStore) GetForUpdate(ctx context.Context, userID string) (*models.Wallet, error) {
	return s.Get(ctx, userID)
}

func (s *walletStore) Save(ctx context.Context, w *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	cp.UpdatedAt = time.Now().UTC()
	s.wallets[w.UserID] = &cp
	return nil
}
