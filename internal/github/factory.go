package github

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/botgrid/control-plane/internal/models"
	"github.com/botgrid/control-plane/internal/secrets"
)

// Factory builds provider clients for pool accounts, decrypting each
// account's stored token on demand.
type Factory struct {
	cipher *secrets.TokenCipher
	logger *slog.Logger
	opts   []Option
}

// NewFactory creates a client factory. The extra options are applied to every
// client it builds, which lets tests redirect clients at a local server.
func NewFactory(cipher *secrets.TokenCipher, logger *slog.Logger, opts ...Option) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cipher: cipher,
		logger: logger,
		opts:   opts,
	}
}

// ForAccount returns a client authenticated as the given account.
func (f *Factory) ForAccount(ctx context.Context, account *models.GitHubAccount) (*Client, error) {
	token, err := f.cipher.DecryptString(ctx, account.Token)
	if err != nil {
		return nil, fmt.Errorf("decrypting token for account %s: %w", account.ID, err)
	}

	return NewClient(token, account.RepoOwner, account.RepoName, account.WorkflowFile, f.logger, f.opts...)
}
