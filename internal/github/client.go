// Package github wraps the GitHub REST API for branch, file, and Actions
// workflow operations scoped to a single pool account's repository.
package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	"github.com/botgrid/control-plane/internal/models"
)

// Client performs provider operations against one account's repository.
type Client struct {
	gh           *gh.Client
	hc           *http.Client
	owner        string
	repo         string
	workflowFile string
	logger       *slog.Logger
}

// Option customizes a Client.
type Option func(*Client) error

// WithBaseURL points the client at a different API endpoint. Used in tests.
func WithBaseURL(raw string) Option {
	return func(c *Client) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing base URL: %w", err)
		}
		c.gh.BaseURL = u
		c.gh.UploadURL = u
		return nil
	}
}

// WithHTTPClient overrides the HTTP client used for log downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.hc = hc
		return nil
	}
}

// NewClient creates a client authenticated with the given token.
func NewClient(token, owner, repo, workflowFile string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)

	c := &Client{
		gh:           gh.NewClient(tc),
		hc:           tc,
		owner:        owner,
		repo:         repo,
		workflowFile: workflowFile,
		logger:       logger.With("component", "github", "repo", owner+"/"+repo),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Owner returns the repository owner this client operates on.
func (c *Client) Owner() string { return c.owner }

// Repo returns the repository name this client operates on.
func (c *Client) Repo() string { return c.repo }

// CheckRepoAccess verifies the token can see the repository.
func (c *Client) CheckRepoAccess(ctx context.Context) error {
	_, resp, err := c.gh.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrRepoNotFound
		}
		return wrapError(err)
	}
	return nil
}

// BranchExists reports whether a branch exists in the repository.
func (c *Client) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, resp, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "refs/heads/"+branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, wrapError(err)
	}
	return true, nil
}

// DefaultBranchSHA returns the head commit SHA of the repository's default branch.
func (c *Client) DefaultBranchSHA(ctx context.Context) (string, error) {
	repo, resp, err := c.gh.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", ErrRepoNotFound
		}
		return "", wrapError(err)
	}

	ref, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "refs/heads/"+repo.GetDefaultBranch())
	if err != nil {
		return "", wrapError(err)
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates a new branch pointing at the given commit SHA.
func (c *Client) CreateBranch(ctx context.Context, branch, sha string) error {
	ref := &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.String(sha)},
	}
	_, _, err := c.gh.Git.CreateRef(ctx, c.owner, c.repo, ref)
	return wrapError(err)
}

// DeleteBranch deletes a branch. A missing branch is reported via ErrRefNotFound.
func (c *Client) DeleteBranch(ctx context.Context, branch string) error {
	resp, err := c.gh.Git.DeleteRef(ctx, c.owner, c.repo, "refs/heads/"+branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrRefNotFound
		}
		return wrapError(err)
	}
	return nil
}

// GetFile fetches a file's decoded content and blob SHA from a branch.
func (c *Client) GetFile(ctx context.Context, branch, path string) (content, sha string, err error) {
	fc, _, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path,
		&gh.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", "", ErrRefNotFound
		}
		return "", "", wrapError(err)
	}
	if fc == nil {
		return "", "", fmt.Errorf("%s is a directory, not a file", path)
	}

	content, err = fc.GetContent()
	if err != nil {
		return "", "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, fc.GetSHA(), nil
}

// PutFile creates or updates a file on a branch. If the file already exists
// its blob SHA is looked up first so the write replaces it.
func (c *Client) PutFile(ctx context.Context, branch, path, message string, content []byte) error {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: content,
		Branch:  gh.String(branch),
	}

	_, sha, err := c.GetFile(ctx, branch, path)
	switch {
	case err == nil:
		opts.SHA = gh.String(sha)
		_, _, err = c.gh.Repositories.UpdateFile(ctx, c.owner, c.repo, path, opts)
	case IsNotFound(err):
		_, _, err = c.gh.Repositories.CreateFile(ctx, c.owner, c.repo, path, opts)
	default:
		return err
	}
	return wrapError(err)
}

// DispatchWorkflow triggers the account's workflow file on the given branch.
func (c *Client) DispatchWorkflow(ctx context.Context, branch string, inputs map[string]any) error {
	event := gh.CreateWorkflowDispatchEventRequest{
		Ref:    branch,
		Inputs: inputs,
	}
	_, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.owner, c.repo, c.workflowFile, event)
	return wrapError(err)
}

// LatestRun returns the most recent workflow run on a branch, or nil if the
// provider has not registered one yet.
func (c *Client) LatestRun(ctx context.Context, branch string) (*models.WorkflowRun, error) {
	runs, _, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, c.owner, c.repo, c.workflowFile,
		&gh.ListWorkflowRunsOptions{
			Branch:      branch,
			ListOptions: gh.ListOptions{PerPage: 1},
		})
	if err != nil {
		return nil, wrapError(err)
	}
	if len(runs.WorkflowRuns) == 0 {
		return nil, nil
	}

	run := runs.WorkflowRuns[0]
	return &models.WorkflowRun{
		ID:         run.GetID(),
		Branch:     run.GetHeadBranch(),
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
		URL:        run.GetHTMLURL(),
		CreatedAt:  run.GetCreatedAt().Time,
		UpdatedAt:  run.GetUpdatedAt().Time,
	}, nil
}

// CountActiveRuns returns the number of queued plus in-progress workflow runs
// across the whole repository. Used by the pool selector as a load signal.
func (c *Client) CountActiveRuns(ctx context.Context) (int, error) {
	total := 0
	for _, status := range []string{"queued", "in_progress"} {
		runs, _, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, c.owner, c.repo,
			&gh.ListWorkflowRunsOptions{
				Status:      status,
				ListOptions: gh.ListOptions{PerPage: 1},
			})
		if err != nil {
			return 0, wrapError(err)
		}
		total += runs.GetTotalCount()
	}
	return total, nil
}

// RunLogs downloads and concatenates the logs of all jobs in a workflow run.
func (c *Client) RunLogs(ctx context.Context, runID int64) (string, error) {
	jobs, _, err := c.gh.Actions.ListWorkflowJobs(ctx, c.owner, c.repo, runID,
		&gh.ListWorkflowJobsOptions{})
	if err != nil {
		return "", wrapError(err)
	}

	var sb strings.Builder
	for _, job := range jobs.Jobs {
		logs, err := c.jobLogs(ctx, job.GetID())
		if err != nil {
			c.logger.Warn("failed to fetch job logs", "job_id", job.GetID(), "error", err)
			continue
		}
		sb.WriteString(logs)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func (c *Client) jobLogs(ctx context.Context, jobID int64) (string, error) {
	logURL, _, err := c.gh.Actions.GetWorkflowJobLogs(ctx, c.owner, c.repo, jobID, 1)
	if err != nil {
		return "", wrapError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "log download failed"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
