// Package githubx implements the code-hosting port over the gh CLI. The CLI
// keeps authentication and API plumbing out of this process; a dry-run mode
// substitutes deterministic fakes for local pipelines.
package githubx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/logging"
)

// CommandRunner abstracts gh execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// Client talks to GitHub through gh, scoped to one repository.
type Client struct {
	runner  CommandRunner
	log     *logging.Logger
	owner   string
	repo    string
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRunner substitutes the command runner, for tests.
func WithRunner(r CommandRunner) Option {
	return func(c *Client) { c.runner = r }
}

// WithTimeout overrides the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for owner/repo.
func NewClient(owner, repo string, log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		runner:  &execRunner{},
		log:     log,
		owner:   owner,
		repo:    repo,
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VerifyAuth checks that gh is installed and authenticated.
func (c *Client) VerifyAuth(ctx context.Context) error {
	if _, err := c.run(ctx, "auth", "status"); err != nil {
		return core.ErrValidation("GH_NOT_AUTHENTICATED",
			"gh CLI is not authenticated, run 'gh auth login'")
	}
	return nil
}

func (c *Client) repoFlag() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

// run executes one gh command with the client timeout and maps failures
// onto domain error categories so the retry layer can act on them.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.runner.Run(ctx, args...)
	if err == nil {
		return strings.TrimSpace(out), nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return "", core.ErrTimeout("gh " + strings.Join(args, " ") + " timed out")
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "API rate limit"):
		return "", core.ErrTransient(core.CodeRateLimited, msg)
	case strings.Contains(msg, "connect") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporarily unavailable"):
		return "", core.ErrTransient(core.CodeGHUnavailable, msg)
	}
	return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
}

// CreateIssue opens an issue and returns its number.
func (c *Client) CreateIssue(ctx context.Context, opts core.CreateIssueOptions) (int, error) {
	args := []string{"issue", "create",
		"--repo", c.repoFlag(),
		"--title", opts.Title,
		"--body", opts.Body,
	}
	for _, label := range opts.Labels {
		args = append(args, "--label", label)
	}
	if opts.EpicRef != "" {
		args = append(args, "--label", "epic:"+opts.EpicRef)
	}

	// gh prints the new issue URL; the number is its last path segment.
	url, err := c.run(ctx, args...)
	if err != nil {
		return 0, err
	}
	return numberFromURL(url)
}

// UpdateIssue rewrites an issue's title and body.
func (c *Client) UpdateIssue(ctx context.Context, number int, title, body string) error {
	args := []string{"issue", "edit", strconv.Itoa(number), "--repo", c.repoFlag()}
	if title != "" {
		args = append(args, "--title", title)
	}
	if body != "" {
		args = append(args, "--body", body)
	}
	_, err := c.run(ctx, args...)
	return err
}

// ListOpenIssues returns open issues, optionally narrowed to one epic.
func (c *Client) ListOpenIssues(ctx context.Context, epicRef string) ([]core.HostedIssue, error) {
	args := []string{"issue", "list",
		"--repo", c.repoFlag(),
		"--state", "open",
		"--json", "number,title,body,state,labels,url",
		"--limit", "200",
	}
	if epicRef != "" {
		args = append(args, "--label", "epic:"+epicRef)
	}

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		State  string `json:"state"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parsing issue list: %w", err)
	}

	issues := make([]core.HostedIssue, 0, len(raw))
	for _, r := range raw {
		issue := core.HostedIssue{
			Number: r.Number,
			Title:  r.Title,
			Body:   r.Body,
			State:  r.State,
			URL:    r.URL,
		}
		for _, l := range r.Labels {
			issue.Labels = append(issue.Labels, l.Name)
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// CreatePullRequest opens a PR from head into base and returns its number.
func (c *Client) CreatePullRequest(ctx context.Context, title, body, head, base string) (int, error) {
	url, err := c.run(ctx, "pr", "create",
		"--repo", c.repoFlag(),
		"--title", title,
		"--body", body,
		"--head", head,
		"--base", base,
	)
	if err != nil {
		return 0, err
	}
	return numberFromURL(url)
}

// GetDiff returns the unified diff of a PR.
func (c *Client) GetDiff(ctx context.Context, prNumber int) (string, error) {
	return c.run(ctx, "pr", "diff", strconv.Itoa(prNumber), "--repo", c.repoFlag())
}

// MergePullRequest merges a PR. method is squash, merge or rebase.
func (c *Client) MergePullRequest(ctx context.Context, prNumber int, method string) error {
	flag := "--squash"
	switch method {
	case "merge":
		flag = "--merge"
	case "rebase":
		flag = "--rebase"
	}
	_, err := c.run(ctx, "pr", "merge", strconv.Itoa(prNumber),
		"--repo", c.repoFlag(), flag, "--delete-branch")
	return err
}

// PostComment adds a comment to an issue or PR.
func (c *Client) PostComment(ctx context.Context, targetNumber int, body string) error {
	_, err := c.run(ctx, "issue", "comment", strconv.Itoa(targetNumber),
		"--repo", c.repoFlag(), "--body", body)
	return err
}

func numberFromURL(url string) (int, error) {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return 0, fmt.Errorf("unexpected gh output %q", url)
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("unexpected gh output %q", url)
	}
	return n, nil
}

var _ core.CodeHost = (*Client)(nil)
