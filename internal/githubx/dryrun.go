package githubx

import (
	"context"
	"sync"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/logging"
)

// DryRunHost is a local stand-in for GitHub. Numbers are minted in memory
// and every call succeeds, so full pipelines can run without touching a
// real repository.
type DryRunHost struct {
	log *logging.Logger

	mu     sync.Mutex
	nextNo int
	issues map[int]core.HostedIssue
}

// NewDryRunHost creates an empty dry-run host.
func NewDryRunHost(log *logging.Logger) *DryRunHost {
	return &DryRunHost{
		log:    log,
		nextNo: 1,
		issues: make(map[int]core.HostedIssue),
	}
}

func (h *DryRunHost) CreateIssue(_ context.Context, opts core.CreateIssueOptions) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.nextNo
	h.nextNo++
	labels := append([]string(nil), opts.Labels...)
	if opts.EpicRef != "" {
		labels = append(labels, "epic:"+opts.EpicRef)
	}
	h.issues[n] = core.HostedIssue{
		Number: n,
		Title:  opts.Title,
		Body:   opts.Body,
		State:  "open",
		Labels: labels,
	}
	h.log.Debug("dry-run: issue created", "number", n, "title", opts.Title)
	return n, nil
}

func (h *DryRunHost) UpdateIssue(_ context.Context, number int, title, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	issue, ok := h.issues[number]
	if !ok {
		return core.ErrNotFound("issue", "dry-run")
	}
	if title != "" {
		issue.Title = title
	}
	if body != "" {
		issue.Body = body
	}
	h.issues[number] = issue
	return nil
}

func (h *DryRunHost) ListOpenIssues(_ context.Context, epicRef string) ([]core.HostedIssue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []core.HostedIssue
	for _, issue := range h.issues {
		if issue.State != "open" {
			continue
		}
		if epicRef != "" && !hasLabel(issue.Labels, "epic:"+epicRef) {
			continue
		}
		out = append(out, issue)
	}
	return out, nil
}

func (h *DryRunHost) CreatePullRequest(_ context.Context, title, _, head, _ string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.nextNo
	h.nextNo++
	h.log.Debug("dry-run: pull request created", "number", n, "head", head, "title", title)
	return n, nil
}

func (h *DryRunHost) GetDiff(_ context.Context, prNumber int) (string, error) {
	h.log.Debug("dry-run: diff requested", "pr", prNumber)
	return "", nil
}

func (h *DryRunHost) MergePullRequest(_ context.Context, prNumber int, method string) error {
	h.log.Debug("dry-run: pull request merged", "pr", prNumber, "method", method)
	return nil
}

func (h *DryRunHost) PostComment(_ context.Context, targetNumber int, _ string) error {
	h.log.Debug("dry-run: comment posted", "target", targetNumber)
	return nil
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

var _ core.CodeHost = (*DryRunHost)(nil)
