package githubx

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/logging"
)

// stubRunner scripts gh invocations.
type stubRunner struct {
	output string
	err    error
	calls  [][]string
}

func (s *stubRunner) Run(_ context.Context, args ...string) (string, error) {
	s.calls = append(s.calls, args)
	return s.output, s.err
}

func newClient(r CommandRunner) *Client {
	return NewClient("acme", "widgets", logging.NewNop(), WithRunner(r))
}

func TestCreateIssueParsesNumberFromURL(t *testing.T) {
	runner := &stubRunner{output: "https://github.com/acme/widgets/issues/17\n"}
	n, err := newClient(runner).CreateIssue(context.Background(), core.CreateIssueOptions{
		Title:   "Add storage schema",
		Body:    "details",
		Labels:  []string{"sprint"},
		EpicRef: "epic-1",
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if n != 17 {
		t.Fatalf("number = %d, want 17", n)
	}

	args := runner.calls[0]
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--repo acme/widgets") {
		t.Errorf("repo flag missing: %v", args)
	}
	if !strings.Contains(joined, "--label epic:epic-1") {
		t.Errorf("epic label missing: %v", args)
	}
}

func TestCreatePullRequest(t *testing.T) {
	runner := &stubRunner{output: "https://github.com/acme/widgets/pull/42"}
	n, err := newClient(runner).CreatePullRequest(context.Background(),
		"Implement issue 3", "body", "issue-3-storage", "main")
	if err != nil {
		t.Fatalf("CreatePullRequest: %v", err)
	}
	if n != 42 {
		t.Fatalf("number = %d, want 42", n)
	}
}

func TestListOpenIssuesParsesJSON(t *testing.T) {
	runner := &stubRunner{output: `[
		{"number": 3, "title": "A", "body": "b", "state": "OPEN",
		 "labels": [{"name": "epic:epic-1"}], "url": "https://github.com/acme/widgets/issues/3"}
	]`}
	issues, err := newClient(runner).ListOpenIssues(context.Background(), "epic-1")
	if err != nil {
		t.Fatalf("ListOpenIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Number != 3 {
		t.Fatalf("issues = %+v", issues)
	}
	if len(issues[0].Labels) != 1 || issues[0].Labels[0] != "epic:epic-1" {
		t.Fatalf("labels = %v", issues[0].Labels)
	}
}

func TestVerifyAuth(t *testing.T) {
	runner := &stubRunner{output: "Logged in to github.com"}
	if err := newClient(runner).VerifyAuth(context.Background()); err != nil {
		t.Fatalf("VerifyAuth: %v", err)
	}
	if joined := strings.Join(runner.calls[0], " "); joined != "auth status" {
		t.Fatalf("gh args = %q, want auth status", joined)
	}

	runner = &stubRunner{err: errors.New("You are not logged into any GitHub hosts")}
	err := newClient(runner).VerifyAuth(context.Background())
	if err == nil {
		t.Fatal("expected error when gh is not authenticated")
	}
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("category = %v, want validation", core.GetCategory(err))
	}
}

func TestRateLimitMapsToRetryable(t *testing.T) {
	runner := &stubRunner{err: errors.New("gh: API rate limit exceeded for user")}
	_, err := newClient(runner).GetDiff(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if !core.IsRetryable(err) {
		t.Fatalf("rate limit not retryable: %v", err)
	}
	if !core.IsCategory(err, core.ErrCatTransient) {
		t.Fatalf("category = %v, want transient", core.GetCategory(err))
	}
}

func TestUnexpectedOutputIsAnError(t *testing.T) {
	runner := &stubRunner{output: "not a url"}
	_, err := newClient(runner).CreateIssue(context.Background(), core.CreateIssueOptions{Title: "t"})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMergeMethodFlags(t *testing.T) {
	for method, flag := range map[string]string{
		"":       "--squash",
		"squash": "--squash",
		"merge":  "--merge",
		"rebase": "--rebase",
	} {
		runner := &stubRunner{}
		if err := newClient(runner).MergePullRequest(context.Background(), 7, method); err != nil {
			t.Fatalf("MergePullRequest(%q): %v", method, err)
		}
		if joined := strings.Join(runner.calls[0], " "); !strings.Contains(joined, flag) {
			t.Errorf("method %q: args %v missing %s", method, runner.calls[0], flag)
		}
	}
}

func TestDryRunHostRoundTrip(t *testing.T) {
	ctx := context.Background()
	host := NewDryRunHost(logging.NewNop())

	n1, err := host.CreateIssue(ctx, core.CreateIssueOptions{Title: "one", EpicRef: "epic-1"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	n2, err := host.CreateIssue(ctx, core.CreateIssueOptions{Title: "two", EpicRef: "epic-2"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if n2 != n1+1 {
		t.Fatalf("numbers not sequential: %d then %d", n1, n2)
	}

	issues, err := host.ListOpenIssues(ctx, "epic-1")
	if err != nil {
		t.Fatalf("ListOpenIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Title != "one" {
		t.Fatalf("epic filter broken: %+v", issues)
	}

	if err := host.UpdateIssue(ctx, n1, "renamed", ""); err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
	issues, _ = host.ListOpenIssues(ctx, "epic-1")
	if issues[0].Title != "renamed" {
		t.Fatalf("update lost: %+v", issues[0])
	}

	if err := host.UpdateIssue(ctx, 999, "x", ""); err == nil {
		t.Fatal("expected not-found for unknown issue")
	}

	if err := host.MergePullRequest(ctx, 5, "squash"); err != nil {
		t.Fatalf("MergePullRequest: %v", err)
	}
}
