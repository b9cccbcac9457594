package preflight

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GithubStatus reads combined commit statuses from the GitHub API.
type GithubStatus struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGithubStatus creates an authenticated status reader for owner/repo.
func NewGithubStatus(ctx context.Context, token, owner, repo string) *GithubStatus {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	return &GithubStatus{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		owner:  owner,
		repo:   repo,
	}
}

// SetBaseURL points the client at another API endpoint, e.g. GitHub
// Enterprise or a test server.
func (g *GithubStatus) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid GitHub API url: %w", err)
	}
	g.client.BaseURL = u
	return nil
}

func (g *GithubStatus) CombinedStatus(ctx context.Context, ref string) (string, error) {
	status, _, err := g.client.Repositories.GetCombinedStatus(ctx, g.owner, g.repo, ref, nil)
	if err != nil {
		return "", fmt.Errorf("fetching combined status for %s: %w", ref, err)
	}
	return status.GetState(), nil
}
