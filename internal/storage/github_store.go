package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
	"github.com/webmemo-code/flickr-to-instagram-automation/pkg/httpclient"
)

// GitHubOptions configures the GitHub Contents API backend.
type GitHubOptions struct {
	// Repo is the full "owner/name" repository holding the state branch.
	Repo   string
	Token  string
	Branch string
	// BaseURL overrides the API host (tests point it at a local server).
	BaseURL string
	Timeout time.Duration
	Log     logger.Logger
}

// githubDocs stores each state document as one JSON file on a dedicated
// branch, committed through the GitHub Contents API. The blob SHA GitHub
// returns with every read doubles as the optimistic-concurrency token: a
// PUT carrying a stale SHA is rejected by the API, which we surface as
// ErrConcurrentModification. Each commit is atomic on GitHub's side, so a
// transport failure mid-write leaves the previous file version intact.
type githubDocs struct {
	client *resty.Client
	repo   string
	branch string
	log    logger.Logger
}

const defaultGitHubAPI = "https://api.github.com"

func newGitHubStore(opts GitHubOptions) (StateStore, error) {
	if strings.TrimSpace(opts.Repo) == "" || strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("github storage requires repo and token")
	}
	if opts.Branch == "" {
		opts.Branch = "automation-state"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultGitHubAPI
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logger.NopLogger{}
	}

	client := httpclient.NewRestyHTTPClient(opts.Timeout)
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetHeader("Accept", "application/vnd.github+json")
	client.SetHeader("Authorization", "Bearer "+opts.Token)

	store := &githubDocs{
		client: client,
		repo:   opts.Repo,
		branch: opts.Branch,
		log:    opts.Log,
	}
	if err := store.ensureBranch(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure state branch: %w", err)
	}
	return &typedStore{docs: store}, nil
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

type putContentsResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (g *githubDocs) read(ctx context.Context, account, albumID string, kind DocumentKind) ([]byte, Version, error) {
	path := docKey(account, albumID, kind)
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("ref", g.branch).
		Get(fmt.Sprintf("/repos/%s/contents/%s", g.repo, path))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, "", nil
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("read %s: status %d: %s", path, resp.StatusCode(), bodySnippet(resp.Body()))
	}

	var contents contentsResponse
	if err := json.Unmarshal(resp.Body(), &contents); err != nil {
		return nil, "", fmt.Errorf("decode contents response for %s: %w", path, err)
	}
	// The Contents API wraps base64 payloads across lines.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(contents.Content, "\n", ""))
	if err != nil {
		return nil, "", fmt.Errorf("decode %s payload: %w", path, err)
	}
	return raw, Version(contents.SHA), nil
}

func (g *githubDocs) write(ctx context.Context, account, albumID string, kind DocumentKind, data []byte, expected Version) (Version, error) {
	path := docKey(account, albumID, kind)

	body := map[string]string{
		"message": fmt.Sprintf("Update %s for %s/album-%s", kind, account, albumID),
		"content": base64.StdEncoding.EncodeToString(data),
		"branch":  g.branch,
	}
	if expected != "" {
		body["sha"] = string(expected)
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		Put(fmt.Sprintf("/repos/%s/contents/%s", g.repo, path))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// Stale or missing SHA: someone else committed since our read.
		g.log.WarnObj("state document write conflict", "storage_conflict", map[string]any{
			"path":   path,
			"status": resp.StatusCode(),
		})
		return "", fmt.Errorf("write %s: %w", path, ErrConcurrentModification)
	default:
		return "", fmt.Errorf("write %s: status %d: %s", path, resp.StatusCode(), bodySnippet(resp.Body()))
	}

	var put putContentsResponse
	if err := json.Unmarshal(resp.Body(), &put); err != nil {
		return "", fmt.Errorf("decode write response for %s: %w", path, err)
	}
	return Version(put.Content.SHA), nil
}

func (g *githubDocs) Close() error { return nil }

// ensureBranch creates the state branch from the repository default branch
// when it does not exist yet.
func (g *githubDocs) ensureBranch(ctx context.Context) error {
	resp, err := g.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/repos/%s/branches/%s", g.repo, g.branch))
	if err != nil {
		return fmt.Errorf("check branch %s: %w", g.branch, err)
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	if resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("check branch %s: status %d", g.branch, resp.StatusCode())
	}

	var repoInfo struct {
		DefaultBranch string `json:"default_branch"`
	}
	resp, err = g.client.R().SetContext(ctx).Get(fmt.Sprintf("/repos/%s", g.repo))
	if err != nil {
		return fmt.Errorf("read repository: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("read repository: status %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &repoInfo); err != nil {
		return fmt.Errorf("decode repository response: %w", err)
	}

	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	resp, err = g.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/repos/%s/git/ref/heads/%s", g.repo, repoInfo.DefaultBranch))
	if err != nil {
		return fmt.Errorf("read default branch ref: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("read default branch ref: status %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), &ref); err != nil {
		return fmt.Errorf("decode ref response: %w", err)
	}

	resp, err = g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"ref": "refs/heads/" + g.branch,
			"sha": ref.Object.SHA,
		}).
		Post(fmt.Sprintf("/repos/%s/git/refs", g.repo))
	if err != nil {
		return fmt.Errorf("create branch %s: %w", g.branch, err)
	}
	// 422 means another run created it between our check and the post.
	if resp.IsError() && resp.StatusCode() != http.StatusUnprocessableEntity {
		return fmt.Errorf("create branch %s: status %d", g.branch, resp.StatusCode())
	}

	g.log.InfoObj("state branch created", "storage_branch", map[string]any{
		"repo":   g.repo,
		"branch": g.branch,
	})
	return nil
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		return s[:512] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
