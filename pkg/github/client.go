package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.github.com"

// ErrNoToken is returned when hosting operations run without a configured token.
var ErrNoToken = errors.New("github token required")

// Publication identifies where a build attempt landed.
type Publication struct {
	RepoURL   string
	CommitSHA string
	PagesURL  string
}

// Repo is the subset of the repository API response the publisher needs.
type Repo struct {
	Owner    string
	Name     string
	HTMLURL  string
	CloneURL string
}

// Client talks to the GitHub REST API and drives git for push/clone. It is
// the publication collaborator: it turns a generated workspace into a hosted,
// publicly reachable site.
type Client struct {
	apiBase    string
	token      string
	owner      string
	httpClient *http.Client

	pagesTimeout time.Duration
	pagesPoll    time.Duration
}

// NewClient creates a hosting client. owner is optional; when set, repos are
// created under that org instead of the authenticated user.
func NewClient(token, owner string) *Client {
	return &Client{
		apiBase: defaultAPIBase,
		token:   token,
		owner:   owner,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		pagesTimeout: 5 * time.Minute,
		pagesPoll:    5 * time.Second,
	}
}

// RepoName converts a task name into a safe repository name.
func RepoName(taskName string) string {
	return strings.ToLower(strings.ReplaceAll(taskName, " ", "-"))
}

// RepoURL returns the canonical web URL for a repository.
func RepoURL(owner, name string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, name)
}

// PagesURL returns the published-site URL for a repository.
func PagesURL(owner, name string) string {
	return fmt.Sprintf("https://%s.github.io/%s/", owner, name)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create github request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// AuthenticatedUser returns the login the token belongs to.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("get authenticated user failed: %s", strings.TrimSpace(string(payload)))
	}

	var out struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode user response: %w", err)
	}
	return out.Login, nil
}

// CreateRepo creates a public repository, treating "already exists" (422) as
// success so repeated rounds against the same task converge on one repo.
func (c *Client) CreateRepo(ctx context.Context, name string) (Repo, error) {
	path := "/user/repos"
	if c.owner != "" {
		path = fmt.Sprintf("/orgs/%s/repos", c.owner)
	}

	resp, err := c.do(ctx, http.MethodPost, path, map[string]any{
		"name":      name,
		"private":   false,
		"auto_init": false,
	})
	if err != nil {
		return Repo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		owner := c.owner
		if owner == "" {
			owner, err = c.AuthenticatedUser(ctx)
			if err != nil {
				return Repo{}, fmt.Errorf("resolve owner for existing repo: %w", err)
			}
		}
		return Repo{
			Owner:    owner,
			Name:     name,
			HTMLURL:  RepoURL(owner, name),
			CloneURL: RepoURL(owner, name) + ".git",
		}, nil
	}

	if resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Repo{}, fmt.Errorf("create repo failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out struct {
		Name     string `json:"name"`
		HTMLURL  string `json:"html_url"`
		CloneURL string `json:"clone_url"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Repo{}, fmt.Errorf("decode repo response: %w", err)
	}

	return Repo{
		Owner:    out.Owner.Login,
		Name:     out.Name,
		HTMLURL:  out.HTMLURL,
		CloneURL: out.CloneURL,
	}, nil
}

// EnablePages configures GitHub Pages to serve main/ at the root. The API
// answers 422 when Pages is already configured; callers treat any error here
// as non-fatal and keep polling the site.
func (c *Client) EnablePages(ctx context.Context, owner, name string) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pages", owner, name), map[string]any{
		"source": map[string]string{"branch": "main", "path": "/"},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("enable pages returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return nil
}

// WaitForPages polls the published URL until it answers 200 or the window
// closes. The outcome is advisory: a slow Pages rollout does not fail a build.
func (c *Client) WaitForPages(ctx context.Context, pagesURL string) bool {
	deadline := time.Now().Add(c.pagesTimeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pagesURL, nil)
		if err != nil {
			return false
		}
		resp, err := c.httpClient.Do(req)
		if err == nil {
			status := resp.StatusCode
			resp.Body.Close()
			if status == http.StatusOK {
				return true
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.pagesPoll):
		}
	}
	return false
}

// CreateFromDir creates (or reuses) the repository for the task, pushes the
// workspace as the main branch, and publishes Pages.
func (c *Client) CreateFromDir(ctx context.Context, dir, taskName string) (Publication, error) {
	repo, err := c.CreateRepo(ctx, RepoName(taskName))
	if err != nil {
		return Publication{}, err
	}

	if err := initAndCommit(ctx, dir); err != nil {
		return Publication{}, err
	}

	if err := c.pushInitial(ctx, dir, repo.CloneURL); err != nil {
		return Publication{}, err
	}

	sha, err := headSHA(ctx, dir)
	if err != nil {
		return Publication{}, err
	}

	pagesURL := PagesURL(repo.Owner, repo.Name)
	if err := c.EnablePages(ctx, repo.Owner, repo.Name); err != nil {
		log.Printf("enable pages for %s/%s: %v", repo.Owner, repo.Name, err)
	}
	if !c.WaitForPages(ctx, pagesURL) {
		log.Printf("pages for %s/%s not reachable yet, continuing", repo.Owner, repo.Name)
	}

	return Publication{RepoURL: repo.HTMLURL, CommitSHA: sha, PagesURL: pagesURL}, nil
}

// Clone fetches an existing repository into dir and strips the token from the
// recorded remote afterwards.
func (c *Client) Clone(ctx context.Context, owner, name, dir string) error {
	if c.token == "" {
		return ErrNoToken
	}
	httpsURL := RepoURL(owner, name) + ".git"
	if err := clone(ctx, c.tokenURL(httpsURL), dir); err != nil {
		return err
	}
	return setRemote(ctx, dir, httpsURL)
}

// CommitAndPush stages everything in dir, commits (tolerating an empty
// diff), pushes main, and returns the resulting HEAD sha. A rejected push is
// retried with a token-authenticated force push.
func (c *Client) CommitAndPush(ctx context.Context, dir, message string) (string, error) {
	if err := commitAll(ctx, dir, message); err != nil {
		return "", err
	}

	if err := push(ctx, dir, false); err != nil {
		log.Printf("push failed, attempting token-authenticated force push: %v", err)
		if err := c.forcePushWithToken(ctx, dir); err != nil {
			return "", err
		}
	}

	return headSHA(ctx, dir)
}

func (c *Client) pushInitial(ctx context.Context, dir, cloneURL string) error {
	if c.token == "" {
		return ErrNoToken
	}

	tokenURL := c.tokenURL(cloneURL)
	if err := ensureRemote(ctx, dir, tokenURL); err != nil {
		return err
	}

	if err := pushUpstream(ctx, dir, false); err != nil {
		log.Printf("push failed, attempting force push: %v", err)
		if err := pushUpstream(ctx, dir, true); err != nil {
			return err
		}
	}

	// Strip the token from the recorded remote.
	return setRemote(ctx, dir, cloneURL)
}

func (c *Client) forcePushWithToken(ctx context.Context, dir string) error {
	httpsURL, err := remoteURL(ctx, dir)
	if err != nil || !strings.HasPrefix(httpsURL, "https://") {
		return push(ctx, dir, true)
	}

	if err := setRemote(ctx, dir, c.tokenURL(httpsURL)); err != nil {
		return err
	}
	pushErr := push(ctx, dir, true)
	if err := setRemote(ctx, dir, httpsURL); err != nil {
		log.Printf("restore remote url: %v", err)
	}
	return pushErr
}

func (c *Client) tokenURL(httpsURL string) string {
	return strings.Replace(httpsURL, "https://", fmt.Sprintf("https://%s@", c.token), 1)
}
