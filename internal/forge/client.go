package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Item is an open issue or pull request as the stale sweep sees it.
type Item struct {
	Number        int
	Title         string
	Labels        []string
	UpdatedAt     time.Time
	IsPullRequest bool
}

// Client talks to a GitHub-shaped forge REST API. Transient failures and 429s
// are retried with backoff by the underlying client; other 4xx are terminal.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	repo    string // owner/name
}

func NewClient(baseURL, token, repo string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.Logger = nil
	return &Client{
		http:    rc.StandardClient(),
		baseURL: baseURL,
		token:   token,
		repo:    repo,
	}
}

type issuePayload struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	UpdatedAt   time.Time `json:"updated_at"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
	Labels      []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

// ListOpenItems returns every open issue and pull request in the repository,
// following pagination until a short page.
func (c *Client) ListOpenItems(ctx context.Context) ([]Item, error) {
	const perPage = 100
	var items []Item
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/issues?state=open&per_page=%d&page=%d", c.repo, perPage, page)
		data, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var payload []issuePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parsing issues page %d: %w", page, err)
		}
		for _, p := range payload {
			item := Item{
				Number:        p.Number,
				Title:         p.Title,
				UpdatedAt:     p.UpdatedAt,
				IsPullRequest: p.PullRequest != nil,
			}
			for _, l := range p.Labels {
				item.Labels = append(item.Labels, l.Name)
			}
			items = append(items, item)
		}
		if len(payload) < perPage {
			return items, nil
		}
	}
}

// AddLabel attaches a label to an issue or pull request.
func (c *Client) AddLabel(ctx context.Context, number int, label string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/labels", c.repo, number)
	_, err := c.do(ctx, http.MethodPost, path, map[string][]string{"labels": {label}})
	return err
}

// RemoveLabel detaches a label from an issue or pull request.
func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/labels/%s", c.repo, number, url.PathEscape(label))
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// Comment posts a comment on an issue or pull request.
func (c *Client) Comment(ctx context.Context, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", c.repo, number)
	_, err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body})
	return err
}

// Close closes an issue or pull request.
func (c *Client) Close(ctx context.Context, number int) error {
	path := fmt.Sprintf("/repos/%s/issues/%d", c.repo, number)
	_, err := c.do(ctx, http.MethodPatch, path, map[string]string{"state": "closed"})
	return err
}
