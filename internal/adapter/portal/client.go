package portal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gisops/layerkeeper/internal/config"
	"github.com/gisops/layerkeeper/internal/domain"
)

const (
	tokenLifetimeMinutes = 120
	tokenRefreshMargin   = time.Minute
	searchPageSize       = 100
)

// Client talks to an ArcGIS-compatible portal over its sharing REST API.
// Tokens are fetched lazily and refreshed near expiry.
type Client struct {
	restURL    string
	referer    string
	username   string
	password   string
	httpClient *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func New(cfg *config.PortalConfig) (*Client, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, fmt.Errorf("portal url is required")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyCert {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		restURL:  base + "/sharing/rest",
		referer:  base,
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
	}, nil
}

func (c *Client) Username() string {
	return c.username
}

// Connect authenticates eagerly so credential problems fail the run before
// any work starts.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.currentToken(ctx)
	return err
}

type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("portal error %d: %s", e.Code, e.Message)
}

type tokenResponse struct {
	Token   string    `json:"token"`
	Expires int64     `json:"expires"`
	Error   *apiError `json:"error"`
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expires.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	form := url.Values{
		"username":   {c.username},
		"password":   {c.password},
		"client":     {"referer"},
		"referer":    {c.referer},
		"expiration": {strconv.Itoa(tokenLifetimeMinutes)},
		"f":          {"json"},
	}

	var resp tokenResponse
	if err := c.postForm(ctx, c.restURL+"/generateToken", form, &resp); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("generate token: %w", resp.Error)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("generate token: empty token in response")
	}

	c.token = resp.Token
	c.expires = time.UnixMilli(resp.Expires)
	return c.token, nil
}

type searchResponse struct {
	Total     int       `json:"total"`
	NextStart int       `json:"nextStart"`
	Results   []apiItem `json:"results"`
	Error     *apiError `json:"error"`
}

type apiItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Owner string `json:"owner"`
	Type  string `json:"type"`
}

func (i apiItem) toDomain() domain.Item {
	return domain.Item{ID: i.ID, Title: i.Title, Owner: i.Owner, Type: i.Type}
}

// Search pages through the portal search endpoint until max items are
// collected or the result set is exhausted.
func (c *Client) Search(ctx context.Context, query string, max int) ([]domain.Item, error) {
	var items []domain.Item
	start := 1

	for len(items) < max {
		num := searchPageSize
		if remaining := max - len(items); remaining < num {
			num = remaining
		}

		params := url.Values{
			"q":     {query},
			"num":   {strconv.Itoa(num)},
			"start": {strconv.Itoa(start)},
		}

		var resp searchResponse
		if err := c.getJSON(ctx, c.restURL+"/search", params, &resp); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("search: %w", resp.Error)
		}

		for _, it := range resp.Results {
			items = append(items, it.toDomain())
		}

		if resp.NextStart <= 0 || len(resp.Results) == 0 {
			break
		}
		start = resp.NextStart
	}

	return items, nil
}

type itemResponse struct {
	apiItem
	Error *apiError `json:"error"`
}

func (c *Client) Get(ctx context.Context, id string) (*domain.Item, error) {
	var resp itemResponse
	if err := c.getJSON(ctx, c.restURL+"/content/items/"+id, nil, &resp); err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("get item %s: %w", id, resp.Error)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("get item %s: item not found", id)
	}
	item := resp.apiItem.toDomain()
	return &item, nil
}

type exportResponse struct {
	ExportItemID string    `json:"exportItemId"`
	JobID        string    `json:"jobId"`
	Error        *apiError `json:"error"`
}

// Export submits a server-side export job for the item and returns a
// handle used to poll and download the result.
func (c *Client) Export(ctx context.Context, itemID, title, format string) (domain.Export, error) {
	form := url.Values{
		"itemId":       {itemID},
		"title":        {title},
		"exportFormat": {format},
		"f":            {"json"},
	}

	endpoint := fmt.Sprintf("%s/content/users/%s/export", c.restURL, c.username)

	var resp exportResponse
	if err := c.postAuthed(ctx, endpoint, form, &resp); err != nil {
		return nil, fmt.Errorf("export %s: %w", itemID, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("export %s: %w", itemID, resp.Error)
	}
	if resp.ExportItemID == "" {
		return nil, fmt.Errorf("export %s: no export item in response", itemID)
	}

	return &exportJob{
		client:       c,
		exportItemID: resp.ExportItemID,
		jobID:        resp.JobID,
		title:        title,
	}, nil
}

type deleteResponse struct {
	Success bool      `json:"success"`
	Error   *apiError `json:"error"`
}

// Delete removes the item permanently, bypassing the recycle bin.
func (c *Client) Delete(ctx context.Context, itemID string) error {
	form := url.Values{
		"permanentDelete": {"true"},
		"f":               {"json"},
	}

	endpoint := fmt.Sprintf("%s/content/users/%s/items/%s/delete", c.restURL, c.username, itemID)

	var resp deleteResponse
	if err := c.postAuthed(ctx, endpoint, form, &resp); err != nil {
		return fmt.Errorf("delete item %s: %w", itemID, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("delete item %s: %w", itemID, resp.Error)
	}
	if !resp.Success {
		return fmt.Errorf("delete item %s: portal reported failure", itemID)
	}
	return nil
}

// getJSON issues an authenticated GET with f=json and decodes the body.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	token, err := c.currentToken(ctx)
	if err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("f", "json")
	params.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Referer", c.referer)

	return c.do(req, out)
}

// postAuthed issues an authenticated form POST and decodes the body.
func (c *Client) postAuthed(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	token, err := c.currentToken(ctx)
	if err != nil {
		return err
	}
	form.Set("token", token)
	return c.postForm(ctx, endpoint, form, out)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.referer)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
