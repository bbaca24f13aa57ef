// Package sharepoint is the load-side collaborator: a Microsoft Graph client
// scoped to the handful of list operations the pipeline needs.
//
// Authentication is the OAuth2 client-credentials flow; the token source
// caches and refreshes the bearer token transparently, so callers treat
// "have a valid token" as given. Requests are paced by a rate limiter because
// Graph throttles per app+site, and paced submission beats burst-then-429.
package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"spsync/internal/metrics"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	tokenScope     = "https://graph.microsoft.com/.default"

	// Item index pages request up to this many items per call.
	indexPageSize = 200
)

// Options configures a Client.
type Options struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// SiteURL is the full SharePoint site URL, e.g.
	// https://contoso.sharepoint.com/sites/operations.
	SiteURL string

	// Timeout bounds each individual request. Required; there is no
	// unbounded-call mode.
	Timeout time.Duration

	// RequestsPerSecond paces all Graph calls. <= 0 disables pacing.
	RequestsPerSecond float64

	// BaseURL overrides the Graph endpoint. Tests point this at an
	// httptest.Server.
	BaseURL string

	// HTTPClient overrides the OAuth2-wrapped client. When set, the token
	// flow is skipped entirely (tests, pre-authenticated clients).
	HTTPClient *http.Client
}

// ListHandle identifies one resolved destination list.
type ListHandle struct {
	SiteID string
	ListID string
	Name   string
}

// ListInfo is a list summary from the site's list collection.
type ListInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// ItemRef locates one existing list item for key matching.
type ItemRef struct {
	ID       string
	Modified time.Time
}

// Client is a Graph API client for SharePoint list operations.
type Client struct {
	httpc   *http.Client
	baseURL string
	siteURL string
	timeout time.Duration
	limiter *rate.Limiter

	mu     sync.Mutex
	siteID string
}

// New constructs a Client. No network traffic happens here; the first request
// acquires the token.
func New(ctx context.Context, o Options) *Client {
	httpc := o.HTTPClient
	if httpc == nil {
		cc := clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     "https://login.microsoftonline.com/" + o.TenantID + "/oauth2/v2.0/token",
			Scopes:       []string{tokenScope},
		}
		httpc = cc.Client(ctx)
	}

	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var limiter *rate.Limiter
	if o.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.RequestsPerSecond), 1)
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpc:   httpc,
		baseURL: strings.TrimRight(baseURL, "/"),
		siteURL: o.SiteURL,
		timeout: timeout,
		limiter: limiter,
	}
}

// splitSiteURL breaks a site URL into Graph's hostname:/path addressing form.
func splitSiteURL(siteURL string) (host, path string, err error) {
	u, err := url.Parse(strings.TrimRight(siteURL, "/"))
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("sharepoint: invalid site URL %q", siteURL)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// do issues one paced, timeout-bounded request and decodes a 2xx JSON body
// into out (when non-nil). Non-2xx responses become *APIError with the Graph
// error envelope's code and message.
func (c *Client) do(ctx context.Context, op, method, rawurl string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("sharepoint: %s: %w", op, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sharepoint: %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawurl, reader)
	if err != nil {
		return fmt.Errorf("sharepoint: %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.CountHTTPRequest(op, 0)
		return fmt.Errorf("sharepoint: %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.CountHTTPRequest(op, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(op, resp)
	}
	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sharepoint: %s: decode response: %w", op, err)
	}
	return nil
}

func decodeAPIError(op string, resp *http.Response) error {
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// ResolveSite resolves and caches the Graph site id for the configured site
// URL.
func (c *Client) ResolveSite(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.siteID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	host, path, err := splitSiteURL(c.siteURL)
	if err != nil {
		return "", err
	}

	var site struct {
		ID string `json:"id"`
	}
	u := fmt.Sprintf("%s/sites/%s:/%s", c.baseURL, host, path)
	if err := c.do(ctx, "resolve site", http.MethodGet, u, nil, &site); err != nil {
		return "", err
	}
	if site.ID == "" {
		return "", fmt.Errorf("sharepoint: resolve site: empty site id for %q", c.siteURL)
	}

	c.mu.Lock()
	c.siteID = site.ID
	c.mu.Unlock()
	return site.ID, nil
}

// Lists enumerates the site's lists.
func (c *Client) Lists(ctx context.Context) ([]ListInfo, error) {
	siteID, err := c.ResolveSite(ctx)
	if err != nil {
		return nil, err
	}

	var out []ListInfo
	u := fmt.Sprintf("%s/sites/%s/lists?$select=id,displayName", c.baseURL, url.PathEscape(siteID))
	for u != "" {
		var page struct {
			Value    []ListInfo `json:"value"`
			NextLink string     `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, "list lists", http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
		u = page.NextLink
	}
	return out, nil
}

// ResolveList finds a list by display name and returns its handle.
func (c *Client) ResolveList(ctx context.Context, displayName string) (ListHandle, error) {
	siteID, err := c.ResolveSite(ctx)
	if err != nil {
		return ListHandle{}, err
	}

	lists, err := c.Lists(ctx)
	if err != nil {
		return ListHandle{}, err
	}
	for _, l := range lists {
		if l.DisplayName == displayName {
			return ListHandle{SiteID: siteID, ListID: l.ID, Name: displayName}, nil
		}
	}
	return ListHandle{}, fmt.Errorf("sharepoint: list %q not found on site %s", displayName, c.siteURL)
}

// CreateItem creates a list item with the given field values and returns the
// new item id.
func (c *Client) CreateItem(ctx context.Context, h ListHandle, fields map[string]any) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	u := fmt.Sprintf("%s/sites/%s/lists/%s/items", c.baseURL, url.PathEscape(h.SiteID), url.PathEscape(h.ListID))
	payload := map[string]any{"fields": fields}
	if err := c.do(ctx, "create item", http.MethodPost, u, payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateItem overwrites field values on an existing item.
func (c *Client) UpdateItem(ctx context.Context, h ListHandle, itemID string, fields map[string]any) error {
	u := fmt.Sprintf("%s/sites/%s/lists/%s/items/%s/fields",
		c.baseURL, url.PathEscape(h.SiteID), url.PathEscape(h.ListID), url.PathEscape(itemID))
	return c.do(ctx, "update item", http.MethodPatch, u, fields, nil)
}

// ItemIndex fetches every item's keyField value and returns key → item ref.
// Used once per table before an upsert run; rows then match against the index
// locally instead of issuing a lookup per row.
//
// Items whose key field is empty are skipped. On duplicate keys the first
// item wins, matching SharePoint's own "first match" lookup behavior.
func (c *Client) ItemIndex(ctx context.Context, h ListHandle, keyField string) (map[string]ItemRef, error) {
	index := make(map[string]ItemRef)

	u := fmt.Sprintf("%s/sites/%s/lists/%s/items?$select=id,lastModifiedDateTime&$expand=fields($select=%s)&$top=%d",
		c.baseURL, url.PathEscape(h.SiteID), url.PathEscape(h.ListID), url.QueryEscape(keyField), indexPageSize)
	for u != "" {
		var page struct {
			Value []struct {
				ID       string         `json:"id"`
				Modified time.Time      `json:"lastModifiedDateTime"`
				Fields   map[string]any `json:"fields"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, "index items", http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			raw, ok := item.Fields[keyField]
			if !ok || raw == nil {
				continue
			}
			key := fmt.Sprintf("%v", raw)
			if key == "" {
				continue
			}
			if _, exists := index[key]; exists {
				continue
			}
			index[key] = ItemRef{ID: item.ID, Modified: item.Modified}
		}
		u = page.NextLink
	}
	return index, nil
}
