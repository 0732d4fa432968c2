// Package sharepoint reads and updates onboarding requests stored in a
// SharePoint list through Microsoft Graph.
package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	graphScope      = "https://graph.microsoft.com/.default"
	preferHeader    = "HonorNonIndexedQueriesWarningMayFailRandomly"
)

// ErrItemNotFound is returned when the list item no longer exists
var ErrItemNotFound = errors.New("list item not found")

// Labels are the list's display values for each lifecycle status
type Labels struct {
	Approved      string
	InProgress    string
	Finished      string
	ErrorReverted string
}

// Config holds Graph connection and list mapping settings
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	SiteID       string
	ListID       string

	// GraphURL and TokenURL override the public endpoints
	GraphURL string
	TokenURL string
	Timeout  time.Duration

	StatusField     string
	TitleField      string
	FirstNamesField string
	LastNamesField  string
	SelectFields    []string
	Labels          Labels

	// HTTPClient is the base client used for token and Graph requests
	HTTPClient *http.Client
}

// Client is a RecordStore backed by a SharePoint list
type Client struct {
	cfg      Config
	http     *http.Client
	itemsURL string
	byLabel  map[string]domain.LifecycleStatus
}

// New creates a Client that authenticates with OAuth2 client credentials
func New(cfg Config) (*Client, error) {
	if cfg.SiteID == "" || cfg.ListID == "" {
		return nil, &domain.ConfigError{Field: "sharepoint", Reason: "site_id and list_id are required"}
	}
	if cfg.StatusField == "" {
		return nil, &domain.ConfigError{Field: "sharepoint.status_field", Reason: "required"}
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://login.microsoftonline.com/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{graphScope},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = cfg.Timeout

	c := &Client{
		cfg:  cfg,
		http: httpClient,
		itemsURL: strings.TrimRight(cfg.GraphURL, "/") +
			"/sites/" + url.PathEscape(cfg.SiteID) +
			"/lists/" + url.PathEscape(cfg.ListID) + "/items",
		byLabel: make(map[string]domain.LifecycleStatus),
	}
	for status, label := range c.labels() {
		if label != "" {
			c.byLabel[label] = status
		}
	}
	return c, nil
}

func (c *Client) labels() map[domain.LifecycleStatus]string {
	return map[domain.LifecycleStatus]string{
		domain.StatusApproved:      c.cfg.Labels.Approved,
		domain.StatusInProgress:    c.cfg.Labels.InProgress,
		domain.StatusFinished:      c.cfg.Labels.Finished,
		domain.StatusErrorReverted: c.cfg.Labels.ErrorReverted,
	}
}

type listItem struct {
	ID     string                     `json:"id"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type listPage struct {
	Value    []listItem `json:"value"`
	NextLink string     `json:"@odata.nextLink"`
}

// FetchApproved returns every list item whose status field holds the
// approved label, following Graph paging
func (c *Client) FetchApproved(ctx context.Context) ([]domain.UserRecord, error) {
	next := c.approvedURL()
	var users []domain.UserRecord

	for next != "" {
		var page listPage
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, domain.Transient("fetch approved users", err)
		}
		for _, item := range page.Value {
			if item.Fields == nil {
				continue
			}
			users = append(users, c.toUser(item))
		}
		next = page.NextLink
	}
	return users, nil
}

func (c *Client) approvedURL() string {
	q := url.Values{}
	expand := "fields"
	if len(c.cfg.SelectFields) > 0 {
		expand = "fields($select=" + strings.Join(c.cfg.SelectFields, ",") + ")"
	}
	q.Set("$expand", expand)
	q.Set("$filter", fmt.Sprintf("fields/%s eq '%s'", c.cfg.StatusField, strings.ReplaceAll(c.cfg.Labels.Approved, "'", "''")))
	return c.itemsURL + "?" + q.Encode()
}

func (c *Client) toUser(item listItem) domain.UserRecord {
	fields := make(map[string]string, len(item.Fields))
	for k, raw := range item.Fields {
		if k == "@odata.etag" {
			continue
		}
		if v, ok := scalarString(raw); ok {
			fields[k] = v
		}
	}

	id := item.ID
	if id == "" {
		id = fields["id"]
	}
	u := domain.UserRecord{
		ID:         id,
		Title:      fields[c.fieldName(c.cfg.TitleField, "Title")],
		FirstNames: fields[c.fieldName(c.cfg.FirstNamesField, "Nombres")],
		LastNames:  fields[c.fieldName(c.cfg.LastNamesField, "Apellidos")],
		Fields:     fields,
	}
	if status, ok := c.byLabel[fields[c.cfg.StatusField]]; ok {
		u.Status = status
	}
	return u
}

func (c *Client) fieldName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// scalarString renders JSON strings, numbers and booleans; other kinds are dropped
func scalarString(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// UpdateStatus writes the label for status into the item's status field
func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.LifecycleStatus) error {
	label := c.labels()[status]
	if label == "" {
		return fmt.Errorf("no label configured for status %q", status)
	}

	body, err := json.Marshal(map[string]string{c.cfg.StatusField: label})
	if err != nil {
		return err
	}

	err = c.do(ctx, http.MethodPatch, c.itemsURL+"/"+url.PathEscape(id)+"/fields", body, nil)
	if errors.Is(err, ErrItemNotFound) {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	if err != nil {
		return domain.Transient("update status of "+id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", preferHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodPatch {
		return ErrItemNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
