// Package contentapi is a small client for the Content Management API
// endpoints the executors need: read an entry, publish it, unpublish it.
package contentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://api.contentful.com"
	DefaultEnvironment = "master"

	versionHeader = "X-Contentful-Version"
	contentType   = "application/vnd.contentful.management.v1+json"
)

// ErrNotFound matches any *APIError with a 404 status.
var ErrNotFound = errors.New("contentapi: not found")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	ErrorID    string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.ErrorID != "" {
		return fmt.Sprintf("contentapi: %d %s: %s", e.StatusCode, e.ErrorID, msg)
	}
	return fmt.Sprintf("contentapi: %d: %s", e.StatusCode, msg)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Temporary reports whether retrying the same call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Entry is the subset of an entry the executors act on.
type Entry struct {
	ID               string
	SpaceID          string
	Version          int
	PublishedVersion int
	Fields           map[string]any
}

// IsPublished reports whether the entry has a published version.
func (e Entry) IsPublished() bool { return e.PublishedVersion > 0 }

type sysLink struct {
	Sys struct {
		ID string `json:"id"`
	} `json:"sys"`
}

type entryDoc struct {
	Sys struct {
		ID               string  `json:"id"`
		Type             string  `json:"type"`
		Version          int     `json:"version"`
		PublishedVersion int     `json:"publishedVersion"`
		Space            sysLink `json:"space"`
	} `json:"sys"`
	Fields map[string]any `json:"fields"`
}

type errorDoc struct {
	Sys struct {
		ID string `json:"id"`
	} `json:"sys"`
	Message string `json:"message"`
}

// Client talks to one environment with one management token.
type Client struct {
	baseURL     string
	environment string
	token       string
	http        *http.Client
	userAgent   string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithEnvironment selects the environment; master when unset.
func WithEnvironment(env string) Option {
	return func(c *Client) { c.environment = env }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// New creates a client authenticated with token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		environment: DefaultEnvironment,
		token:       token,
		http:        &http.Client{Timeout: 15 * time.Second},
		userAgent:   "harbor-scheduler",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.environment == "" {
		c.environment = DefaultEnvironment
	}
	return c
}

// Entry fetches an entry.
func (c *Client) Entry(ctx context.Context, spaceID, entryID string) (Entry, error) {
	var doc entryDoc
	if err := c.do(ctx, http.MethodGet, c.entryPath(spaceID, entryID), 0, &doc); err != nil {
		return Entry{}, err
	}
	e := Entry{
		ID:               doc.Sys.ID,
		SpaceID:          doc.Sys.Space.Sys.ID,
		Version:          doc.Sys.Version,
		PublishedVersion: doc.Sys.PublishedVersion,
		Fields:           doc.Fields,
	}
	if e.SpaceID == "" {
		e.SpaceID = spaceID
	}
	return e, nil
}

// Publish publishes the given version of an entry.
func (c *Client) Publish(ctx context.Context, e Entry) error {
	return c.do(ctx, http.MethodPut, c.entryPath(e.SpaceID, e.ID)+"/published", e.Version, nil)
}

// Unpublish removes the published version of an entry.
func (c *Client) Unpublish(ctx context.Context, e Entry) error {
	return c.do(ctx, http.MethodDelete, c.entryPath(e.SpaceID, e.ID)+"/published", e.Version, nil)
}

func (c *Client) entryPath(spaceID, entryID string) string {
	return fmt.Sprintf("/spaces/%s/environments/%s/entries/%s",
		url.PathEscape(spaceID), url.PathEscape(c.environment), url.PathEscape(entryID))
}

func (c *Client) do(ctx context.Context, method, path string, version int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("contentapi: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.userAgent)
	if version > 0 {
		req.Header.Set(versionHeader, strconv.Itoa(version))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contentapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("contentapi: decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var doc errorDoc
	if json.Unmarshal(body, &doc) == nil {
		apiErr.ErrorID = doc.Sys.ID
		apiErr.Message = doc.Message
	}
	return apiErr
}
