// Package remote is a thin HTTPS client for the authoritative journal
// backend: entries, tags and entry-tags collections plus the key-issuance
// endpoint. Updates and deletes carry a revision precondition (If-Match);
// the server reporting zero rows affected surfaces as ErrRevisionMismatch
// and is resolved by the sync layer, never here.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sentinel errors for the HTTP error classes callers branch on.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Client talks to the daybook backend.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a client authenticated by a session token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Entries ---

// ListEntryHeads fetches the (day, revision) index for a user.
func (c *Client) ListEntryHeads(ctx context.Context, userID string) ([]EntryHead, error) {
	var heads []EntryHead
	path := fmt.Sprintf("/v1/users/%s/entries/index", url.PathEscape(userID))
	if err := c.do(ctx, "GET", path, nil, 0, &heads); err != nil {
		return nil, err
	}
	return heads, nil
}

// GetEntry fetches the authoritative row for a day.
func (c *Client) GetEntry(ctx context.Context, userID, day string) (*Entry, error) {
	var e Entry
	path := fmt.Sprintf("/v1/users/%s/entries/%s", url.PathEscape(userID), url.PathEscape(day))
	if err := c.do(ctx, "GET", path, nil, 0, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntriesBatch fetches full rows for a set of days in one round trip.
func (c *Client) GetEntriesBatch(ctx context.Context, userID string, days []string) ([]Entry, error) {
	var entries []Entry
	body := map[string][]string{"days": days}
	path := fmt.Sprintf("/v1/users/%s/entries/batch", url.PathEscape(userID))
	if err := c.do(ctx, "POST", path, body, 0, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateEntry uploads a new day unconditionally (upsert on the server side)
// and returns the stored row with its assigned revision.
func (c *Client) CreateEntry(ctx context.Context, e *Entry) (*Entry, error) {
	var stored Entry
	path := fmt.Sprintf("/v1/users/%s/entries", url.PathEscape(e.UserID))
	if err := c.do(ctx, "POST", path, e, 0, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateEntry rewrites a day conditional on the revision the client last
// saw. ErrRevisionMismatch means another writer got there first.
func (c *Client) UpdateEntry(ctx context.Context, e *Entry) error {
	path := fmt.Sprintf("/v1/users/%s/entries/%s", url.PathEscape(e.UserID), url.PathEscape(e.Day))
	return c.do(ctx, "PATCH", path, e, e.Revision, nil)
}

// DeleteEntry removes a day conditional on revision.
func (c *Client) DeleteEntry(ctx context.Context, userID, day string, revision int64) error {
	path := fmt.Sprintf("/v1/users/%s/entries/%s", url.PathEscape(userID), url.PathEscape(day))
	return c.do(ctx, "DELETE", path, nil, revision, nil)
}

// --- Tags ---

// ListTags fetches the full tag set for a user.
func (c *Client) ListTags(ctx context.Context, userID string) ([]Tag, error) {
	var tags []Tag
	path := fmt.Sprintf("/v1/users/%s/tags", url.PathEscape(userID))
	if err := c.do(ctx, "GET", path, nil, 0, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// GetTag fetches the authoritative row for a tag.
func (c *Client) GetTag(ctx context.Context, userID, id string) (*Tag, error) {
	var t Tag
	path := fmt.Sprintf("/v1/users/%s/tags/%s", url.PathEscape(userID), url.PathEscape(id))
	if err := c.do(ctx, "GET", path, nil, 0, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTag uploads a tag unconditionally; a remote device may already have
// created the same id, which the server treats as an upsert.
func (c *Client) CreateTag(ctx context.Context, t *Tag) (*Tag, error) {
	var stored Tag
	path := fmt.Sprintf("/v1/users/%s/tags", url.PathEscape(t.UserID))
	if err := c.do(ctx, "POST", path, t, 0, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateTag rewrites a tag conditional on revision.
func (c *Client) UpdateTag(ctx context.Context, t *Tag) error {
	path := fmt.Sprintf("/v1/users/%s/tags/%s", url.PathEscape(t.UserID), url.PathEscape(t.ID))
	return c.do(ctx, "PATCH", path, t, t.Revision, nil)
}

// DeleteTag removes a tag conditional on revision.
func (c *Client) DeleteTag(ctx context.Context, userID, id string, revision int64) error {
	path := fmt.Sprintf("/v1/users/%s/tags/%s", url.PathEscape(userID), url.PathEscape(id))
	return c.do(ctx, "DELETE", path, nil, revision, nil)
}

// --- Entry tags ---

// ListEntryTags fetches the full link set for a user.
func (c *Client) ListEntryTags(ctx context.Context, userID string) ([]EntryTag, error) {
	var links []EntryTag
	path := fmt.Sprintf("/v1/users/%s/entry-tags", url.PathEscape(userID))
	if err := c.do(ctx, "GET", path, nil, 0, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// GetEntryTag fetches the authoritative row for a link.
func (c *Client) GetEntryTag(ctx context.Context, userID, day, tagID string) (*EntryTag, error) {
	var et EntryTag
	path := fmt.Sprintf("/v1/users/%s/entry-tags/%s/%s", url.PathEscape(userID), url.PathEscape(day), url.PathEscape(tagID))
	if err := c.do(ctx, "GET", path, nil, 0, &et); err != nil {
		return nil, err
	}
	return &et, nil
}

// CreateEntryTag uploads a link unconditionally (server-side upsert).
func (c *Client) CreateEntryTag(ctx context.Context, et *EntryTag) (*EntryTag, error) {
	var stored EntryTag
	path := fmt.Sprintf("/v1/users/%s/entry-tags", url.PathEscape(et.UserID))
	if err := c.do(ctx, "POST", path, et, 0, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateEntryTag rewrites a link conditional on revision.
func (c *Client) UpdateEntryTag(ctx context.Context, et *EntryTag) error {
	path := fmt.Sprintf("/v1/users/%s/entry-tags/%s/%s", url.PathEscape(et.UserID), url.PathEscape(et.Day), url.PathEscape(et.TagID))
	return c.do(ctx, "PATCH", path, et, et.Revision, nil)
}

// DeleteEntryTag removes a link conditional on revision.
func (c *Client) DeleteEntryTag(ctx context.Context, userID, day, tagID string, revision int64) error {
	path := fmt.Sprintf("/v1/users/%s/entry-tags/%s/%s", url.PathEscape(userID), url.PathEscape(day), url.PathEscape(tagID))
	return c.do(ctx, "DELETE", path, nil, revision, nil)
}

// --- Keys ---

// FetchUserKey asks the key-issuance endpoint for the user's content key.
// Authentication is the session token like every other call.
func (c *Client) FetchUserKey(ctx context.Context, userID string) ([]byte, error) {
	var resp KeyResponse
	path := fmt.Sprintf("/v1/users/%s/key", url.PathEscape(userID))
	if err := c.do(ctx, "GET", path, nil, 0, &resp); err != nil {
		return nil, err
	}
	if len(resp.Key) == 0 {
		return nil, fmt.Errorf("key endpoint returned empty key")
	}
	return resp.Key, nil
}

// --- HTTP plumbing ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes one request. A non-zero revision is sent as an If-Match
// precondition; note revision 0 rows are always pushed via POST, so the
// zero value never needs to be a real precondition.
func (c *Client) do(ctx context.Context, method, path string, body any, revision int64, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if method == "PATCH" || method == "DELETE" {
		req.Header.Set("If-Match", strconv.Quote(strconv.FormatInt(revision, 10)))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		msg := ""
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code != "" {
			msg = apiErr.Message
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %s", ErrRevisionMismatch, msg)
		}
		if apiErr.Code != "" {
			return &apiErr
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
