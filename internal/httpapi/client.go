// Package httpapi - REST-клиент удаленного сервиса, реализует remote.Client.
package httpapi

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
	"strings"
	"time"

	"github.com/UkralStul/feedsync/internal/remote"
)

// UserHeader - заголовок с id текущего пользователя.
const UserHeader = "X-User-ID"

// ErrorBody - тело ответа с ошибкой.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// Коды ошибок в ErrorBody.
const (
	CodeValidation   = "validation"
	CodeConflict     = "conflict"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal"
)

type Client struct {
	base     string
	http     *http.Client
	identity remote.Identity
}

var _ remote.Client = (*Client)(nil)

func New(baseURL string, identity remote.Identity, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:     strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		identity: identity,
	}
}

func (c *Client) Fetch(ctx context.Context, kind remote.Kind, filter remote.Filter, page remote.Page) ([]remote.Record, error) {
	q := url.Values{}
	for k, v := range filter {
		q.Set(k, v)
	}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.Cursor != "" {
		q.Set("cursor", page.Cursor)
	}
	var out []remote.Record
	if err := c.do(ctx, http.MethodGet, c.path(kind, "")+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, kind remote.Kind, payload remote.Record) (remote.Record, error) {
	var out remote.Record
	if err := c.do(ctx, http.MethodPost, c.path(kind, ""), payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, kind remote.Kind, id string, patch remote.Record) (remote.Record, error) {
	var out remote.Record
	if err := c.do(ctx, http.MethodPatch, c.path(kind, id), patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, kind remote.Kind, id string) error {
	return c.do(ctx, http.MethodDelete, c.path(kind, id), nil, nil)
}

func (c *Client) path(kind remote.Kind, id string) string {
	p := c.base + "/api/" + url.PathEscape(string(kind))
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.identity != nil {
		if uid, ok := c.identity.CurrentUserID(); ok {
			req.Header.Set(UserHeader, uid)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", remote.ErrTransport, method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", remote.ErrTransport, err)
	}
	return nil
}

// decodeError восстанавливает ошибку удаленного сервиса по статусу и телу ответа.
func decodeError(resp *http.Response) error {
	var body ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || body.Code == CodeValidation:
		// сообщение сервера уже содержит префикс и поле
		reason := strings.TrimPrefix(body.Error, "validation failed: ")
		if body.Field != "" {
			reason = strings.TrimPrefix(reason, body.Field+" ")
		}
		return &remote.ValidationError{Field: body.Field, Reason: reason}
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", remote.ErrConflict, body.Error)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", remote.ErrNotFound, body.Error)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", remote.ErrUnauthorized, body.Error)
	}
	return fmt.Errorf("%w: status %d: %s", remote.ErrTransport, resp.StatusCode, body.Error)
}

// IsTransport сообщает, что запрос не дошел до сервиса или сервис не ответил.
func IsTransport(err error) bool {
	return errors.Is(err, remote.ErrTransport)
}
