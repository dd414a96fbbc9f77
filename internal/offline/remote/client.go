// Package remote is the HTTP client of the EduSoluce data service.
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
	"strings"
	"sync"
	"time"

	"github.com/Facely1er/EduSolucePlus-sub000/internal/interfaces/rest/middleware"
	"go.uber.org/zap"
)

// ErrUnreachable the service could not be reached or answered with a gateway error,
// callers treat it like being offline
var ErrUnreachable = errors.New("remote service unreachable")

// StatusError the service answered with an error envelope
type StatusError struct {
	Code   int    `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("remote: %d %s", e.Code, e.Title)
	}
	return fmt.Sprintf("remote: %d %s: %s", e.Code, e.Title, e.Detail)
}

// Client talks to one data service, safe for concurrent use
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient create a client for the service rooted at baseURL
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		token:   token,
	}
}

// Token returns the current bearer token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// AuthHeader header set carrying the bearer token, empty without a token
func (c *Client) AuthHeader() http.Header {
	header := make(http.Header)
	if token := c.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

// PresenceURL websocket address of the presence endpoint
func (c *Client) PresenceURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/v1/ws/presence"
}

// Ping checks the health endpoint
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID string `json:"id"`
	} `json:"user"`
}

// Login signs in, stores the issued token and returns the user id
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var res loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/user/login", &loginRequest{username, password}, &res); err != nil {
		return "", err
	}
	c.SetToken(res.Token)
	return res.User.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header = c.AuthHeader()
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	startTime := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("Remote call failed", zap.String("http.method", method), zap.String("url.path", path), zap.Error(err))
		return fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer res.Body.Close()
	c.logger.Debug("Remote call",
		zap.String("http.method", method),
		zap.String("url.path", path),
		zap.Int("http.status", res.StatusCode),
		zap.Duration("http.time", time.Since(startTime)))

	if refreshed := res.Header.Get(middleware.HeaderRefreshedToken); refreshed != "" {
		c.SetToken(refreshed)
	}

	switch {
	case res.StatusCode == http.StatusBadGateway,
		res.StatusCode == http.StatusServiceUnavailable,
		res.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrUnreachable, res.Status)
	case res.StatusCode >= http.StatusBadRequest:
		return decodeStatusError(res)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeStatusError(res *http.Response) error {
	se := &StatusError{}
	if err := json.NewDecoder(res.Body).Decode(se); err != nil || se.Code == 0 {
		se.Code = res.StatusCode
	}
	if se.Title == "" {
		se.Title = http.StatusText(res.StatusCode)
	}
	return se
}

// Service record endpoints of one kind, "progress" or "results"
type Service[R any] struct {
	client *Client
	kind   string
}

// NewService create a Service for kind
func NewService[R any](client *Client, kind string) *Service[R] {
	return &Service[R]{client: client, kind: kind}
}

func (s *Service[R]) path(userID string, id ...string) string {
	p := fmt.Sprintf("/api/v1/users/%s/%s", url.PathEscape(userID), s.kind)
	if len(id) > 0 {
		p += "/" + url.PathEscape(id[0])
	}
	return p
}

// Fetch every record of userID
func (s *Service[R]) Fetch(ctx context.Context, userID string) ([]R, error) {
	var records []R
	if err := s.client.do(ctx, http.MethodGet, s.path(userID), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Write stores records and returns them with the ids assigned by the service
func (s *Service[R]) Write(ctx context.Context, userID string, records []R) ([]R, error) {
	var saved []R
	if err := s.client.do(ctx, http.MethodPost, s.path(userID), records, &saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// Update applies fields to the stored record id
func (s *Service[R]) Update(ctx context.Context, userID, id string, fields map[string]interface{}) (R, error) {
	var updated R
	err := s.client.do(ctx, http.MethodPatch, s.path(userID, id), fields, &updated)
	return updated, err
}
