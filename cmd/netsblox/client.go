package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/netsblox/cloud/internal/auth"
	"github.com/netsblox/cloud/internal/httputil"
)

// apiError is a structured error response from the cloud.
type apiError struct {
	Status  int
	Code    httputil.Code
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// transportError means the cloud could not be reached at all.
type transportError struct{ err error }

func (e *transportError) Error() string { return "cloud unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// client is a minimal HTTP client for the cloud API. Authentication rides on
// the same session cookie the browser uses.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// request performs one API call and returns the response plus its body.
// Non-2xx responses come back as *apiError, connection failures as
// *transportError.
func (c *client) request(ctx context.Context, method, path string, in any) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return nil, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: c.token})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &transportError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &transportError{err: err}
	}

	if resp.StatusCode >= 400 {
		var envelope httputil.ErrorResponse
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
			return nil, nil, &apiError{Status: resp.StatusCode}
		}
		return nil, nil, &apiError{
			Status:  resp.StatusCode,
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
		}
	}
	return resp, body, nil
}

// do performs a call and decodes the data envelope into out when non-nil.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	_, body, err := c.request(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// login authenticates and returns the minted session token.
func (c *client) login(ctx context.Context, username, password string) (string, error) {
	resp, _, err := c.request(ctx, http.MethodPost, "/users/login",
		map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == auth.CookieName {
			return cookie.Value, nil
		}
	}
	return "", fmt.Errorf("login response carried no session cookie")
}
