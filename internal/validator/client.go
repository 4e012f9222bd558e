package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrUnexpectedStatus is returned for replies outside the protocol.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client calls a remote validation endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient targets endpoint. A nil hc uses a client with a 10s timeout.
func NewClient(endpoint string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{endpoint: endpoint, http: hc}
}

// Validate sends domain and the cached token. Rejections (400/403) are
// returned as a Response with Valid false and a nil error.
func (c *Client) Validate(ctx context.Context, domain, token string) (Response, error) {
	var resp Response
	err := c.post(ctx, ActionValidate, Request{Domain: domain, Token: token}, &resp)
	return resp, err
}

// Check asks whether domain is allowed without issuing a token.
func (c *Client) Check(ctx context.Context, domain string) (CheckResponse, error) {
	var resp CheckResponse
	err := c.post(ctx, ActionCheck, Request{Domain: domain}, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, action string, body Request, out any) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("action", action)
	u.RawQuery = q.Encode()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", action, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusForbidden:
	default:
		_, _ = io.Copy(io.Discard, res.Body)
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, res.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxRequestBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}
