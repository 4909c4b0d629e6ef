package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/giuliop/ceremony"
	"github.com/giuliop/ceremony/artifact"
)

// Client talks to a ceremony server.
type Client struct {
	base  string
	http  *http.Client
	token string
}

// NewClient returns a client of the server at base, e.g.
// "http://127.0.0.1:8855".
func NewClient(base string, c *http.Client) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{base: strings.TrimSuffix(base, "/"), http: c}
}

// SetToken sends token as the bearer credential of every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Challenge asks the coordinator for a challenge.
func (c *Client) Challenge(ctx context.Context) (*ceremony.Challenge, error) {
	resp, err := c.do(ctx, http.MethodPost, "/challenge", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading challenge: %v", err)
	}
	ch := &ceremony.Challenge{Name: resp.Header.Get(HeaderChallengeName), Data: data}
	if ch.Hash, err = artifact.ParseHash(resp.Header.Get(HeaderChallengeHash)); err != nil {
		return nil, fmt.Errorf("invalid challenge hash: %v", err)
	}
	if ch.Prior, err = artifact.ParseHash(resp.Header.Get(HeaderPrior)); err != nil {
		return nil, fmt.Errorf("invalid prior hash: %v", err)
	}
	return ch, nil
}

// Respond uploads a response to the challenge issued on prior.
func (c *Client) Respond(ctx context.Context, response []byte, prior artifact.Hash) (*ceremony.Contribution, error) {
	header := http.Header{}
	if !prior.IsZero() {
		header.Set(HeaderPrior, prior.String())
	}
	resp, err := c.do(ctx, http.MethodPost, "/response", header, response)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var contribution ceremony.Contribution
	if err := json.NewDecoder(resp.Body).Decode(&contribution); err != nil {
		return nil, fmt.Errorf("error decoding contribution: %v", err)
	}
	return &contribution, nil
}

// Status fetches the ceremony state.
func (c *Client) Status(ctx context.Context) (*ceremony.State, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var s ceremony.State
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("error decoding status: %v", err)
	}
	return &s, nil
}

// Artifact downloads a file of the ceremony store.
func (c *Client) Artifact(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/artifacts/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// StatusError is a non 2xx reply of the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server replied %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
