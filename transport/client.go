// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package transport delivers signed envelopes to peer agents over HTTP,
// with exponential backoff retry and a lazily-refreshed public-key cache.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/swarmproto/swarmd/envelope"
	"github.com/swarmproto/swarmd/internal/logger"
)

// BackoffConfig is the retry schedule: exponential backoff
// starting at Initial, doubling each attempt, capped at Max, for up to
// MaxAttempts tries.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoffConfig is the retry policy applied to outbound sends.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:     500 * time.Millisecond,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

func (b BackoffConfig) delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > b.Max {
			return b.Max
		}
	}
	return d
}

// Result is the outcome of one Send call.
type Result struct {
	Delivered bool
	Attempts  int
	Status    int
	Err       error
}

// Client sends signed envelopes to peer endpoints.
type Client struct {
	http    *http.Client
	backoff BackoffConfig
	log     logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying *http.Client (dial/TLS/idle
// timeout tuning lives on it).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithBackoff overrides the retry schedule.
func WithBackoff(b BackoffConfig) ClientOption {
	return func(cl *Client) { cl.backoff = b }
}

// WithLogger attaches a logger for delivery failures.
func WithLogger(l logger.Logger) ClientOption {
	return func(cl *Client) { cl.log = l }
}

// NewClient builds a Client with sane connection-pool defaults.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		backoff: DefaultBackoffConfig(),
		log:     logger.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers env to recipientEndpoint's /swarm/message, retrying per
// the backoff schedule on 5xx responses and network errors. A 429 waits
// out Retry-After (or, failing that, X-RateLimit-Reset) before retrying;
// the 429 still counts as one of MaxAttempts, and the backoff delay is
// added on top of that wait. Any other 4xx fails immediately without
// retry.
func (c *Client) Send(ctx context.Context, env *envelope.Envelope, recipientEndpoint string) Result {
	return c.send(ctx, env, recipientEndpoint, "swarm/message")
}

// SendJoin delivers a join envelope to recipientEndpoint's /swarm/join.
// Retry/backoff semantics are identical to Send.
func (c *Client) SendJoin(ctx context.Context, env *envelope.Envelope, recipientEndpoint string) Result {
	return c.send(ctx, env, recipientEndpoint, "swarm/join")
}

func (c *Client) send(ctx context.Context, env *envelope.Envelope, recipientEndpoint, path string) Result {
	body, err := json.Marshal(env)
	if err != nil {
		return Result{Err: fmt.Errorf("transport: marshal envelope: %w", err)}
	}

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt < c.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(c.backoff.delay(attempt - 1)):
			}
		}

		status, retryAfter, err := c.post(ctx, recipientEndpoint, path, env.Sender.AgentID, body)
		if err == nil && status >= 500 {
			err = fmt.Errorf("transport: recipient returned %d", status)
		}
		lastErr, lastStatus = err, status

		if err == nil && status >= 200 && status < 300 {
			return Result{Delivered: true, Attempts: attempt + 1, Status: status}
		}
		if status == http.StatusTooManyRequests {
			if retryAfter > 0 {
				select {
				case <-ctx.Done():
					return Result{Attempts: attempt + 1, Status: status, Err: ctx.Err()}
				case <-time.After(retryAfter):
				}
			}
			continue
		}
		if status >= 400 && status < 500 {
			c.log.Warn("transport: recipient rejected message", logger.Int("status", status), logger.String("endpoint", recipientEndpoint))
			return Result{Attempts: attempt + 1, Status: status, Err: fmt.Errorf("transport: recipient returned %d", status)}
		}
		c.log.Warn("transport: delivery attempt failed, retrying", logger.Int("attempt", attempt+1), logger.Error(err))
	}

	return Result{Attempts: c.backoff.MaxAttempts, Status: lastStatus, Err: lastErr}
}

func (c *Client) post(ctx context.Context, endpoint, path, senderID string, body []byte) (status int, retryAfter time.Duration, err error) {
	url := endpoint
	if len(url) == 0 || url[len(url)-1] != '/' {
		url += "/" + path
	} else {
		url += path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", senderID)
	req.Header.Set("X-Swarm-Protocol", "1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header)
	}
	return resp.StatusCode, retryAfter, nil
}

func parseRetryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			d := time.Until(time.Unix(unix, 0))
			if d > 0 {
				return d
			}
		}
	}
	return 0
}
