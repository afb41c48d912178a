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

package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookConfig configures the webhook invocation method.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// WebhookInvoker POSTs the payload as JSON to a configured URL, treating
// any response ≥ 400 as an error.
type WebhookInvoker struct {
	cfg  WebhookConfig
	http *http.Client
}

// NewWebhookInvoker builds a WebhookInvoker.
func NewWebhookInvoker(cfg WebhookConfig) *WebhookInvoker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookInvoker{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

// Invoke implements Invoker.
func (w *WebhookInvoker) Invoke(ctx context.Context, payload Payload) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("invoker: marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("invoker: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("invoker: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("invoker: webhook returned %d", resp.StatusCode)
	}
	return Result{Invoked: true, Detail: fmt.Sprintf("webhook %d", resp.StatusCode)}, nil
}
