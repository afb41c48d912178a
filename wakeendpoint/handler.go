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

// Package wakeendpoint implements the conditionally-mounted /api/wake
// handler: shared-secret gate, body validation, and single-flight dedup
// against the active invocation session before calling the Invoker.
package wakeendpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/swarmproto/swarmd/internal/logger"
	"github.com/swarmproto/swarmd/internal/metrics"
	"github.com/swarmproto/swarmd/invoker"
	"github.com/swarmproto/swarmd/session"
)

// Handler serves POST /api/wake.
type Handler struct {
	sharedSecret string // empty means no secret configured
	sessions     *session.Manager
	invoker      invoker.Invoker
	log          logger.Logger
	sf           singleflight.Group
}

// New builds a Handler. sharedSecret may be empty, in which case the
// X-Wake-Secret header is not required.
func New(sharedSecret string, sessions *session.Manager, inv invoker.Invoker, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Noop()
	}
	return &Handler{sharedSecret: sharedSecret, sessions: sessions, invoker: inv, log: log}
}

type wakeRequest struct {
	MessageID         string `json:"message_id"`
	SwarmID           string `json:"swarm_id"`
	SenderID          string `json:"sender_id"`
	NotificationLevel string `json:"notification_level"`
}

func (r wakeRequest) valid() bool {
	return r.MessageID != "" && r.SwarmID != "" && r.SenderID != ""
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.sharedSecret != "" && r.Header.Get("X-Wake-Secret") != h.sharedSecret {
		metrics.WakeInvocations.WithLabelValues("forbidden").Inc()
		writeJSON(w, http.StatusForbidden, map[string]string{"status": "forbidden"})
		return
	}

	var req wakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.valid() {
		metrics.WakeInvocations.WithLabelValues("invalid_body").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"status": "invalid_body"})
		return
	}

	payload := invoker.Payload{
		MessageID: req.MessageID, SwarmID: req.SwarmID, SenderID: req.SenderID,
		NotificationLevel: req.NotificationLevel,
	}
	status, body := h.dispatch(payload)
	writeJSON(w, status, body)
}

// dispatch runs the single-flight-dedup-then-invoke logic shared by the
// HTTP handler and any in-process caller (the receive pipeline's wake
// evaluation step dispatches here directly rather than looping back
// through HTTP).
func (h *Handler) dispatch(payload invoker.Payload) (int, map[string]string) {
	now := time.Now()
	sess, started, err := h.sessions.StartIfIdle(now)
	if err != nil {
		metrics.WakeInvocations.WithLabelValues("error").Inc()
		return http.StatusInternalServerError, map[string]string{"status": "error", "detail": err.Error()}
	}
	if !started {
		metrics.WakeInvocations.WithLabelValues("already_active").Inc()
		return http.StatusOK, map[string]string{"status": "already_active"}
	}

	// Synchronous invocation errors must be reported and the session
	// reverted; once Invoke returns without error, any further failure is
	// the invoker's own concern (fire-and-forget).
	errCh := make(chan error, 1)
	go func() {
		_, err, _ := h.sf.Do("invoke:"+sess.ID, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			return h.invoker.Invoke(ctx, payload)
		})
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = h.sessions.Complete(sess.ID, time.Now())
			metrics.WakeInvocations.WithLabelValues("error").Inc()
			return http.StatusInternalServerError, map[string]string{"status": "error", "detail": err.Error()}
		}
		metrics.WakeInvocations.WithLabelValues("invoked").Inc()
		return http.StatusOK, map[string]string{"status": "invoked"}
	case <-time.After(2 * time.Second):
		// Invocation is taking longer than a synchronous check is worth;
		// treat it as accepted and let it run to completion in the
		// background.
		metrics.WakeInvocations.WithLabelValues("invoked").Inc()
		return http.StatusOK, map[string]string{"status": "invoked"}
	}
}

// Dispatch runs the same session-dedup-then-invoke logic as the HTTP
// handler, for callers that already hold a validated payload in-process
// (the receiver's wake evaluation step) and have no need for an HTTP
// round trip or the shared-secret check.
func (h *Handler) Dispatch(payload invoker.Payload) {
	h.dispatch(payload)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
