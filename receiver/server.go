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

// Package receiver implements the inbound HTTP surface of a swarm node:
// POST /swarm/message and POST /swarm/join, running the receive pipeline
// ahead of inbox insertion and wake evaluation.
package receiver

import (
	"crypto/ed25519"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/swarmproto/swarmd/health"
	"github.com/swarmproto/swarmd/internal/logger"
	"github.com/swarmproto/swarmd/internal/metrics"
	"github.com/swarmproto/swarmd/membership"
	"github.com/swarmproto/swarmd/store"
	"github.com/swarmproto/swarmd/transport"
	"github.com/swarmproto/swarmd/waketrigger"
)

// WakeNotifier dispatches a WAKE decision to the local /api/wake handler.
// It is a narrow interface (rather than an import of package wakeendpoint)
// so the receiver never has to know whether wake dispatch happens via an
// in-process call or a loopback HTTP POST.
type WakeNotifier interface {
	NotifyWake(messageID, swarmID, senderID, notificationLevel string)
}

// PreferencesSource supplies the per-swarm notification preferences
// WakeTrigger evaluates against. Swarm-level preferences (rather than a
// single global set) let each swarm mute itself independently.
type PreferencesSource interface {
	Preferences(swarmID string) waketrigger.Preferences
}

// ProtocolVersion is the protocol_version this node advertises on
// /swarm/info and validates incoming envelopes' major version against.
const ProtocolVersion = "1.0"

// Server holds the dependencies the receive pipeline needs and exposes a
// chi.Router mountable under a parent mux.
type Server struct {
	store      *store.Store
	membership *membership.Service
	keys       *transport.KeyCache
	limiter    *RateLimiter
	wake       WakeNotifier
	prefs      PreferencesSource
	selfID     string
	log        logger.Logger
	now        func() time.Time

	selfEndpoint  string
	selfPublicKey ed25519.PublicKey
	capabilities  []string

	health      *health.HealthChecker
	wakeHandler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithIdentity attaches the information /swarm/info reports: this node's
// advertised endpoint and public key.
func WithIdentity(endpoint string, pub ed25519.PublicKey) Option {
	return func(s *Server) { s.selfEndpoint, s.selfPublicKey = endpoint, pub }
}

// WithCapabilities sets the capability list advertised on /swarm/info.
func WithCapabilities(capabilities []string) Option {
	return func(s *Server) { s.capabilities = capabilities }
}

// WithHealthChecker attaches a health.HealthChecker whose aggregate
// status backs /swarm/health. Without one, /swarm/health always reports
// healthy (liveness only, no dependency checks).
func WithHealthChecker(hc *health.HealthChecker) Option {
	return func(s *Server) { s.health = hc }
}

// WithRateLimits overrides the default per-sender and per-IP limits.
func WithRateLimits(messagesPerMinute, joinsPerHour int) Option {
	return func(s *Server) { s.limiter = NewRateLimiterWithLimits(messagesPerMinute, joinsPerHour) }
}

// WithWakeEndpoint mounts POST /api/wake on this Server's router, backed
// by h (normally a *wakeendpoint.Handler). Omitting this option leaves
// /api/wake unmounted.
func WithWakeEndpoint(h http.Handler) Option {
	return func(s *Server) { s.wakeHandler = h }
}

// New builds a Server. selfID is this node's own agent_id, used to decide
// whether an inbound envelope targets self or another local agent running
// the same swarmd process.
func New(st *store.Store, svc *membership.Service, keys *transport.KeyCache, wake WakeNotifier, prefs PreferencesSource, selfID string, opts ...Option) *Server {
	s := &Server{
		store:      st,
		membership: svc,
		keys:       keys,
		limiter:    NewRateLimiter(),
		wake:       wake,
		prefs:      prefs,
		selfID:     selfID,
		log:        logger.Noop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router for the receiver's HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/swarm/message", s.handleMessage)
	r.Post("/swarm/join", s.handleJoin)
	r.Get("/swarm/health", s.handleHealth)
	r.Get("/swarm/info", s.handleInfo)
	if s.wakeHandler != nil {
		r.Post("/api/wake", s.wakeHandler.ServeHTTP)
	}

	return r
}

// statusRecorder captures the status code a handler wrote, for metrics;
// chi's own middleware.WrapResponseWriter does the same but we keep this
// narrow rather than pull in its full interception surface.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := s.now().Sub(start)
		s.log.Debug("receiver: request handled",
			logger.String("path", r.URL.Path),
			logger.Duration("elapsed", elapsed))
		metrics.HTTPRequestDuration.WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
	})
}
