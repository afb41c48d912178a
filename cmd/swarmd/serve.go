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

package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/crypto/keys"
	"github.com/swarmproto/swarmd/internal/config"
	"github.com/swarmproto/swarmd/internal/logger"
	"github.com/swarmproto/swarmd/internal/metrics"
	"github.com/swarmproto/swarmd/internal/vault"
	"github.com/swarmproto/swarmd/invoker"
	"github.com/swarmproto/swarmd/membership"
	"github.com/swarmproto/swarmd/notifications"
	"github.com/swarmproto/swarmd/receiver"
	"github.com/swarmproto/swarmd/session"
	"github.com/swarmproto/swarmd/store"
	"github.com/swarmproto/swarmd/transport"
	"github.com/swarmproto/swarmd/wakeendpoint"
	"github.com/swarmproto/swarmd/waketrigger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the receiver HTTP surface for this node",
	Long: `serve loads this node's configuration and identity, opens its
store, and runs the receiver HTTP surface (swarm/message, swarm/join,
swarm/health, swarm/info, and, when enabled, api/wake) until it
receives SIGINT or SIGTERM, at which point it drains in-flight
requests before exiting.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir, Environment: environment})
	if err != nil {
		return fmt.Errorf("swarmd: loading config: %w", err)
	}

	log := buildLogger(cfg.Logging)
	log.Info("swarmd: starting", logger.String("agent_id", cfg.Identity.AgentID), logger.String("environment", cfg.Environment))

	signer, err := loadIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("swarmd: loading identity: %w", err)
	}
	pub, ok := signer.PublicKey().(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("swarmd: identity key is not Ed25519")
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("swarmd: opening store: %w", err)
	}
	defer st.Close()

	keyCache := transport.NewKeyCache(st)
	keyCache.Seed(cfg.Identity.AgentID, pub)

	client := transport.NewClient(transport.WithLogger(log))
	notifier := notifications.New(st, signer, cfg.Identity.AgentID, cfg.Identity.Endpoint, client, log)
	svc := membership.New(st, signer, cfg.Identity.AgentID, notifier)

	sessionTimeout := time.Duration(cfg.Session.TimeoutSeconds) * time.Second
	sessions, err := session.New(st, sessionTimeout, log)
	if err != nil {
		return fmt.Errorf("swarmd: starting session manager: %w", err)
	}
	defer sessions.Close()

	inv, err := invoker.New(cfg.Invoker.ToInvokerConfig())
	if err != nil {
		return fmt.Errorf("swarmd: building invoker: %w", err)
	}
	wakeHandler := wakeendpoint.New(cfg.Invoker.SharedSecret, sessions, inv, log)
	localWake := receiver.NewLocalWakeNotifier(wakeHandler)
	prefs := receiver.NewStaticPreferences(wakePreferences(cfg.Wake))

	health := buildHealthChecker(cfg, st, signer, log)

	opts := []receiver.Option{
		receiver.WithLogger(log),
		receiver.WithIdentity(cfg.Identity.Endpoint, pub),
		receiver.WithCapabilities([]string{"messaging", "wake"}),
		receiver.WithHealthChecker(health),
		receiver.WithRateLimits(cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.JoinsPerHour),
	}
	if cfg.Wake.EndpointEnabled {
		opts = append(opts, receiver.WithWakeEndpoint(wakeHandler))
	}
	srv := receiver.New(st, svc, keyCache, localWake, prefs, cfg.Identity.AgentID, opts...)

	stopMaintenance := make(chan struct{})
	defer close(stopMaintenance)
	go runMaintenance(st, sessionTimeout, log, stopMaintenance)

	if cfg.Metrics.Enabled {
		go func() {
			log.Info("swarmd: metrics listening", logger.String("addr", cfg.Metrics.ListenAddr))
			if err := metrics.StartServer(cfg.Metrics.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("swarmd: metrics server error", logger.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("swarmd: listening", logger.String("addr", cfg.Server.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("swarmd: server error", logger.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("swarmd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("swarmd: shutdown error", logger.Error(err))
	}
	return nil
}

// runMaintenance periodically purges deleted inbox rows past their
// retention window and expires stale persisted sessions.
func runMaintenance(st *store.Store, sessionTimeout time.Duration, log logger.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n, err := st.PurgeDeletedInbox(24 * time.Hour); err != nil {
				log.Warn("swarmd: inbox purge failed", logger.Error(err))
			} else if n > 0 {
				log.Debug("swarmd: purged deleted inbox rows", logger.Int("rows", int(n)))
			}
			if n, err := st.ExpireSessions(sessionTimeout); err != nil {
				log.Warn("swarmd: session expiry failed", logger.Error(err))
			} else if n > 0 {
				log.Debug("swarmd: expired stale sessions", logger.Int("rows", int(n)))
			}
		}
	}
}

// loadIdentity reads the node's Ed25519 seed from cfg.KeyPath, decrypting
// it via internal/vault when VaultPassphraseEnv names a set environment
// variable, or reading it as a raw 32-byte file otherwise.
func loadIdentity(cfg config.IdentityConfig) (swarmcrypto.KeyPair, error) {
	if cfg.VaultPassphraseEnv != "" {
		passphrase := os.Getenv(cfg.VaultPassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("swarmd: environment variable %s is not set", cfg.VaultPassphraseEnv)
		}
		v, err := vault.NewFileVault(filepath.Dir(cfg.KeyPath))
		if err != nil {
			return nil, err
		}
		keyID := filepath.Base(cfg.KeyPath)
		seed, err := v.LoadDecrypted(keyID, passphrase)
		if err != nil {
			return nil, err
		}
		return keys.LoadEd25519KeyPair(seed)
	}

	seed, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s (run `swarmd keygen` first): %w", cfg.KeyPath, err)
	}
	return keys.LoadEd25519KeyPair(seed)
}

// wakePreferences translates the flat YAML wake defaults into the
// condition-map shape waketrigger.Evaluate consumes.
func wakePreferences(cfg config.WakeConfig) waketrigger.Preferences {
	watched := make(map[string]bool, len(cfg.WatchedAgents))
	for _, a := range cfg.WatchedAgents {
		watched[a] = true
	}
	return waketrigger.Preferences{
		Enabled:      cfg.Enabled,
		DefaultLevel: waketrigger.NotificationLevel(cfg.DefaultLevel),
		WakeConditions: map[waketrigger.Condition]bool{
			waketrigger.ConditionAnyMessage:        cfg.AnyMessage,
			waketrigger.ConditionDirectMention:     cfg.DirectMention,
			waketrigger.ConditionHighPriority:      cfg.HighPriority,
			waketrigger.ConditionSwarmSystemMsg:    cfg.SwarmSystemMsg,
			waketrigger.ConditionFromSpecificAgent: len(watched) > 0,
			waketrigger.ConditionKeywordMatch:      len(cfg.WatchedKeywords) > 0,
		},
		WatchedAgents:   watched,
		WatchedKeywords: cfg.WatchedKeywords,
		MutedSwarms:     map[string]bool{},
		QuietHours: waketrigger.QuietHours{
			Enabled: cfg.QuietHoursOn,
			Start:   cfg.QuietHoursStart,
			End:     cfg.QuietHoursEnd,
		},
	}
}

func buildLogger(cfg config.LoggingConfig) logger.Logger {
	out := os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	l := logger.NewLogger(out, logger.ParseLevel(cfg.Level))
	if cfg.Format == "pretty" {
		l.SetPrettyPrint(true)
	}
	return l
}
