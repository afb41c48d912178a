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
	"errors"
	"time"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/health"
	"github.com/swarmproto/swarmd/internal/config"
	"github.com/swarmproto/swarmd/internal/logger"
	"github.com/swarmproto/swarmd/store"
)

// buildHealthChecker wires the store/identity/invoker checks backing
// GET /swarm/health.
func buildHealthChecker(cfg *config.Config, st *store.Store, signer swarmcrypto.KeyPair, log logger.Logger) *health.HealthChecker {
	hc := health.NewHealthChecker(cfg.Health.CheckTimeout)
	hc.SetLogger(log)
	hc.SetCacheTTL(time.Duration(cfg.Health.CacheTTLSeconds) * time.Second)

	hc.RegisterCheck("store", health.StoreHealthCheck(func(ctx context.Context) error {
		return st.Ping()
	}))
	hc.RegisterCheck("identity", health.IdentityHealthCheck(func() error {
		if signer == nil || signer.PublicKey() == nil {
			return errors.New("identity key not loaded")
		}
		return nil
	}))
	hc.RegisterCheck("invoker", health.InvokerHealthCheck(func(ctx context.Context) error {
		if cfg.Invoker.Method == "" {
			return errors.New("no invoker method configured")
		}
		return nil
	}))
	return hc
}
