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

package receiver

import (
	"sync"

	"github.com/swarmproto/swarmd/invoker"
	"github.com/swarmproto/swarmd/wakeendpoint"
	"github.com/swarmproto/swarmd/waketrigger"
)

// LocalWakeNotifier dispatches a WAKE decision straight into an in-process
// wakeendpoint.Handler, skipping the HTTP hop a remote agent would use:
// the receiver and the wake endpoint run in the same swarmd process, so
// there is no network boundary to cross for a local wake.
type LocalWakeNotifier struct {
	handler *wakeendpoint.Handler
}

// NewLocalWakeNotifier wraps an existing wakeendpoint.Handler.
func NewLocalWakeNotifier(h *wakeendpoint.Handler) *LocalWakeNotifier {
	return &LocalWakeNotifier{handler: h}
}

// NotifyWake implements WakeNotifier.
func (n *LocalWakeNotifier) NotifyWake(messageID, swarmID, senderID, notificationLevel string) {
	n.handler.Dispatch(invoker.Payload{
		MessageID:         messageID,
		SwarmID:           swarmID,
		SenderID:          senderID,
		NotificationLevel: notificationLevel,
	})
}

// StaticPreferences serves the same waketrigger.Preferences for every
// swarm a node belongs to, with the option to override individual swarms
// (e.g. a swarm muted independently of the node-wide defaults).
type StaticPreferences struct {
	mu        sync.RWMutex
	defaults  waketrigger.Preferences
	overrides map[string]waketrigger.Preferences
}

// NewStaticPreferences builds a StaticPreferences with the given defaults.
func NewStaticPreferences(defaults waketrigger.Preferences) *StaticPreferences {
	return &StaticPreferences{defaults: defaults, overrides: make(map[string]waketrigger.Preferences)}
}

// SetSwarmPreferences overrides the preferences used for one swarm_id.
func (p *StaticPreferences) SetSwarmPreferences(swarmID string, prefs waketrigger.Preferences) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[swarmID] = prefs
}

// Preferences implements PreferencesSource.
func (p *StaticPreferences) Preferences(swarmID string) waketrigger.Preferences {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if prefs, ok := p.overrides[swarmID]; ok {
		return prefs
	}
	return p.defaults
}
