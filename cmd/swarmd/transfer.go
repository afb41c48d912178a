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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/envelope"
	"github.com/swarmproto/swarmd/internal/config"
	"github.com/swarmproto/swarmd/transport"
)

var (
	transferSwarmID        string
	transferMasterEndpoint string
	transferDecline        bool
	transferReason         string
)

var transferRespondCmd = &cobra.Command{
	Use:   "respond-transfer",
	Short: "Accept or decline a pending master-authority transfer",
	Long: `respond-transfer signs and sends a "transfer_accepted" (default) or
"transfer_declined" (--decline) system envelope to the swarm's current
master over /swarm/message. The master applies the decision on receipt: accepted swaps master and
broadcasts master_changed; declined leaves master unchanged.`,
	RunE: runTransferRespond,
}

func init() {
	rootCmd.AddCommand(transferRespondCmd)
	transferRespondCmd.Flags().StringVar(&transferSwarmID, "swarm-id", "", "swarm whose transfer this responds to (required)")
	transferRespondCmd.Flags().StringVar(&transferMasterEndpoint, "master-endpoint", "", "current master's https endpoint (required)")
	transferRespondCmd.Flags().BoolVar(&transferDecline, "decline", false, "decline the transfer instead of accepting it")
	transferRespondCmd.Flags().StringVar(&transferReason, "reason", "", "reason to record when declining")
	transferRespondCmd.MarkFlagRequired("swarm-id")
	transferRespondCmd.MarkFlagRequired("master-endpoint")
}

func runTransferRespond(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir, Environment: environment})
	if err != nil {
		return fmt.Errorf("swarmd: loading config: %w", err)
	}
	signer, err := loadIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("swarmd: loading identity: %w", err)
	}

	action := envelope.ActionTransferAccepted
	if transferDecline {
		action = envelope.ActionTransferDeclined
	}
	content := envelope.SystemContent{
		Action:  action,
		SwarmID: transferSwarmID,
		AgentID: cfg.Identity.AgentID,
		Reason:  transferReason,
	}
	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("swarmd: encoding transfer response: %w", err)
	}

	now := time.Now().UTC()
	env := &envelope.Envelope{
		ProtocolVersion: "1.0",
		MessageID:       uuid.NewString(),
		Timestamp:       now,
		Sender:          envelope.Sender{AgentID: cfg.Identity.AgentID, Endpoint: cfg.Identity.Endpoint},
		Recipient:       envelope.RecipientBroadcast,
		SwarmID:         transferSwarmID,
		Type:            envelope.TypeSystem,
		Content:         string(body),
	}
	sig, err := swarmcrypto.Sign(swarmcrypto.CanonicalFields{
		MessageID: env.MessageID,
		Timestamp: envelope.TimestampWire(env.Timestamp),
		SwarmID:   env.SwarmID,
		Recipient: env.Recipient,
		Type:      string(env.Type),
		Content:   env.Content,
	}, signer)
	if err != nil {
		return fmt.Errorf("swarmd: signing transfer response: %w", err)
	}
	env.Signature = base64.StdEncoding.EncodeToString(sig)

	client := transport.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := client.Send(ctx, env, transferMasterEndpoint)
	if res.Err != nil {
		return fmt.Errorf("swarmd: transfer response failed after %d attempt(s): %w", res.Attempts, res.Err)
	}
	fmt.Printf("transfer response delivered: action=%s status=%d attempts=%d\n", action, res.Status, res.Attempts)
	return nil
}
