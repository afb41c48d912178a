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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/envelope"
	"github.com/swarmproto/swarmd/internal/config"
	"github.com/swarmproto/swarmd/store"
	"github.com/swarmproto/swarmd/transport"
)

var (
	sendSwarmID   string
	sendEndpoint  string
	sendRecipient string
	sendContent   string
	sendPriority  string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and deliver a message envelope to a peer",
	Long: `send constructs a message envelope, signs it with this node's
identity, POSTs it to the peer's /swarm/message endpoint, and records
the delivery outcome in this node's outbox.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendSwarmID, "swarm-id", "", "swarm the message belongs to (required)")
	sendCmd.Flags().StringVar(&sendEndpoint, "endpoint", "", "recipient's https endpoint (required)")
	sendCmd.Flags().StringVar(&sendRecipient, "recipient", envelope.RecipientBroadcast, "recipient agent_id, or \"broadcast\"")
	sendCmd.Flags().StringVar(&sendContent, "content", "", "message content (required)")
	sendCmd.Flags().StringVar(&sendPriority, "priority", "", "optional priority: low, normal, or high")
	sendCmd.MarkFlagRequired("swarm-id")
	sendCmd.MarkFlagRequired("endpoint")
	sendCmd.MarkFlagRequired("content")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir, Environment: environment})
	if err != nil {
		return fmt.Errorf("swarmd: loading config: %w", err)
	}
	signer, err := loadIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("swarmd: loading identity: %w", err)
	}

	now := time.Now().UTC()
	env := &envelope.Envelope{
		ProtocolVersion: "1.0",
		MessageID:       uuid.NewString(),
		Timestamp:       now,
		Sender:          envelope.Sender{AgentID: cfg.Identity.AgentID, Endpoint: cfg.Identity.Endpoint},
		Recipient:       sendRecipient,
		SwarmID:         sendSwarmID,
		Type:            envelope.TypeMessage,
		Content:         sendContent,
		Priority:        envelope.Priority(sendPriority),
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
		return fmt.Errorf("swarmd: signing envelope: %w", err)
	}
	env.Signature = base64.StdEncoding.EncodeToString(sig)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("swarmd: opening store: %w", err)
	}
	defer st.Close()

	if err := st.InsertOutbox(store.OutboxEntry{
		MessageID: env.MessageID, SwarmID: sendSwarmID, Recipient: sendRecipient, CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("swarmd: queueing outbox entry: %w", err)
	}

	client := transport.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := client.Send(ctx, env, sendEndpoint)
	if !res.Delivered {
		errMsg := "delivery failed"
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		if markErr := st.MarkOutboxFailed(env.MessageID, sendRecipient, errMsg); markErr != nil {
			return fmt.Errorf("swarmd: recording failure: %w", markErr)
		}
		return fmt.Errorf("swarmd: send failed after %d attempt(s): %s", res.Attempts, errMsg)
	}
	if err := st.MarkOutboxDelivered(env.MessageID, sendRecipient); err != nil {
		return fmt.Errorf("swarmd: recording delivery: %w", err)
	}
	fmt.Printf("message %s delivered: status=%d attempts=%d\n", env.MessageID, res.Status, res.Attempts)
	return nil
}
