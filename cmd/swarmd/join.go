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
	"github.com/swarmproto/swarmd/invite"
	"github.com/swarmproto/swarmd/transport"
)

var joinInviteURL string

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Present an invite token to a swarm's master over /swarm/join",
	Long: `join parses a swarm://<swarm_id>@<host>?token=<jwt> invite URL,
builds and signs a join envelope with this node's own identity, and
posts it to the master's /swarm/join endpoint via Transport. On a 2xx
reply the HTTP status and the attempt count are printed; the reply
body is not read. A 4xx reply, such as a rejected token, is returned
as an error.`,
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinCmd.Flags().StringVar(&joinInviteURL, "invite-url", "", "swarm://<swarm_id>@<host>?token=<jwt> invite URL (required)")
	joinCmd.MarkFlagRequired("invite-url")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir, Environment: environment})
	if err != nil {
		return fmt.Errorf("swarmd: loading config: %w", err)
	}
	signer, err := loadIdentity(cfg.Identity)
	if err != nil {
		return fmt.Errorf("swarmd: loading identity: %w", err)
	}

	swarmID, host, token, err := invite.ParseInviteURL(joinInviteURL)
	if err != nil {
		return fmt.Errorf("swarmd: parsing invite URL: %w", err)
	}

	body, err := json.Marshal(struct {
		Token     string `json:"invite_token"`
		InviteURL string `json:"invite_url"`
	}{Token: token, InviteURL: joinInviteURL})
	if err != nil {
		return fmt.Errorf("swarmd: encoding join body: %w", err)
	}

	now := time.Now().UTC()
	env := &envelope.Envelope{
		ProtocolVersion: "1.0",
		MessageID:       uuid.NewString(),
		Timestamp:       now,
		Sender:          envelope.Sender{AgentID: cfg.Identity.AgentID, Endpoint: cfg.Identity.Endpoint},
		Recipient:       envelope.RecipientBroadcast,
		SwarmID:         swarmID,
		Type:            envelope.TypeMessage,
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
		return fmt.Errorf("swarmd: signing join envelope: %w", err)
	}
	env.Signature = base64.StdEncoding.EncodeToString(sig)

	client := transport.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := client.SendJoin(ctx, env, "https://"+host)
	if res.Err != nil {
		return fmt.Errorf("swarmd: join request failed after %d attempt(s): %w", res.Attempts, res.Err)
	}
	fmt.Printf("join request delivered: status=%d attempts=%d\n", res.Status, res.Attempts)
	return nil
}
