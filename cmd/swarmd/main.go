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
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swarmd",
	Short: "swarmd runs one node of a peer-to-peer agent messaging swarm",
	Long: `swarmd is the reference node for the swarm protocol: a small HTTP
service that signs and verifies agent-to-agent envelopes, tracks swarm
membership, evaluates wake triggers against inbound messages, and
activates a local agent process on demand.

This tool supports:
- Serving the receiver HTTP surface (swarm/message, swarm/join, swarm/info)
- Generating and vault-sealing a node's Ed25519 identity
- Reporting build and protocol version information`,
}

var configDir string
var environment string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory to load <env>.yaml/default.yaml/config.yaml from")
	rootCmd.PersistentFlags().StringVar(&environment, "env", "", "deployment environment (defaults to $SWARMD_ENV, then \"development\")")
}
