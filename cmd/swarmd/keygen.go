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
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/swarmproto/swarmd/crypto/keys"
	"github.com/swarmproto/swarmd/internal/vault"
)

var (
	keygenOutPath   string
	keygenVaultEnv  string
	keygenOverwrite bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new Ed25519 node identity",
	Long: `keygen generates a fresh Ed25519 key pair and writes its 32-byte
seed to disk with owner-only (0600) permissions.

When --vault-passphrase-env names a set environment variable, the seed
is sealed with internal/vault instead of written in the clear: the
vault envelope is written as <--out>.json, and identity.key_path in
config is set to the --out path itself (serve takes the vault directory
and key id from it).`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keygenOutPath, "out", "swarmd.key", "path to write the identity seed to (with a vault, the envelope goes to <out>.json)")
	keygenCmd.Flags().StringVar(&keygenVaultEnv, "vault-passphrase-env", "", "environment variable holding the vault passphrase")
	keygenCmd.Flags().BoolVar(&keygenOverwrite, "force", false, "overwrite an existing key at --out")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keygenOutPath); err == nil && !keygenOverwrite {
		return fmt.Errorf("swarmd: %s already exists, pass --force to overwrite", keygenOutPath)
	}

	kp, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return fmt.Errorf("swarmd: generating key: %w", err)
	}
	seed := kp.(interface{ Seed() []byte }).Seed()

	if keygenVaultEnv != "" {
		passphrase := os.Getenv(keygenVaultEnv)
		if passphrase == "" {
			return fmt.Errorf("swarmd: environment variable %s is not set", keygenVaultEnv)
		}
		v, err := vault.NewFileVault(filepath.Dir(keygenOutPath))
		if err != nil {
			return err
		}
		keyID := filepath.Base(keygenOutPath)
		if err := v.StoreEncrypted(keyID, seed, passphrase); err != nil {
			return fmt.Errorf("swarmd: sealing key: %w", err)
		}
		fmt.Printf("Vault-sealed identity written under %s (key id %s)\n", filepath.Dir(keygenOutPath), keyID)
	} else {
		if err := os.WriteFile(keygenOutPath, seed, 0o600); err != nil {
			return fmt.Errorf("swarmd: writing %s: %w", keygenOutPath, err)
		}
		fmt.Printf("Identity seed written to %s\n", keygenOutPath)
	}

	pub := kp.PublicKey().(ed25519.PublicKey)
	fmt.Printf("Public key: %s\n", base64.StdEncoding.EncodeToString(pub))
	return nil
}
