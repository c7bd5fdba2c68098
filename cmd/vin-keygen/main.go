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

// Command vin-keygen pre-provisions a node's persisted signing and
// encryption key file, so key_path can be set ahead of the first
// vin-node start instead of generating an identity on boot.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vin-protocol/vin/keymanager"
	"github.com/vin-protocol/vin/teeadapter"
)

var (
	outPath string
	force   bool
)

var rootCmd = &cobra.Command{
	Use:   "vin-keygen",
	Short: "Generate and persist a VIN node key file",
	RunE:  runKeygen,
}

func main() {
	rootCmd.Flags().StringVar(&outPath, "out", "", "path to write the key file (required)")
	rootCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	rootCmd.MarkFlagRequired("out")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vin-keygen: %v\n", err)
		os.Exit(1)
	}
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(outPath); err == nil {
		if !force {
			return fmt.Errorf("%s already exists; pass --force to overwrite", outPath)
		}
		if err := os.Remove(outPath); err != nil {
			return fmt.Errorf("remove existing key file: %w", err)
		}
	}

	// Resolve persists a freshly generated identity when keyPath doesn't
	// exist yet, which is exactly the pre-provisioning step this command
	// performs.
	km, err := keymanager.Resolve(context.Background(), teeadapter.New(""), outPath)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	fmt.Printf("wrote %s\nnode_pubkey: %s\n", outPath, km.NodePubkeyBase64URL())
	return nil
}
