// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dagrider",
	Short: "A DAG-based BFT consensus node",
	Long: `dagrider runs one validator of a DAG-Rider-style Byzantine fault
tolerant consensus engine: a round-based vertex DAG with a six-step
leader commit protocol over a fixed committee.`,
}

func main() {
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
