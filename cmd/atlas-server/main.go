/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"github.com/spf13/cobra"

	"github.com/maklerhaus/atlas/cmd/atlas-server/startcmd"
	"github.com/maklerhaus/atlas/internal/pkg/log"
)

var logger = log.New("atlas-server")

func main() {
	rootCmd := &cobra.Command{
		Use: "atlas-server",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to run atlas-server.", log.WithError(err))
	}
}
