package vctlcmd

import (
	"github.com/spf13/cobra"

	"github.com/saltnpepper97/verdant/internal/ipc"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop every supervised service and hand off to init",
	Run: func(cmd *cobra.Command, args []string) {
		send(ipc.Shutdown())
	},
}

func init() {
	rootCmd.AddCommand(shutdownCmd)
}
