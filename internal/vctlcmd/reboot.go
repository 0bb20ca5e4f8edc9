package vctlcmd

import (
	"github.com/spf13/cobra"

	"github.com/saltnpepper97/verdant/internal/ipc"
)

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Stop every supervised service and request a reboot",
	Run: func(cmd *cobra.Command, args []string) {
		send(ipc.Reboot())
	},
}

func init() {
	rootCmd.AddCommand(rebootCmd)
}
