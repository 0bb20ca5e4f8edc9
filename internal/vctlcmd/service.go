// start/stop are the CLI verbs SPEC_FULL.md supplements onto spec §6.4,
// reaching the already-specified StartService/StopService wire commands
// and registry operations (§6.2, §4.E).
package vctlcmd

import (
	"github.com/spf13/cobra"

	"github.com/saltnpepper97/verdant/internal/ipc"
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a single registered service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		send(ipc.StartService(args[0]))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a single registered service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		send(ipc.StopService(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}
