package vctlcmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/inancgumus/screen"
	"github.com/spf13/cobra"

	"github.com/saltnpepper97/verdant/internal/ipc"
)

var watch bool

// statusCmd implements spec §6.2's GetStatus/GetServiceStatus, supplemented
// per SPEC_FULL.md onto the CLI surface. --watch clears and redraws on an
// interval, grounded on core/entrypoints/monitor.T.doOneShot's
// screen.Clear()/screen.MoveTopLeft() pattern.
var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show the status of one or every supervised service",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		if !watch {
			renderStatus(name, os.Stdout, false)
			return
		}
		for {
			renderStatus(name, os.Stdout, true)
			time.Sleep(2 * time.Second)
		}
	},
}

func init() {
	statusCmd.Flags().BoolVarP(&watch, "watch", "w", false, "refresh the status view every 2s")
	rootCmd.AddCommand(statusCmd)
}

func renderStatus(name string, out *os.File, clear bool) {
	client := ipc.NewClient(socketPath)

	var cmd ipc.Command
	if name != "" {
		cmd = ipc.ServiceStatus(name)
	} else {
		cmd = ipc.GetStatus()
	}

	resp, err := client.Send(ipc.Request{Target: ipc.TargetVerdantd, Command: cmd}, 5*time.Second)
	if clear {
		screen.Clear()
		screen.MoveTopLeft()
	}
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	if !resp.Success {
		fmt.Fprintln(out, resp.Message)
		return
	}

	var entries []ipc.ServiceStatus
	if name != "" {
		var one ipc.ServiceStatus
		if err := json.Unmarshal(resp.Data, &one); err != nil {
			fmt.Fprintln(out, resp.Message)
			return
		}
		entries = []ipc.ServiceStatus{one}
	} else if err := json.Unmarshal(resp.Data, &entries); err != nil {
		fmt.Fprintln(out, resp.Message)
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPID\tRESTARTS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", e.Name, e.State, e.Pid, e.Restarts)
	}
	tw.Flush()
}
