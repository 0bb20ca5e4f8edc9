// Package vctlcmd implements the vctl control CLI of spec §6.4, built
// the way the teacher builds its cmd/ tree: package-level *cobra.Command
// vars registered from init(), grounded on cmd/svc_set.go and
// cmd/daemon_stats.go's style.
package vctlcmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/saltnpepper97/verdant/internal/config"
	"github.com/saltnpepper97/verdant/internal/ipc"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "vctl",
	Short: "Control the verdant service manager (verdantd)",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.DefaultSocketPath,
		"path to the verdantd control socket")
}

// Execute runs the vctl command tree, exiting non-zero on error per
// spec §6.4 "Exit code 0 if response.success, non-zero otherwise".
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// send dials socketPath, sends cmd, and prints/exits per spec §6.4: the
// response message goes to stdout on success, stderr on failure, and
// the process exit code mirrors response.success.
func send(cmd ipc.Command) {
	client := ipc.NewClient(socketPath)
	resp, err := client.Send(ipc.Request{Target: ipc.TargetVerdantd, Command: cmd}, 5*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintln(os.Stderr, resp.Message)
		os.Exit(1)
	}
	fmt.Println(resp.Message)
}
