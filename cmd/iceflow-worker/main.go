// Command iceflow-worker hosts one media pipeline for a controller. It
// speaks the bridge protocol on stdin and stdout, logs to stderr and is
// configured through ICEFLOW_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kbukum/iceflow/version"
	"github.com/kbukum/iceflow/worker"
)

var rootCmd = &cobra.Command{
	Use:           "iceflow-worker",
	Short:         "Out-of-process media pipeline worker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve one pipeline over stdin/stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := worker.LoadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
		defer stop()
		return worker.ServeStdio(ctx, cfg)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <element-type>",
	Short: "Print whether an element type can be created",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := worker.LoadConfig()
		if err != nil {
			return err
		}
		return worker.Probe(cmd.OutOrStdout(), cfg, args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, probeCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "iceflow-worker: %v\n", err)
		os.Exit(1)
	}
}
