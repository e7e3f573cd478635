package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/cli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serves the latest report, the stage graph, live engine events over SSE and
Prometheus metrics. With --trigger, POST /runs starts a run in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{
			"addr":    "serve.addr",
			"workers": "run.workers",
			"retries": "run.retries",
		})
		if err != nil {
			return err
		}
		trigger, _ := cmd.Flags().GetBool("trigger")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		return cli.Serve(ctx, cli.ServeOptions{
			Config:  cfg,
			Trigger: trigger,
			Stderr:  cmd.ErrOrStderr(),
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (default :9464)")
	serveCmd.Flags().Bool("trigger", false, "Allow POST /runs (launches the browser)")
	serveCmd.Flags().Int("workers", 0, "Maximum concurrent suites for triggered runs")
	serveCmd.Flags().Int("retries", 0, "Retries per failing suite for triggered runs")
}
