package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/cli"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the verification suites",
	Long: `Runs the stage graph: setup authenticates once and persists the session
fixture, authenticated stages reuse it and standalone stages run beside them.
Exits 1 when any suite failed or timed out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{
			"workers":         "run.workers",
			"retries":         "run.retries",
			"timeout":         "run.suite_timeout",
			"reporter":        "run.reporters",
			"grep":            "run.grep",
			"discard-fixture": "run.discard_fixture",
		})
		if err != nil {
			return err
		}
		if headed, _ := cmd.Flags().GetBool("headed"); headed {
			cfg.Browser.Headless = false
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		runID, _ := cmd.Flags().GetString("run-id")
		code, err := cli.Run(ctx, cli.RunOptions{
			Config: cfg,
			RunID:  runID,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}
		if code != 0 {
			return exitError{code}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("workers", 0, "Maximum concurrent suites")
	runCmd.Flags().Int("retries", 0, "Retries per failing suite")
	runCmd.Flags().Duration("timeout", 0, "Per-suite timeout")
	runCmd.Flags().StringSlice("reporter", nil, "Reporters: list, json, markdown, github")
	runCmd.Flags().StringSlice("grep", nil, "Only run suites whose ID starts with one of these prefixes")
	runCmd.Flags().Bool("headed", false, "Show the browser window")
	runCmd.Flags().Bool("discard-fixture", false, "Delete the session fixture after the run")
	runCmd.Flags().String("run-id", "", "Run identifier (generated when empty)")

	rootCmd.RunE = runCmd.RunE
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
}
