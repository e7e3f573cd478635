package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/cli"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the stage graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the stage graph with the number of
suites per stage, colored by the last report when one exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{"grep": "run.grep"})
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		reportPath := cfg.Run.ReportPath
		if cmd.Flags().Changed("report") {
			reportPath, _ = cmd.Flags().GetString("report")
		}
		return cli.Graph(cmd.Context(), cli.GraphOptions{
			Config:     cfg,
			Format:     format,
			ReportPath: reportPath,
			Stdout:     cmd.OutOrStdout(),
		})
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().String("format", "mermaid", "Output format: mermaid or json")
	graphCmd.Flags().String("report", "", "Report to overlay (default run.report_path)")
	graphCmd.Flags().StringSlice("grep", nil, "Only count suites whose ID starts with one of these prefixes")
}
