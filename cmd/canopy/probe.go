package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/cli"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check service health without a browser",
	Long: `Probes the vault, identity broker and dashboard health APIs, the front page
of every service and the broker's OpenID discovery document. Exits 1 when any
check is unhealthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{
			"timeout":  "probe.timeout",
			"insecure": "probe.insecure_tls",
			"policies": "probe.policies_file",
		})
		if err != nil {
			return err
		}
		realm, _ := cmd.Flags().GetString("realm")
		jsonMode, _ := cmd.Flags().GetBool("json")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		code, err := cli.Probe(ctx, cli.ProbeOptions{
			Config: cfg,
			Realm:  realm,
			JSON:   jsonMode,
			Stdout: cmd.OutOrStdout(),
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
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().Duration("timeout", 0, "Per-probe timeout")
	probeCmd.Flags().Bool("insecure", false, "Skip TLS verification")
	probeCmd.Flags().String("policies", "", "YAML or JSON file overriding the health policies")
	probeCmd.Flags().String("realm", "master", `Realm whose discovery document is checked ("" skips)`)
	probeCmd.Flags().Bool("json", false, "Print results as JSON")
}
