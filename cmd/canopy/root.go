package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Canopy verifies a self-hosted infrastructure stack end to end",
	Long: `Canopy drives a headless browser through scripted suites against the vault,
identity broker, dashboard, directory and code host, probes their health APIs
and reports one verdict per suite.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code through cobra.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if e, ok := err.(exitError); ok {
			os.Exit(e.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("dir", ".", "Project directory holding canopy.yaml and .env")
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default <dir>/canopy.yaml)")
	rootCmd.PersistentFlags().String("env-file", "", `Path to the .env file ("-" disables it)`)
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("ci", false, "Use unattended defaults (also read from CI)")
}

// loadConfig resolves the configuration. flagKeys maps command flags to
// config keys; only flags set on the command line override.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (config.Config, error) {
	dir, _ := cmd.Flags().GetString("dir")
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	keys := map[string]string{
		"log-level": "log.level",
		"ci":        "ci",
	}
	for flag, key := range flagKeys {
		keys[flag] = key
	}

	overrides := make(map[string]any)
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "bool":
			overrides[key], _ = cmd.Flags().GetBool(flag)
		case "int":
			overrides[key], _ = cmd.Flags().GetInt(flag)
		case "duration":
			overrides[key], _ = cmd.Flags().GetDuration(flag)
		case "stringSlice":
			overrides[key], _ = cmd.Flags().GetStringSlice(flag)
		default:
			overrides[key] = f.Value.String()
		}
	}

	return config.Load(config.LoadOptions{
		ProjectDir:    dir,
		ConfigPath:    configPath,
		EnvFile:       envFile,
		FlagOverrides: overrides,
	})
}
