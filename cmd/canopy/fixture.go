package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/cli"
)

var fixtureCmd = &cobra.Command{
	Use:   "fixture",
	Short: "Inspect and clean persisted session fixtures",
}

func fixtureOptions(cmd *cobra.Command) (cli.FixtureOptions, error) {
	cfg, err := loadConfig(cmd, map[string]string{"backend": "fixture.backend"})
	if err != nil {
		return cli.FixtureOptions{}, err
	}
	return cli.FixtureOptions{Config: cfg, Stdout: cmd.OutOrStdout()}, nil
}

var fixtureListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List run IDs with a persisted fixture",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := fixtureOptions(cmd)
		if err != nil {
			return err
		}
		return cli.ListFixtures(cmd.Context(), opts)
	},
}

var fixtureInspectCmd = &cobra.Command{
	Use:   "inspect <run-id>",
	Short: "Print a fixture with session secrets masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := fixtureOptions(cmd)
		if err != nil {
			return err
		}
		return cli.InspectFixture(cmd.Context(), opts, args[0])
	},
}

var fixtureRemoveCmd = &cobra.Command{
	Use:   "rm [run-id...]",
	Short: "Delete fixtures by run ID, or every fixture older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if len(args) == 0 && olderThan <= 0 {
			return cmd.Usage()
		}
		opts, err := fixtureOptions(cmd)
		if err != nil {
			return err
		}
		return cli.RemoveFixtures(cmd.Context(), opts, olderThan, args...)
	},
}

func init() {
	rootCmd.AddCommand(fixtureCmd)
	fixtureCmd.AddCommand(fixtureListCmd, fixtureInspectCmd, fixtureRemoveCmd)

	fixtureCmd.PersistentFlags().String("backend", "", "Fixture backend: file, redis or memory")
	fixtureRemoveCmd.Flags().Duration("older-than", 0, "Remove fixtures captured before this age")
}
