package cli

import (
	"fmt"

	"github.com/malbeclabs/sparkify/config"
	"github.com/malbeclabs/sparkify/pkg/etl"
	"github.com/spf13/cobra"
)

// BuildInfo is stamped into the binary by LDFLAGS.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func NewRootCmd(info BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sparkify-etl",
		Short:         "Build the sparkify song-play star schema from the song catalog and event logs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewStageCmd(info, etl.StageAll, "run", "Run the catalog and log stages").Command(),
		NewStageCmd(info, etl.StageSongs, "songs", "Write the songs and artists tables").Command(),
		NewStageCmd(info, etl.StageLogs, "logs", "Write the users, time and songplays tables, reading songs back from the sink").Command(),
		newVersionCmd(info),
	)
	return rootCmd
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sparkify-etl %s (commit %s, built %s)\n", info.Version, info.Commit, info.Date)
			return err
		},
	}
}
