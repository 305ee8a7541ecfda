package main

import "github.com/spf13/cobra"

// Options holds CLI options shared by every role.
type Options struct {
	ConfigPath string
	LogLevel   string
}

// newRootCmd builds the fifobus command tree. exit receives the role's exit
// code.
func newRootCmd(exit func(code int)) *cobra.Command {
	var opts Options
	root := &cobra.Command{
		Use:           "fifobus",
		Short:         "Publish, ingest and analyze records over named pipes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	for _, r := range []struct {
		role  role
		short string
	}{
		{rolePublish, "Create the pipes and publish synthetic claims and diagnoses"},
		{roleIngest, "Subscribe to the pipes and store each new record"},
		{roleAnalytics, "Run the periodic stats query"},
	} {
		root.AddCommand(&cobra.Command{
			Use:   string(r.role),
			Short: r.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				exit(run(r.role, opts))
				return nil
			},
		})
	}
	root.AddCommand(newGenFrameCmd(), newTailCmd(&opts))
	return root
}
