package main

import "github.com/spf13/cobra"

func newRootCommand() *cobra.Command {
	var flags globalFlags
	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:           "ipcflow",
		Short:         "Publish and subscribe over Unix domain sockets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path (TOML)")
	pf.StringVar(&flags.socket, "socket", "", "Path to the Unix domain socket")
	pf.StringVar(&flags.codec, "codec", "", `Wire codec: "json" or "proto"`)
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&flags.metricsAddress, "metrics-address", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPublishCommand(ctx))
	rootCmd.AddCommand(newSubscribeCommand(ctx))
	rootCmd.AddCommand(newRelayCommand(ctx))

	return rootCmd
}
