package main

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/drblury/ipcflow/internal/relay"
	"github.com/drblury/ipcflow/transport/ipc"
	"github.com/drblury/ipcflow/transport/transports"
)

func newRelayCommand(ctx *commandContext) *cobra.Command {
	var (
		target   string
		role     string
		natsURL  string
		archive  string
		forward  []string
		backward []string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Bridge socket topics to another transport",
		Long: "Bridge socket topics to another transport. --forward topics flow from the socket " +
			"to the target, --backward topics flow from the target to the socket.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(forward) == 0 && len(backward) == 0 {
				return errors.New("relay: at least one --forward or --backward topic is required")
			}

			sess, err := ctx.newSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			cfg := sess.cfg
			if role != "" {
				cfg.Role = role
			}
			if natsURL != "" {
				cfg.NATSURL = natsURL
			}
			if archive != "" {
				cfg.ArchiveFile = archive
			}

			transports.RegisterAll()
			ipc.Options = sess.opts

			var registerer prometheus.Registerer
			if sess.registry != nil {
				registerer = sess.registry
			}
			r, err := relay.New(cmd.Context(), &cfg, target, sess.log, relay.Dependencies{Registerer: registerer})
			if err != nil {
				return err
			}
			for _, topic := range forward {
				r.Forward(topic)
			}
			for _, topic := range backward {
				r.Backward(topic)
			}
			return r.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&target, "to", "nats", `Target transport: "nats", "file" or "channel"`)
	flags.StringVar(&role, "role", "", `Socket role: "server" or "client" (default from config)`)
	flags.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	flags.StringVar(&archive, "archive-file", "", "JSON lines file used by the file target")
	flags.StringSliceVar(&forward, "forward", nil, "Topics copied from the socket to the target")
	flags.StringSliceVar(&backward, "backward", nil, "Topics copied from the target to the socket")
	return cmd
}
