package main

import (
	"context"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/drblury/ipcflow/internal/runtime"
	"github.com/drblury/ipcflow/internal/runtime/events"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
)

func newSubscribeCommand(ctx *commandContext) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "subscribe [TOPIC...]",
		Short: "Print messages sent by a server",
		Long:  "Connect to a server and print one JSON line per message. Without TOPIC every message is printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.newSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			cli, err := runtime.NewClient(sess.cfg.ClientConfig(), sess.opts...)
			if err != nil {
				return err
			}
			defer cli.Close()

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := newMessageWriter(cmd.OutOrStdout())
			var seen atomic.Int64
			handle := func(ev events.Event) error {
				if count > 0 && seen.Load() >= int64(count) {
					return nil
				}
				if err := out.write(ev); err != nil {
					return err
				}
				if count > 0 && seen.Add(1) >= int64(count) {
					cancel()
				}
				return nil
			}
			if len(args) == 0 {
				cli.On(events.Message, handle)
			}
			for _, topic := range args {
				cli.OnTopic(topic, handle)
			}

			cli.On(events.Connect, func(events.Event) error {
				sess.log.Info("Connected", loggingpkg.LogFields{"socket_file": sess.cfg.SocketFile})
				return nil
			})
			cli.On(events.Reconnect, func(events.Event) error {
				sess.log.Info("Reconnected", loggingpkg.LogFields{"socket_file": sess.cfg.SocketFile})
				return nil
			})
			cli.On(events.Disconnect, func(events.Event) error {
				sess.log.Info("Disconnected", loggingpkg.LogFields{"socket_file": sess.cfg.SocketFile})
				return nil
			})
			cli.On(events.ConnectError, func(ev events.Event) error {
				sess.log.Debug("Server not reachable", loggingpkg.LogFields{"error": ev.Err})
				return nil
			})
			cli.Connect()

			select {
			case <-runCtx.Done():
			case <-cli.Done():
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many messages (0 means run until interrupted)")
	return cmd
}
