package main

import (
	"github.com/spf13/cobra"

	"github.com/drblury/ipcflow/internal/runtime"
	"github.com/drblury/ipcflow/internal/runtime/events"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var echo, quiet bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a server and print every message it receives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.newSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			srv, err := runtime.NewServer(sess.cfg.ServerConfig(), sess.opts...)
			if err != nil {
				return err
			}
			out := newMessageWriter(cmd.OutOrStdout())

			srv.On(events.Listening, func(events.Event) error {
				sess.log.Info("Listening", loggingpkg.LogFields{"socket_file": srv.Addr()})
				return nil
			})
			srv.On(events.Connection, func(ev events.Event) error {
				sess.log.Info("Client connected", loggingpkg.LogFields{"client_id": ev.ClientID})
				return nil
			})
			srv.On(events.ConnectionClose, func(ev events.Event) error {
				sess.log.Info("Client disconnected", loggingpkg.LogFields{"client_id": ev.ClientID})
				return nil
			})
			srv.On(events.Error, func(ev events.Event) error {
				sess.log.Error("Server error", ev.Err, loggingpkg.LogFields{"client_id": ev.ClientID})
				return nil
			})
			srv.On(events.Message, func(ev events.Event) error {
				if !quiet {
					if err := out.write(ev); err != nil {
						sess.log.Error("Failed to print message", err, nil)
					}
				}
				if echo {
					// Send reports failures through the error event.
					_ = srv.Send(ev.Topic, ev.Message, ev.ClientID)
				}
				return nil
			})

			if err := srv.Listen(); err != nil {
				return err
			}
			select {
			case <-cmd.Context().Done():
			case <-srv.Done():
			}
			err = srv.Close()
			<-srv.Done()
			return err
		},
	}

	cmd.Flags().BoolVar(&echo, "echo", false, "Send every message back to the client that sent it")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print received messages")
	return cmd
}
