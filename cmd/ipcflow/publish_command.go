package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/ipcflow/internal/runtime"
	"github.com/drblury/ipcflow/internal/runtime/events"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "publish TOPIC [MESSAGE]",
		Short: "Send one message to a server",
		Long: "Send one message to a server. MESSAGE is sent as JSON when it parses as " +
			"JSON and as a string otherwise. Without MESSAGE the payload is read from stdin.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]
			var raw string
			if len(args) == 2 {
				raw = args[1]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read message: %w", err)
				}
				raw = strings.TrimSpace(string(data))
			}

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

			connected := make(chan struct{})
			var once sync.Once
			cli.On(events.Connect, func(events.Event) error {
				once.Do(func() { close(connected) })
				return nil
			})
			cli.Connect()

			select {
			case <-connected:
			case <-time.After(timeout):
				return fmt.Errorf("publish: no server at %s after %s", sess.cfg.SocketFile, timeout)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			return cli.Send(topic, parsePayload(raw))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the server")
	return cmd
}
