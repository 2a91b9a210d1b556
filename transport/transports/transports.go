// Package transports registers the built-in transports with the default
// registry. Import it for its side effect.
package transports

import (
	"github.com/drblury/ipcflow/transport/channel"
	"github.com/drblury/ipcflow/transport/file"
	"github.com/drblury/ipcflow/transport/ipc"
	"github.com/drblury/ipcflow/transport/nats"
)

func init() {
	RegisterAll()
}

// RegisterAll registers every built-in transport.
func RegisterAll() {
	ipc.Register()
	channel.Register()
	nats.Register()
	file.Register()
}
