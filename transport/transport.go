// Package transport defines the Watermill-facing side of ipcflow. Each
// transport lives in its own sub-package and registers a Builder with the
// registry, so a Unix socket endpoint can feed a Watermill router or be
// relayed to another broker.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports, so
// transports do not depend on the full config package.
type Config interface {
	// GetTransport returns the transport name.
	GetTransport() string

	// IPC
	GetSocketFile() string
	GetRole() string
	GetRetryDelay() time.Duration
	GetReconnectDelay() time.Duration
	GetCodec() string

	// NATS
	GetNATSURL() string

	// File
	GetArchiveFile() string
}
