// Package ipc exposes an ipcflow Server or Client as a Watermill publisher
// and subscriber, so socket topics can feed a Watermill router or be relayed
// to another transport.
//
// Each Watermill message travels as one ipcflow message whose payload is an
// envelope holding the message UUID, its metadata and the raw payload bytes.
package ipc

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/ipcflow/internal/runtime"
	configpkg "github.com/drblury/ipcflow/internal/runtime/config"
	"github.com/drblury/ipcflow/internal/runtime/events"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
	"github.com/drblury/ipcflow/internal/runtime/transcoder"
	"github.com/drblury/ipcflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "ipc"

// ClientIDKey is the metadata key holding the sender's client id on
// messages received by a server-side subscriber.
const ClientIDKey = "ipcflow_client_id"

// Register registers the IPC transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IPCCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IPCCapabilities
}

// Options are appended to the options derived from the config when Build
// creates a server or client. Tests and the CLI use it to add metrics.
var Options []runtime.Option

// Build creates a server when the config role is "server" and a client
// otherwise. A server is listening and a client is connecting when Build
// returns; publishing through a client fails until it is connected.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	ep, err := Open(cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return ep.Transport(logger), nil
}

// Open creates the endpoint described by cfg.
func Open(cfg transport.Config, logger watermill.LoggerAdapter) (*Endpoint, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	tc, ok := transcoder.ByName(cfg.GetCodec())
	if !ok {
		return nil, fmt.Errorf("ipc: unknown codec %q", cfg.GetCodec())
	}
	opts := append([]runtime.Option{
		runtime.WithTranscoder(tc),
		runtime.WithLogger(loggingpkg.NewWatermillServiceLogger(logger)),
	}, Options...)

	switch strings.ToLower(cfg.GetRole()) {
	case configpkg.RoleServer:
		srv, err := runtime.NewServer(configpkg.ServerConfig{SocketFile: cfg.GetSocketFile()}, opts...)
		if err != nil {
			return nil, err
		}
		if err := srv.Listen(); err != nil {
			return nil, err
		}
		return ServerEndpoint(srv), nil
	case "", configpkg.RoleClient:
		cli, err := runtime.NewClient(configpkg.ClientConfig{
			SocketFile:     cfg.GetSocketFile(),
			RetryDelay:     cfg.GetRetryDelay(),
			ReconnectDelay: cfg.GetReconnectDelay(),
		}, opts...)
		if err != nil {
			return nil, err
		}
		cli.Connect()
		return ClientEndpoint(cli), nil
	default:
		return nil, fmt.Errorf("ipc: unknown role %q", cfg.GetRole())
	}
}

type source interface {
	OnTopic(topic string, handler events.Handler) events.Subscription
	Off(sub events.Subscription) bool
}

// Endpoint is a server or client shared by a Publisher and a Subscriber.
// It is closed when the last of them is closed.
type Endpoint struct {
	source
	publish func(topic string, message any) error
	close   func() error
	refs    atomic.Int32
}

// ServerEndpoint publishes by broadcasting to every connected client.
func ServerEndpoint(srv *runtime.Server) *Endpoint {
	return &Endpoint{source: srv, publish: srv.Broadcast, close: srv.Close}
}

// ClientEndpoint publishes by sending to the server.
func ClientEndpoint(cli *runtime.Client) *Endpoint {
	return &Endpoint{source: cli, publish: cli.Send, close: cli.Close}
}

// Transport returns a publisher and subscriber sharing the endpoint.
func (e *Endpoint) Transport(logger watermill.LoggerAdapter) transport.Transport {
	return transport.Transport{
		Publisher:  NewPublisher(e, logger),
		Subscriber: NewSubscriber(e, logger),
	}
}

func (e *Endpoint) acquire() {
	e.refs.Add(1)
}

func (e *Endpoint) release() error {
	if e.refs.Add(-1) == 0 {
		return e.close()
	}
	return nil
}
