/*
Package runtime implements the socket side of ipcflow: a Server that accepts
Unix domain socket connections and a Client that dials one, both exchanging
topic messages framed by a Transcoder.

# Architecture Overview

Every Server and Client owns an observer registry (see events/). Reading
goroutines decode frames and emit "message" and "message.<topic>" events;
lifecycle changes are reported through named events such as "listening",
"connection", "connect", "reconnect" and "disconnect". Failures never panic
out of a reading goroutine: they are logged and emitted as "error" events.

# Package Structure

## Server (server.go)

Binds the socket file, removing a stale file left by a dead process, assigns
client ids from a Sequence and keeps the id to connection table used by Send
and Broadcast.

## Client (client.go)

Owns one connection and a small state machine (created, connecting,
connected, reconnecting, closed). The first connection is retried every
RetryDelay (or through a backoff.BackOff supplied with WithRetryBackOff);
a lost connection is re-dialled after ReconnectDelay.

## Connection adapter (adapter.go)

Reads bytes from a connection, feeds the Decoder and turns each message or
decode failure into events. Shared by both roles.

## Options (options.go, tracing.go)

Functional options for the logger, transcoder, Prometheus metrics and
OpenTelemetry tracer provider.

# Sub-packages

  - config/: Server, client and CLI configuration with validation
  - errors/: Sentinel errors and typed send/decode errors
  - events/: Observer registry and event names
  - ids/: Client id sequence and ULID generation
  - jsoncodec/: JSON marshaling through sonic
  - logging/: Logger interface and slog/Watermill adapters
  - metrics/: Prometheus collectors
  - transcoder/: Wire formats (JSON with "\0\0" delimiters, protobuf)

# Usage Example

	server, _ := runtime.NewServer(config.ServerConfig{SocketFile: "/tmp/app.sock"})
	server.OnTopic("ping", func(ev events.Event) error {
		return server.Send("pong", ev.Message, ev.ClientID)
	})
	_ = server.Listen()

	client, _ := runtime.NewClient(config.ClientConfig{SocketFile: "/tmp/app.sock"})
	client.On(events.Connect, func(events.Event) error {
		return client.Send("ping", "hello")
	})
	client.Connect()
*/
package runtime
