// Package ipcflow implements local publish/subscribe messaging over Unix
// domain stream sockets: one Server accepts many Clients, and either side
// sends topic-tagged messages to the other.
//
// Every connection carries a stream of frames produced by a Transcoder. The
// default JSON transcoder writes each message as a JSON object
// {"topic": ..., "message": ...} followed by two NUL bytes; a protobuf
// transcoder is available for binary payloads. Any peer speaking the same
// framing can interoperate.
//
// # Events
//
// Servers and Clients report everything through observer events registered
// with On and OnTopic: connection lifecycle (listening, connection,
// connectionClose, connect, reconnect, disconnect, close), inbound messages
// (message and message.<topic>) and failures (error, messageError,
// connectError). Handlers run on the connection's goroutine, in arrival
// order. A handler that returns an error or panics faults its connection.
//
// # Clients
//
// A Client retries the initial connection every RetryDelay until a server
// appears, and re-dials ReconnectDelay after losing an established one.
// WithRetryBackOff replaces the constant retry with any backoff.BackOff.
//
// # Watermill
//
// ServerEndpoint and ClientEndpoint expose a Server or Client as a
// Watermill publisher and subscriber, so socket topics can feed a router or
// be relayed to NATS. The ipcflow command wires this up from the shell.
package ipcflow
