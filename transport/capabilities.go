package transport

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// SupportsOrdering indicates messages from one producer arrive in order.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport redelivers negatively acknowledged messages.
	SupportsNack bool

	// SupportsPersistence indicates messages survive a restart of the endpoint.
	SupportsPersistence bool

	// SupportsFanout indicates one publish reaches every connected subscriber.
	SupportsFanout bool

	// CrossHost indicates peers may run on different machines.
	CrossHost bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	// IPCCapabilities for the Unix domain socket transport.
	IPCCapabilities = Capabilities{
		Name:             "ipc",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsFanout:   true,
	}

	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsFanout:   true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: true,
		SupportsFanout:   true,
		CrossHost:        true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// FileCapabilities for the JSON lines archive transport.
	FileCapabilities = Capabilities{
		Name:                "file",
		SupportsOrdering:    true,
		SupportsAck:         true,
		SupportsNack:        true,
		SupportsPersistence: true,
	}
)

// GetCapabilities returns the capabilities for a registered transport.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
