// Package transcoder defines the pluggable wire format used by ipcflow
// connections. A Transcoder pairs a stateless Encoder, safe to share across
// every connection, with a per-connection Decoder that owns its own buffer.
//
// JSON is the default: each MessageWrapper is encoded as a JSON object and
// terminated by two NUL bytes, which cannot occur in valid JSON text. Proto is
// a binary alternative that frames a structpb envelope with a varint length
// prefix.
package transcoder

// Encoding names the byte encoding a transcoder expects on the socket.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingBinary Encoding = "binary"
)

// MessageWrapper is the unit of application communication: a non-empty topic
// and a transcoder-specific payload.
type MessageWrapper struct {
	Topic   string `json:"topic"`
	Message any    `json:"message"`
}

// Encoder serializes one wrapper into a complete frame. It must not keep state
// between calls. Returning nil bytes and a nil error skips the write.
type Encoder func(MessageWrapper) ([]byte, error)

// Decoder consumes one raw chunk, which may hold a partial frame or several
// frames, and returns the wrappers completed by it in arrival order. A
// non-nil error faults the connection; no wrappers are returned with it.
type Decoder func(chunk []byte) ([]MessageWrapper, error)

// Transcoder is the capability set a wire format must provide.
type Transcoder interface {
	SocketEncoding() Encoding
	NewEncoder() Encoder
	NewDecoder() Decoder
}

// Default returns the transcoder used when none is configured.
func Default() Transcoder {
	return JSON{}
}

// ByName resolves a configured codec name. Unknown names return false.
func ByName(name string) (Transcoder, bool) {
	switch name {
	case "", "json":
		return JSON{}, true
	case "proto":
		return Proto{}, true
	default:
		return nil, false
	}
}
