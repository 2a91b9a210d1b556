// Package jsoncodec routes JSON encoding through sonic so the wire transcoder
// and the Watermill bridge share one configuration.
package jsoncodec

import (
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// RawMessage is a raw encoded JSON value. Decoded payloads keep this form so
// they can be bound to application types later.
type RawMessage = json.RawMessage

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Valid reports whether data is a well-formed JSON value.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Bind decodes a message payload into v. RawMessage and byte payloads are
// unmarshalled directly; any other value is re-encoded first.
func Bind(payload any, v any) error {
	switch p := payload.(type) {
	case RawMessage:
		return Unmarshal(p, v)
	case []byte:
		return Unmarshal(p, v)
	default:
		data, err := Marshal(p)
		if err != nil {
			return err
		}
		return Unmarshal(data, v)
	}
}
