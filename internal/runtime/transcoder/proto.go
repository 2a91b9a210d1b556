package transcoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/jsoncodec"
)

// MaxProtoFrameSize bounds the declared length of a single proto frame.
const MaxProtoFrameSize = 64 << 20

const (
	protoTopicField   = "topic"
	protoMessageField = "message"
)

// Proto frames each wrapper as a length-prefixed google.protobuf.Struct with
// "topic" and "message" fields. Decoded payloads are plain Go values as
// returned by structpb.Value.AsInterface, so numbers decode as float64.
type Proto struct{}

func (Proto) SocketEncoding() Encoding { return EncodingBinary }

func (Proto) NewEncoder() Encoder {
	return func(w MessageWrapper) ([]byte, error) {
		if w.Topic == "" {
			return nil, errspkg.NewEncodeError(w.Topic, w.Message, errspkg.ErrTopicRequired)
		}
		value, err := toProtoValue(w.Message)
		if err != nil {
			return nil, errspkg.NewEncodeError(w.Topic, w.Message, err)
		}
		envelope := &structpb.Struct{Fields: map[string]*structpb.Value{
			protoTopicField:   structpb.NewStringValue(w.Topic),
			protoMessageField: value,
		}}
		body, err := proto.MarshalOptions{Deterministic: true}.Marshal(envelope)
		if err != nil {
			return nil, errspkg.NewEncodeError(w.Topic, w.Message, err)
		}
		frame := make([]byte, 0, protowire.SizeVarint(uint64(len(body)))+len(body))
		frame = protowire.AppendVarint(frame, uint64(len(body)))
		return append(frame, body...), nil
	}
}

func toProtoValue(message any) (*structpb.Value, error) {
	switch m := message.(type) {
	case *structpb.Value:
		return m, nil
	case jsoncodec.RawMessage:
		value := &structpb.Value{}
		if err := protojson.Unmarshal(m, value); err != nil {
			return nil, err
		}
		return value, nil
	default:
		value, err := structpb.NewValue(m)
		if err == nil {
			return value, nil
		}
		// Structs and typed slices go through JSON first.
		data, jerr := jsoncodec.Marshal(m)
		if jerr != nil {
			return nil, err
		}
		return toProtoValue(jsoncodec.RawMessage(data))
	}
}

func (Proto) NewDecoder() Decoder {
	var buf []byte
	return func(chunk []byte) ([]MessageWrapper, error) {
		buf = append(buf, chunk...)

		var messages []MessageWrapper
		for len(buf) > 0 {
			size, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				if errors.Is(protowire.ParseError(n), io.ErrUnexpectedEOF) {
					break
				}
				return nil, &errspkg.DecodeError{Reason: "invalid length prefix", Raw: bytes.Clone(buf), Err: protowire.ParseError(n)}
			}
			if size > MaxProtoFrameSize {
				return nil, &errspkg.DecodeError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit", size), Raw: bytes.Clone(buf[:n])}
			}
			if uint64(len(buf)-n) < size {
				break
			}
			raw := buf[n : n+int(size)]
			msg, err := decodeProtoFrame(raw)
			if err != nil {
				return nil, err
			}
			messages = append(messages, msg)
			buf = buf[n+int(size):]
		}

		if len(buf) == 0 {
			buf = nil
		} else {
			buf = bytes.Clone(buf)
		}
		return messages, nil
	}
}

func decodeProtoFrame(raw []byte) (MessageWrapper, error) {
	envelope := &structpb.Struct{}
	if err := proto.Unmarshal(raw, envelope); err != nil {
		return MessageWrapper{}, &errspkg.DecodeError{Reason: "failed to parse as protobuf", Raw: bytes.Clone(raw), Err: err}
	}
	topic := envelope.GetFields()[protoTopicField].GetStringValue()
	if topic == "" {
		return MessageWrapper{}, &errspkg.DecodeError{Reason: "invalid message structure", Raw: bytes.Clone(raw)}
	}
	var message any
	if value, ok := envelope.GetFields()[protoMessageField]; ok {
		message = value.AsInterface()
	}
	return MessageWrapper{Topic: topic, Message: message}, nil
}
