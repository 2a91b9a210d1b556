package transcoder

import (
	"fmt"
	"unicode/utf8"

	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/jsoncodec"
)

// JSONDelimiter terminates every JSON frame. NUL bytes are always escaped
// inside JSON strings, so the sequence never appears in an encoded payload.
var JSONDelimiter = []byte{0, 0}

// MaxJSONFrameSize bounds the bytes buffered for one incomplete JSON frame.
const MaxJSONFrameSize = 64 << 20

// JSON is the default transcoder. MaxFrameSize overrides MaxJSONFrameSize
// when positive.
type JSON struct {
	MaxFrameSize int
}

type jsonEnvelope struct {
	Topic   string               `json:"topic"`
	Message jsoncodec.RawMessage `json:"message"`
}

func (JSON) SocketEncoding() Encoding { return EncodingUTF8 }

func (JSON) NewEncoder() Encoder {
	return func(w MessageWrapper) ([]byte, error) {
		if w.Topic == "" {
			return nil, errspkg.NewEncodeError(w.Topic, w.Message, errspkg.ErrTopicRequired)
		}
		data, err := jsoncodec.Marshal(w)
		if err != nil {
			return nil, errspkg.NewEncodeError(w.Topic, w.Message, err)
		}
		return append(data, JSONDelimiter...), nil
	}
}

func (j JSON) NewDecoder() Decoder {
	limit := j.MaxFrameSize
	if limit <= 0 {
		limit = MaxJSONFrameSize
	}
	buffer := NewFrameBuffer(JSONDelimiter)
	return func(chunk []byte) ([]MessageWrapper, error) {
		frames := buffer.Push(chunk)
		if pending := buffer.Pending(); pending > limit {
			return nil, &errspkg.DecodeError{
				Reason: fmt.Sprintf("incomplete frame of %d bytes exceeds limit of %d", pending, limit),
				Raw:    buffer.Remainder()[:min(pending, 64)],
			}
		}
		messages := make([]MessageWrapper, 0, len(frames))
		for _, raw := range frames {
			msg, err := decodeJSONFrame(raw)
			if err != nil {
				return nil, err
			}
			messages = append(messages, msg)
		}
		return messages, nil
	}
}

func decodeJSONFrame(raw []byte) (MessageWrapper, error) {
	if !utf8.Valid(raw) {
		return MessageWrapper{}, &errspkg.DecodeError{Reason: "frame is not valid UTF-8", Raw: raw}
	}
	var env jsonEnvelope
	if err := jsoncodec.Unmarshal(raw, &env); err != nil {
		return MessageWrapper{}, &errspkg.DecodeError{Reason: "failed to parse as JSON", Raw: raw, Err: err}
	}
	if env.Topic == "" {
		return MessageWrapper{}, &errspkg.DecodeError{Reason: "invalid message structure", Raw: raw}
	}
	if env.Message == nil {
		env.Message = jsoncodec.RawMessage("null")
	}
	return MessageWrapper{Topic: env.Topic, Message: env.Message}, nil
}
