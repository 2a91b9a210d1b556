package transcoder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/jsoncodec"
)

func jsonWrappers() []MessageWrapper {
	return []MessageWrapper{
		{Topic: "hello", Message: jsoncodec.RawMessage(`42`)},
		{Topic: "user.created", Message: jsoncodec.RawMessage(`{"id":7,"name":"bob"}`)},
		{Topic: "list", Message: jsoncodec.RawMessage(`[1,"two",null,{"nested":true}]`)},
		{Topic: "unicode", Message: jsoncodec.RawMessage(`"grüße \u0000 ✓"`)},
		{Topic: "empty", Message: jsoncodec.RawMessage(`null`)},
	}
}

func encodeAll(t *testing.T, tc Transcoder, wrappers []MessageWrapper) []byte {
	t.Helper()
	encode := tc.NewEncoder()
	var stream []byte
	for _, w := range wrappers {
		frame, err := encode(w)
		require.NoError(t, err)
		stream = append(stream, frame...)
	}
	return stream
}

func TestJSONRoundTrip(t *testing.T) {
	wrappers := jsonWrappers()
	stream := encodeAll(t, JSON{}, wrappers)

	decoded, err := JSON{}.NewDecoder()(stream)
	require.NoError(t, err)
	assert.Equal(t, wrappers, decoded)
}

func TestJSONFragmentationInvariance(t *testing.T) {
	wrappers := jsonWrappers()
	stream := encodeAll(t, JSON{}, wrappers)

	for size := 1; size <= 7; size++ {
		decode := JSON{}.NewDecoder()
		var got []MessageWrapper
		for start := 0; start < len(stream); start += size {
			end := min(start+size, len(stream))
			out, err := decode(stream[start:end])
			require.NoError(t, err)
			got = append(got, out...)
		}
		assert.Equal(t, wrappers, got, "chunk size %d", size)
	}

	for split := 0; split <= len(stream); split++ {
		decode := JSON{}.NewDecoder()
		first, err := decode(stream[:split])
		require.NoError(t, err)
		second, err := decode(stream[split:])
		require.NoError(t, err)
		assert.Equal(t, wrappers, append(first, second...), "split at %d", split)
	}
}

func TestJSONDecoderRetainsPartialFrame(t *testing.T) {
	decode := JSON{}.NewDecoder()
	chunk := append([]byte(`{"topic":"x","message":1}`), JSONDelimiter...)
	chunk = append(chunk, []byte(`{"topic":"y"`)...)

	out, err := decode(chunk)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0].Topic)
	assert.Equal(t, jsoncodec.RawMessage(`1`), out[0].Message)

	rest := append([]byte(`,"message":2}`), JSONDelimiter...)
	out, err = decode(rest)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "y", out[0].Topic)
}

func TestJSONDecoderStopsAtFirstBadFrame(t *testing.T) {
	decode := JSON{}.NewDecoder()
	var chunk []byte
	chunk = append(chunk, []byte(`{"topic":"ok","message":1}`)...)
	chunk = append(chunk, JSONDelimiter...)
	chunk = append(chunk, []byte(`not json`)...)
	chunk = append(chunk, JSONDelimiter...)
	chunk = append(chunk, []byte(`{"topic":"later","message":2}`)...)
	chunk = append(chunk, JSONDelimiter...)

	out, err := decode(chunk)
	require.Error(t, err)
	assert.Nil(t, out)

	var decodeErr *errspkg.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, []byte(`not json`), decodeErr.Raw)
	assert.Equal(t, "failed to parse as JSON", decodeErr.Reason)
}

func TestJSONDecoderRejectsMissingTopic(t *testing.T) {
	decode := JSON{}.NewDecoder()
	out, err := decode(append([]byte(`{"message":1}`), JSONDelimiter...))
	assert.Nil(t, out)

	var decodeErr *errspkg.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "invalid message structure", decodeErr.Reason)
}

func TestJSONDecoderRejectsInvalidUTF8(t *testing.T) {
	decode := JSON{}.NewDecoder()
	frame := append([]byte{'{', 0xff, '}'}, JSONDelimiter...)
	_, err := decode(frame)
	assert.ErrorIs(t, err, errspkg.ErrDecode)
}

func TestJSONDecoderMissingMessageIsNull(t *testing.T) {
	out, err := JSON{}.NewDecoder()(append([]byte(`{"topic":"ping"}`), JSONDelimiter...))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, jsoncodec.RawMessage(`null`), out[0].Message)
}

func TestJSONEncoder(t *testing.T) {
	encode := JSON{}.NewEncoder()

	frame, err := encode(MessageWrapper{Topic: "hello", Message: 42})
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(frame, JSONDelimiter))
	assert.JSONEq(t, `{"topic":"hello","message":42}`, string(bytes.TrimSuffix(frame, JSONDelimiter)))

	_, err = encode(MessageWrapper{Message: 1})
	assert.ErrorIs(t, err, errspkg.ErrEncode)
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)

	_, err = encode(MessageWrapper{Topic: "bad", Message: make(chan int)})
	assert.ErrorIs(t, err, errspkg.ErrEncode)
}

func TestJSONDecodersDoNotShareState(t *testing.T) {
	tc := JSON{}
	a := tc.NewDecoder()
	b := tc.NewDecoder()

	out, err := a([]byte(`{"topic":"a",`))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = b(append([]byte(`{"topic":"b","message":1}`), JSONDelimiter...))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].Topic)
}

func TestProtoRoundTripAndFragmentation(t *testing.T) {
	wrappers := []MessageWrapper{
		{Topic: "hello", Message: float64(42)},
		{Topic: "map", Message: map[string]any{"name": "bob", "tags": []any{"a", "b"}}},
		{Topic: "null", Message: nil},
		{Topic: "text", Message: "plain"},
	}
	stream := encodeAll(t, Proto{}, wrappers)

	decoded, err := Proto{}.NewDecoder()(stream)
	require.NoError(t, err)
	assert.Equal(t, wrappers, decoded)

	decode := Proto{}.NewDecoder()
	var got []MessageWrapper
	for i := range stream {
		out, err := decode(stream[i : i+1])
		require.NoError(t, err)
		got = append(got, out...)
	}
	assert.Equal(t, wrappers, got)
}

func TestProtoEncoderAcceptsRawJSONAndStructs(t *testing.T) {
	type payload struct {
		ID int `json:"id"`
	}
	encode := Proto{}.NewEncoder()
	decode := Proto{}.NewDecoder()

	frame, err := encode(MessageWrapper{Topic: "raw", Message: jsoncodec.RawMessage(`{"id":1}`)})
	require.NoError(t, err)
	out, err := decode(frame)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"id": float64(1)}, out[0].Message)

	frame, err = encode(MessageWrapper{Topic: "struct", Message: payload{ID: 5}})
	require.NoError(t, err)
	out, err = decode(frame)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"id": float64(5)}, out[0].Message)

	_, err = encode(MessageWrapper{Message: 1})
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
}

func TestProtoDecoderRejectsGarbage(t *testing.T) {
	decode := Proto{}.NewDecoder()
	_, err := decode([]byte{0x03, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, errspkg.ErrDecode)

	decode = Proto{}.NewDecoder()
	_, err = decode([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01})
	assert.ErrorIs(t, err, errspkg.ErrDecode)
}

func TestByName(t *testing.T) {
	tc, ok := ByName("")
	require.True(t, ok)
	assert.Equal(t, EncodingUTF8, tc.SocketEncoding())

	tc, ok = ByName("proto")
	require.True(t, ok)
	assert.Equal(t, EncodingBinary, tc.SocketEncoding())

	_, ok = ByName("xml")
	assert.False(t, ok)

	assert.IsType(t, JSON{}, Default())
}

func TestFrameBuffer(t *testing.T) {
	buf := NewFrameBuffer([]byte("%%"))

	assert.Empty(t, buf.Push([]byte("ab")))
	assert.Equal(t, 2, buf.Pending())

	frames := buf.Push([]byte("c%%d%"))
	assert.Equal(t, [][]byte{[]byte("abc")}, frames)
	assert.Equal(t, []byte("d%"), buf.Remainder())

	frames = buf.Push([]byte("%x%%%"))
	assert.Equal(t, [][]byte{[]byte("d"), []byte("x")}, frames)
	assert.Equal(t, []byte("%"), buf.Remainder())

	frames = buf.Push([]byte("%"))
	assert.Equal(t, [][]byte{{}}, frames)
	assert.Zero(t, buf.Pending())

	assert.Panics(t, func() { NewFrameBuffer(nil) })
}

func TestFrameBufferFindsDelimiterAfterManyChunks(t *testing.T) {
	buf := NewFrameBuffer(JSONDelimiter)
	chunk := bytes.Repeat([]byte("x"), 1024)
	for i := 0; i < 1024; i++ {
		require.Empty(t, buf.Push(chunk))
	}
	assert.Equal(t, 1<<20, buf.Pending())

	// Delimiter split across two pushes.
	assert.Empty(t, buf.Push([]byte{0}))
	frames := buf.Push([]byte{0, 'y'})
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 1<<20)
	assert.Equal(t, []byte("y"), buf.Remainder())
}

func TestJSONDecoderRejectsOversizedFrame(t *testing.T) {
	decode := JSON{MaxFrameSize: 32}.NewDecoder()

	out, err := decode([]byte(`{"topic":"a","message":1}`))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = decode(bytes.Repeat([]byte(" "), 16))
	var decodeErr *errspkg.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.ErrorIs(t, err, errspkg.ErrDecode)
	assert.Contains(t, decodeErr.Reason, "exceeds limit of 32")
}

func TestJSONDecoderAcceptsFrameAtLimit(t *testing.T) {
	frame := []byte(`{"topic":"a","message":1}`)
	decode := JSON{MaxFrameSize: len(frame)}.NewDecoder()

	out, err := decode(append(frame, JSONDelimiter...))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Topic)
}
