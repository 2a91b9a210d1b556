package transcoder

import "bytes"

// FrameBuffer accumulates raw bytes for one connection and splits them into
// delimiter-terminated frames. The trailing unterminated segment is kept as
// the remainder for the next Push.
type FrameBuffer struct {
	delim []byte
	buf   []byte
	// scanned is how much of buf is known not to contain a delimiter.
	scanned int
}

// NewFrameBuffer returns a buffer splitting on delim, which must not be empty.
func NewFrameBuffer(delim []byte) *FrameBuffer {
	if len(delim) == 0 {
		panic("ipcflow: frame delimiter cannot be empty")
	}
	return &FrameBuffer{delim: bytes.Clone(delim)}
}

// Push appends chunk and returns every frame it completed, without their
// delimiters. Returned slices do not alias the internal buffer.
func (b *FrameBuffer) Push(chunk []byte) [][]byte {
	b.buf = append(b.buf, chunk...)

	var frames [][]byte
	for {
		// A delimiter may straddle the previous chunk boundary.
		start := max(0, b.scanned-len(b.delim)+1)
		idx := bytes.Index(b.buf[start:], b.delim)
		if idx < 0 {
			break
		}
		idx += start
		frames = append(frames, bytes.Clone(b.buf[:idx]))
		b.buf = b.buf[idx+len(b.delim):]
		b.scanned = 0
	}
	b.scanned = len(b.buf)

	if len(b.buf) == 0 {
		b.buf = nil
	} else if len(frames) > 0 {
		b.buf = bytes.Clone(b.buf)
	}
	return frames
}

// Pending returns the number of buffered bytes that do not yet form a frame.
func (b *FrameBuffer) Pending() int {
	return len(b.buf)
}

// Remainder returns a copy of the buffered partial frame.
func (b *FrameBuffer) Remainder() []byte {
	return bytes.Clone(b.buf)
}
