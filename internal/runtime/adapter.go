package runtime

import (
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/events"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
	metricspkg "github.com/drblury/ipcflow/internal/runtime/metrics"
	"github.com/drblury/ipcflow/internal/runtime/transcoder"
)

const readBufferSize = 64 << 10

// emitter is the observer registry shared by Server and Client.
type emitter struct {
	events *events.Registry
	logger loggingpkg.ServiceLogger
}

func newEmitter(logger loggingpkg.ServiceLogger) emitter {
	return emitter{events: events.NewRegistry(), logger: logger}
}

// On registers handler for the named event. Topic-specific handlers use
// events.TopicEvent(topic) as the name.
func (e emitter) On(name string, handler events.Handler) events.Subscription {
	return e.events.On(name, handler)
}

// OnTopic registers handler for messages published on topic.
func (e emitter) OnTopic(topic string, handler events.Handler) events.Subscription {
	return e.events.On(events.TopicEvent(topic), handler)
}

// Off removes a handler registered with On or OnTopic.
func (e emitter) Off(sub events.Subscription) bool {
	return e.events.Off(sub)
}

// emit delivers a lifecycle event. Handler failures are logged.
func (e emitter) emit(ev events.Event) {
	if err := e.events.Emit(ev); err != nil {
		e.logger.Error("event handler failed", err, loggingpkg.LogFields{"event": ev.Name, "client_id": ev.ClientID})
	}
}

// emitError delivers err on the error event, or logs it when nobody listens.
func (e emitter) emitError(err error, clientID string) {
	fields := loggingpkg.LogFields{}
	if clientID != "" {
		fields["client_id"] = clientID
	}
	if e.events.Count(events.Error) == 0 {
		e.logger.Error("unhandled error", err, fields)
		return
	}
	if herr := e.events.Emit(events.Event{Name: events.Error, Err: err, ClientID: clientID}); herr != nil {
		e.logger.Error("error handler failed", herr, fields)
	}
}

// adapter turns raw chunks read from one connection into message events.
type adapter struct {
	emitter
	decode   transcoder.Decoder
	clientID string
	role     string
	metrics  *metricspkg.Metrics
}

// handleChunk decodes chunk and emits "message" and "message.<topic>" for
// every complete frame, in order. A decode failure emits "messageError" and
// is returned before any message event. A failing handler aborts the rest of
// the chunk. Either way the caller must fault the connection.
func (a *adapter) handleChunk(chunk []byte) error {
	a.metrics.BytesReceived(a.role, len(chunk))

	wrappers, err := a.decode(chunk)
	if err != nil {
		var decodeErr *errspkg.DecodeError
		if errors.As(err, &decodeErr) && decodeErr.ClientID == "" {
			decodeErr.ClientID = a.clientID
		}
		a.emit(events.Event{Name: events.MessageError, Err: err, ClientID: a.clientID})
		return err
	}
	a.metrics.FramesReceived(a.role, len(wrappers))

	for _, w := range wrappers {
		ev := events.Event{Name: events.Message, Topic: w.Topic, Message: w.Message, ClientID: a.clientID}
		if err := a.events.Emit(ev); err != nil {
			return err
		}
		ev.Name = events.TopicEvent(w.Topic)
		if err := a.events.Emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// readLoop feeds every chunk read from c to the adapter until the socket
// fails or the adapter reports a fault.
func readLoop(c net.Conn, a *adapter) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if herr := a.handleChunk(buf[:n]); herr != nil {
				return herr
			}
		}
		if err != nil {
			return err
		}
	}
}

// isDisconnect reports whether err only signals that the peer or the local
// side closed the socket.
func isDisconnect(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, errspkg.ErrDecode):
		return metricspkg.KindDecode
	case errors.Is(err, errspkg.ErrHandler):
		return metricspkg.KindHandler
	case errors.Is(err, errspkg.ErrEncode):
		return metricspkg.KindEncode
	case errors.Is(err, errspkg.ErrSend):
		return metricspkg.KindSend
	default:
		return metricspkg.KindTransport
	}
}

// conn serialises writes so concurrent sends never interleave frames.
type conn struct {
	net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(c net.Conn) *conn {
	return &conn{Conn: c}
}

func (c *conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.Conn.Write(frame)
	return err
}

func (c *conn) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
