package runtime

import (
	"errors"
	"net"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	configpkg "github.com/drblury/ipcflow/internal/runtime/config"
	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/events"
	idspkg "github.com/drblury/ipcflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
	"github.com/drblury/ipcflow/internal/runtime/transcoder"
)

// staleCheckTimeout bounds the dial used to tell a live socket from a stale one.
const staleCheckTimeout = time.Second

// Pause between failed Accept calls, such as when the process is out of file
// descriptors.
const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// Server accepts connections on a Unix socket, assigns each one a client id
// and exchanges topic messages with them.
//
// Handlers registered with On run on the goroutine reading the connection
// that produced the event, so events of one connection are delivered in
// order while different connections are handled in parallel.
type Server struct {
	emitter

	cfg    configpkg.ServerConfig
	opts   options
	log    loggingpkg.ServiceLogger
	encode transcoder.Encoder
	tracer trace.Tracer
	ids    idspkg.Sequence

	mu           sync.Mutex
	listenCalled bool
	closed       bool
	listener     net.Listener
	sockets      map[*conn]string
	clients      map[string]*conn

	wg      sync.WaitGroup
	closing chan struct{}
	done    chan struct{}
}

// NewServer validates cfg and returns a server that is not yet listening.
func NewServer(cfg configpkg.ServerConfig, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	log := o.logger.With(loggingpkg.LogFields{"role": configpkg.RoleServer, "socket_file": cfg.SocketFile})
	return &Server{
		emitter: newEmitter(log),
		cfg:     cfg,
		opts:    o,
		log:     log,
		encode:  o.transcoder.NewEncoder(),
		tracer:  newTracer(o.tracerProvider),
		sockets: make(map[*conn]string),
		clients: make(map[string]*conn),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Addr returns the socket file the server binds to.
func (s *Server) Addr() string { return s.cfg.SocketFile }

// Done is closed after the close event has been emitted.
func (s *Server) Done() <-chan struct{} { return s.done }

// Listen binds the socket file and starts accepting connections. It may only
// be called once; a second call panics.
//
// When the path is already in use, Listen dials it: a socket that refuses
// the connection is left over from a dead process and is removed before one
// more bind attempt. Another process can still bind between the removal and
// the retry, in which case the retry error is returned.
func (s *Server) Listen() error {
	s.mu.Lock()
	if s.listenCalled {
		s.mu.Unlock()
		panic("ipcflow: Server.Listen called twice")
	}
	s.listenCalled = true
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errspkg.ErrClosed
	}

	ln, err := s.bind()
	if err != nil {
		s.opts.metrics.Error(configpkg.RoleServer, errorKind(err))
		s.emitError(err, "")
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return errspkg.ErrClosed
	}
	s.listener = ln
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info("Listening", nil)
	s.emit(events.Event{Name: events.Listening})
	go s.acceptLoop(ln)
	return nil
}

func (s *Server) bind() (net.Listener, error) {
	path := s.cfg.SocketFile
	ln, err := net.Listen("unix", path)
	if err == nil || !errors.Is(err, unix.EADDRINUSE) {
		return ln, err
	}
	if !isStaleSocket(path) {
		return nil, err
	}
	if rmErr := os.Remove(path); rmErr != nil {
		s.log.Error("Failed to remove stale socket file", rmErr, nil)
		return nil, err
	}
	s.log.Info("Removed stale socket file", nil)
	return net.Listen("unix", path)
}

// isStaleSocket reports whether dialing path is refused, meaning no process
// is accepting on it any more.
func isStaleSocket(path string) bool {
	c, err := net.DialTimeout("unix", path, staleCheckTimeout)
	if err == nil {
		_ = c.Close()
		return false
	}
	return errors.Is(err, unix.ECONNREFUSED)
}

// acceptLoop runs until the listener is closed. Other Accept failures are
// reported and retried after a growing pause.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	retry := newAcceptBackOff()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosed() {
				return
			}
			s.opts.metrics.Error(configpkg.RoleServer, errorKind(err))
			s.emitError(err, "")

			delay := retry.NextBackOff()
			s.log.Debug("Retrying accept", loggingpkg.LogFields{"delay": delay.String()})
			select {
			case <-s.closing:
				return
			case <-time.After(delay):
			}
			continue
		}
		retry.Reset()
		s.register(newConn(nc))
	}
}

func newAcceptBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = acceptRetryMin
	b.MaxInterval = acceptRetryMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = c.close()
		return
	}
	id := s.ids.Next()
	s.sockets[c] = id
	s.clients[id] = c
	s.wg.Add(1)
	s.mu.Unlock()

	s.opts.metrics.ConnectionOpened(configpkg.RoleServer)
	s.log.Debug("Client connected", loggingpkg.LogFields{"client_id": id})
	s.emit(events.Event{Name: events.Connection, ClientID: id})
	go s.serve(c, id)
}

func (s *Server) serve(c *conn, id string) {
	defer s.wg.Done()

	a := &adapter{
		emitter:  s.emitter,
		decode:   s.opts.transcoder.NewDecoder(),
		clientID: id,
		role:     configpkg.RoleServer,
		metrics:  s.opts.metrics,
	}
	err := readLoop(c, a)
	if !isDisconnect(err) {
		s.opts.metrics.Error(configpkg.RoleServer, errorKind(err))
		s.emitError(err, id)
	}
	_ = c.close()

	s.mu.Lock()
	delete(s.sockets, c)
	delete(s.clients, id)
	s.mu.Unlock()

	s.opts.metrics.ConnectionClosed(configpkg.RoleServer)
	s.log.Debug("Client disconnected", loggingpkg.LogFields{"client_id": id})
	s.emit(events.Event{Name: events.ConnectionClose, ClientID: id})
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Clients returns the ids of the currently registered connections in
// ascending order.
func (s *Server) Clients() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.SortFunc(ids, func(a, b string) int {
		x, _ := strconv.ParseUint(a, 10, 64)
		y, _ := strconv.ParseUint(b, 10, 64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	return ids
}

// Broadcast encodes message once and writes it to every connection
// registered at call time. Errors are emitted on the error event and
// returned; an encode failure writes nothing.
func (s *Server) Broadcast(topic string, message any) (err error) {
	span := startSpan(s.tracer, spanBroadcast, configpkg.RoleServer, topic)
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.sendFailed(errspkg.NewSendAfterCloseError(topic, message), "")
	}
	targets := make(map[*conn]string, len(s.sockets))
	for c, id := range s.sockets {
		targets[c] = id
	}
	s.mu.Unlock()
	span.SetAttributes(attribute.Int("ipcflow.recipients", len(targets)))

	frame, err := s.encodeFrame(topic, message)
	if err != nil || frame == nil {
		return err
	}

	var errs []error
	for c, id := range targets {
		if werr := s.write(c, frame); werr != nil {
			errs = append(errs, s.sendFailed(werr, id))
		}
	}
	return errors.Join(errs...)
}

// Send encodes message and writes it to the connection registered as
// clientID only. Unknown ids produce a BadClientError and no write.
func (s *Server) Send(topic string, message any, clientID string) (err error) {
	span := startSpan(s.tracer, spanSend, configpkg.RoleServer, topic, attribute.String("ipcflow.client_id", clientID))
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.sendFailed(errspkg.NewSendAfterCloseError(topic, message), clientID)
	}
	c, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		return s.sendFailed(errspkg.NewBadClientError(topic, message, clientID), clientID)
	}

	frame, err := s.encodeFrame(topic, message)
	if err != nil || frame == nil {
		return err
	}
	if werr := s.write(c, frame); werr != nil {
		return s.sendFailed(werr, clientID)
	}
	return nil
}

func (s *Server) encodeFrame(topic string, message any) ([]byte, error) {
	frame, err := s.encode(transcoder.MessageWrapper{Topic: topic, Message: message})
	if err != nil {
		if !errors.Is(err, errspkg.ErrEncode) {
			err = errspkg.NewEncodeError(topic, message, err)
		}
		return nil, s.sendFailed(err, "")
	}
	return frame, nil
}

func (s *Server) write(c *conn, frame []byte) error {
	if err := c.write(frame); err != nil {
		return err
	}
	s.opts.metrics.FrameSent(configpkg.RoleServer, len(frame))
	return nil
}

func (s *Server) sendFailed(err error, clientID string) error {
	s.opts.metrics.Error(configpkg.RoleServer, errorKind(err))
	s.emitError(err, clientID)
	return err
}

// Close stops accepting connections and closes every registered one. The
// close event is emitted once, after all connection goroutines have
// returned. Calling Close again is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	ln := s.listener
	conns := make([]*conn, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for _, c := range conns {
		_ = c.close()
	}

	go func() {
		s.wg.Wait()
		s.log.Info("Closed", nil)
		s.emit(events.Event{Name: events.Close})
		close(s.done)
	}()
	return err
}
