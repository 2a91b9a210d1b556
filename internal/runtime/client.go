package runtime

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/ipcflow/internal/runtime/config"
	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/events"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
	"github.com/drblury/ipcflow/internal/runtime/transcoder"
)

// State is the lifecycle position of a Client.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client maintains a single connection to a Server. Until the first
// connection succeeds, failed attempts emit connectError and are retried
// after the retry policy's delay. A connection lost later emits disconnect
// and is re-dialed after ReconnectDelay; a successful re-dial emits
// reconnect instead of connect.
type Client struct {
	emitter

	cfg    configpkg.ClientConfig
	opts   options
	log    loggingpkg.ServiceLogger
	encode transcoder.Encoder
	tracer trace.Tracer

	mu            sync.Mutex
	state         State
	connectCalled bool
	closed        bool
	connected     bool
	conn          *conn
	timer         *time.Timer
	cancelDial    context.CancelFunc
	retry         backoff.BackOff

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient validates cfg and returns a client that is not yet connecting.
// Zero delays fall back to the defaults.
func NewClient(cfg configpkg.ClientConfig, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	retry := o.retry
	if retry == nil {
		retry = backoff.NewConstantBackOff(cfg.RetryDelay)
	}
	log := o.logger.With(loggingpkg.LogFields{"role": configpkg.RoleClient, "socket_file": cfg.SocketFile})
	return &Client{
		emitter: newEmitter(log),
		cfg:     cfg,
		opts:    o,
		log:     log,
		encode:  o.transcoder.NewEncoder(),
		tracer:  newTracer(o.tracerProvider),
		retry:   retry,
		done:    make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed after the terminal close event has been emitted.
func (c *Client) Done() <-chan struct{} { return c.done }

// Connect starts dialing the server in the background. It may only be
// called once; a second call panics.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.connectCalled {
		c.mu.Unlock()
		panic("ipcflow: Client.Connect called twice")
	}
	c.connectCalled = true
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.dial()
}

// dial starts one connection attempt unless the client was closed.
func (c *Client) dial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.mu.Unlock()

	go c.run(ctx, cancel)
}

func (c *Client) run(ctx context.Context, cancel context.CancelFunc) {
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "unix", c.cfg.SocketFile)
	cancel()

	c.mu.Lock()
	c.cancelDial = nil
	closed := c.closed
	if err == nil && !closed {
		c.conn = newConn(nc)
		c.state = StateConnected
		c.retry.Reset()
	}
	reconnect := c.connected
	c.connected = c.connected || (err == nil && !closed)
	cn := c.conn
	c.mu.Unlock()

	if closed {
		if nc != nil {
			_ = nc.Close()
		}
		c.finishClose()
		return
	}
	if err != nil {
		c.connectFailed(err)
		return
	}

	c.opts.metrics.ConnectionOpened(configpkg.RoleClient)
	if reconnect {
		c.opts.metrics.Reconnected()
		c.log.Info("Reconnected", nil)
		c.emit(events.Event{Name: events.Reconnect})
	} else {
		c.log.Info("Connected", nil)
		c.emit(events.Event{Name: events.Connect})
	}

	a := &adapter{
		emitter: c.emitter,
		decode:  c.opts.transcoder.NewDecoder(),
		role:    configpkg.RoleClient,
		metrics: c.opts.metrics,
	}
	rerr := readLoop(cn, a)
	if !isDisconnect(rerr) && !c.isClosed() {
		c.opts.metrics.Error(configpkg.RoleClient, errorKind(rerr))
		c.emitError(rerr, "")
	}
	_ = cn.close()
	c.opts.metrics.ConnectionClosed(configpkg.RoleClient)

	c.mu.Lock()
	c.conn = nil
	closed = c.closed
	if !closed {
		c.state = StateReconnecting
	}
	c.mu.Unlock()

	if closed {
		c.finishClose()
		return
	}
	c.log.Info("Disconnected", nil)
	c.emit(events.Event{Name: events.Disconnect})
	c.schedule(c.cfg.ReconnectDelay)
}

func (c *Client) connectFailed(err error) {
	c.opts.metrics.Error(configpkg.RoleClient, errorKind(err))
	c.log.Debug("Connect attempt failed", loggingpkg.LogFields{"error": err.Error()})
	c.emit(events.Event{Name: events.ConnectError, Err: err})

	c.mu.Lock()
	delay := c.retry.NextBackOff()
	c.mu.Unlock()
	if delay == backoff.Stop {
		c.emitError(errspkg.ErrRetriesExhausted, "")
		_ = c.Close()
		return
	}
	c.schedule(delay)
}

// schedule arms the timer for the next attempt. The timer is stored so
// Close can stop it; the callback re-checks the closed flag.
func (c *Client) schedule(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.timer = time.AfterFunc(delay, c.dial)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send encodes message and writes it to the server. It fails with
// SendAfterCloseError after Close and with NoServerError while no
// connection is established. Errors are emitted on the error event and
// returned.
func (c *Client) Send(topic string, message any) (err error) {
	span := startSpan(c.tracer, spanSend, configpkg.RoleClient, topic)
	defer func() { endSpan(span, err) }()

	c.mu.Lock()
	closed, cn := c.closed, c.conn
	c.mu.Unlock()

	switch {
	case closed:
		return c.sendFailed(errspkg.NewSendAfterCloseError(topic, message))
	case cn == nil:
		return c.sendFailed(errspkg.NewNoServerError(topic, message))
	}

	frame, err := c.encode(transcoder.MessageWrapper{Topic: topic, Message: message})
	if err != nil {
		if !errors.Is(err, errspkg.ErrEncode) {
			err = errspkg.NewEncodeError(topic, message, err)
		}
		return c.sendFailed(err)
	}
	if frame == nil {
		return nil
	}
	if err := cn.write(frame); err != nil {
		return c.sendFailed(err)
	}
	c.opts.metrics.FrameSent(configpkg.RoleClient, len(frame))
	return nil
}

func (c *Client) sendFailed(err error) error {
	c.opts.metrics.Error(configpkg.RoleClient, errorKind(err))
	c.emitError(err, "")
	return err
}

// Close stops any pending retry or reconnect timer, cancels an in-flight
// dial and closes the active connection. The terminal close event is
// emitted exactly once, whether or not a connection existed. Calling Close
// again is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	cancel := c.cancelDial
	cn := c.conn
	c.mu.Unlock()

	switch {
	case cancel != nil:
		// The dialing goroutine observes the closed flag and finishes.
		cancel()
		return nil
	case cn != nil:
		// The read loop returns once the socket is closed and finishes.
		return cn.close()
	default:
		c.finishClose()
		return nil
	}
}

func (c *Client) finishClose() {
	c.closeOnce.Do(func() {
		c.log.Info("Closed", nil)
		c.emit(events.Event{Name: events.Close})
		close(c.done)
	})
}
