package ipc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/events"
	idspkg "github.com/drblury/ipcflow/internal/runtime/ids"
	"github.com/drblury/ipcflow/internal/runtime/jsoncodec"
)

// envelope is the ipcflow message carrying one Watermill message.
type envelope struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// Publisher writes Watermill messages to the endpoint.
type Publisher struct {
	ep     *Endpoint
	logger watermill.LoggerAdapter
	closed atomic.Bool
}

// NewPublisher creates a publisher on ep.
func NewPublisher(ep *Endpoint, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	ep.acquire()
	return &Publisher{ep: ep, logger: logger}
}

// Publish sends every message on topic, stopping at the first failure.
// Messages without a UUID get a ULID.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	if p.closed.Load() {
		return errspkg.ErrClosed
	}
	for _, msg := range messages {
		uuid := msg.UUID
		if uuid == "" {
			uuid = idspkg.CreateULID()
		}
		env := envelope{
			UUID:     uuid,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		}
		if err := p.ep.publish(topic, env); err != nil {
			return err
		}
		p.logger.Trace("Published message", watermill.LogFields{"topic": topic, "uuid": uuid})
	}
	return nil
}

// Close releases the endpoint.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.ep.release()
}

// Subscriber delivers messages received on the endpoint to Watermill. A
// delivered message must be acked before the next one from the same
// connection is delivered; a nacked message is delivered again.
type Subscriber struct {
	ep     *Endpoint
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewSubscriber creates a subscriber on ep.
func NewSubscriber(ep *Endpoint, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	ep.acquire()
	return &Subscriber{ep: ep, logger: logger, closing: make(chan struct{})}
}

type subscription struct {
	mu     sync.RWMutex
	closed bool
	out    chan *message.Message
	ctx    context.Context
}

// Subscribe returns a channel of messages published on topic. The channel
// is closed when ctx is done or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-s.closing:
		return nil, errspkg.ErrClosed
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{out: make(chan *message.Message), ctx: ctx}
	handle := s.ep.OnTopic(topic, func(ev events.Event) error {
		sub.mu.RLock()
		defer sub.mu.RUnlock()
		if sub.closed {
			return nil
		}
		msg, err := toMessage(ev)
		if err != nil {
			s.logger.Error("Failed to decode envelope", err, watermill.LogFields{"topic": topic})
			return nil
		}
		s.deliver(sub, msg)
		return nil
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-s.closing:
		}
		cancel()
		s.ep.Off(handle)

		sub.mu.Lock()
		sub.closed = true
		close(sub.out)
		sub.mu.Unlock()
	}()

	return sub.out, nil
}

func (s *Subscriber) deliver(sub *subscription, msg *message.Message) {
	for {
		m := msg.Copy()
		m.SetContext(sub.ctx)
		select {
		case sub.out <- m:
		case <-sub.ctx.Done():
			return
		}
		select {
		case <-m.Acked():
			return
		case <-m.Nacked():
			s.logger.Debug("Message nacked, redelivering", watermill.LogFields{"uuid": m.UUID})
		case <-sub.ctx.Done():
			return
		}
	}
}

func toMessage(ev events.Event) (*message.Message, error) {
	env, err := unwrap(ev)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(env.UUID, env.Payload)
	maps.Copy(msg.Metadata, env.Metadata)
	if ev.ClientID != "" {
		msg.Metadata.Set(ClientIDKey, ev.ClientID)
	}
	return msg, nil
}

// unwrap decodes an envelope. Messages sent by plain ipcflow peers carry no
// envelope; their JSON encoding becomes the payload under a fresh ULID.
func unwrap(ev events.Event) (envelope, error) {
	var env envelope
	if err := ev.Bind(&env); err == nil && env.UUID != "" {
		return env, nil
	}
	payload, err := jsoncodec.Marshal(ev.Message)
	if err != nil {
		return envelope{}, err
	}
	return envelope{UUID: idspkg.CreateULID(), Payload: payload}, nil
}

// Close ends every subscription and releases the endpoint.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.wg.Wait()
		s.closeErr = s.ep.release()
	})
	return s.closeErr
}
