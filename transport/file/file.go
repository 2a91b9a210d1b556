// Package file provides an append-only JSON lines transport. It is used as a
// relay target to archive socket traffic, and as a relay source to replay an
// archive back onto the socket.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/jsoncodec"
	"github.com/drblury/ipcflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "file"

// DefaultArchiveFile is used when no archive file is configured.
const DefaultArchiveFile = "ipcflow-archive.jsonl"

// PollInterval is how often a subscriber checks the archive for new lines
// once it has caught up.
var PollInterval = 50 * time.Millisecond

// Register registers the file transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.FileCapabilities)
}

// Build creates a publisher and subscriber sharing one archive file.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	path := cfg.GetArchiveFile()
	if path == "" {
		path = DefaultArchiveFile
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return transport.Transport{
		Publisher:  NewPublisher(path, logger),
		Subscriber: NewSubscriber(path, logger),
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.FileCapabilities
}

// record is one line of the archive.
type record struct {
	Topic    string            `json:"topic"`
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

// Publisher appends messages to the archive.
type Publisher struct {
	path   string
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// NewPublisher returns a publisher appending to path. The file is opened on
// the first publish.
func NewPublisher(path string, logger watermill.LoggerAdapter) *Publisher {
	return &Publisher{path: path, logger: logger}
}

// Publish writes one line per message.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errspkg.ErrClosed
	}
	if p.file == nil {
		f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("file: open archive: %w", err)
		}
		p.file = f
	}

	for _, msg := range messages {
		line, err := jsoncodec.Marshal(record{
			Topic:    topic,
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		})
		if err != nil {
			return err
		}
		if _, err := p.file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("file: write archive: %w", err)
		}
		p.logger.Trace("Archived message", watermill.LogFields{"uuid": msg.UUID, "topic": topic})
	}
	return nil
}

// Close closes the archive file.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.file == nil {
		return nil
	}
	return p.file.Close()
}

// Subscriber replays the archive from the beginning and then follows it,
// delivering the lines recorded for the subscribed topic. A nacked message
// is delivered again before the next line is read.
type Subscriber struct {
	path   string
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSubscriber returns a subscriber reading path.
func NewSubscriber(path string, logger watermill.LoggerAdapter) *Subscriber {
	return &Subscriber{path: path, logger: logger, closing: make(chan struct{})}
}

// Subscribe starts following the archive for topic.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-s.closing:
		return nil, errspkg.ErrClosed
	default:
	}

	f, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("file: open archive: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer f.Close()
		defer cancel()

		go func() {
			select {
			case <-s.closing:
				cancel()
			case <-ctx.Done():
			}
		}()
		s.follow(ctx, f, topic, out)
	}()
	return out, nil
}

func (s *Subscriber) follow(ctx context.Context, f *os.File, topic string, out chan<- *message.Message) {
	reader := bufio.NewReader(f)
	var partial []byte
	for {
		chunk, err := reader.ReadBytes('\n')
		partial = append(partial, chunk...)
		switch {
		case err == nil:
			line := partial
			partial = nil
			if !s.deliver(ctx, line, topic, out) {
				return
			}
		case errors.Is(err, io.EOF):
			// Keep the incomplete line and wait for the writer to finish it.
			select {
			case <-ctx.Done():
				return
			case <-time.After(PollInterval):
			}
		default:
			s.logger.Error("Failed to read archive", err, watermill.LogFields{"path": s.path})
			return
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, line []byte, topic string, out chan<- *message.Message) bool {
	var rec record
	if err := jsoncodec.Unmarshal(line, &rec); err != nil {
		s.logger.Error("Skipping malformed archive line", err, watermill.LogFields{"path": s.path})
		return true
	}
	if rec.Topic != topic {
		return true
	}

	for {
		msg := message.NewMessage(rec.UUID, rec.Payload)
		for k, v := range rec.Metadata {
			msg.Metadata.Set(k, v)
		}
		msg.SetContext(ctx)

		select {
		case out <- msg:
		case <-ctx.Done():
			return false
		}
		select {
		case <-msg.Acked():
			return true
		case <-msg.Nacked():
			s.logger.Debug("Message nacked, redelivering", watermill.LogFields{"uuid": rec.UUID})
		case <-ctx.Done():
			return false
		}
	}
}

// Close stops every subscription and waits for them to finish.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	s.wg.Wait()
	return nil
}
