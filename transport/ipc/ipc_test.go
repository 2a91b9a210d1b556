package ipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/ipcflow/internal/runtime"
	configpkg "github.com/drblury/ipcflow/internal/runtime/config"
	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/transport"
)

const waitTimeout = 3 * time.Second

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func buildPair(t *testing.T) (server, client transport.Transport) {
	t.Helper()
	path := socketPath(t)
	ctx := context.Background()

	server, err := Build(ctx, &configpkg.Config{Transport: TransportName, Role: configpkg.RoleServer, SocketFile: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Publisher.Close()
		_ = server.Subscriber.Close()
	})

	client, err = Build(ctx, &configpkg.Config{
		Transport:      TransportName,
		Role:           configpkg.RoleClient,
		SocketFile:     path,
		RetryDelay:     20 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Publisher.Close()
		_ = client.Subscriber.Close()
	})
	return server, client
}

func publishEventually(t *testing.T, pub message.Publisher, topic string, msg *message.Message) {
	t.Helper()
	require.Eventually(t, func() bool {
		return pub.Publish(topic, msg) == nil
	}, waitTimeout, 10*time.Millisecond)
}

func receive(t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "subscription channel closed")
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestRegister(t *testing.T) {
	Register()
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.IPCCapabilities, transport.GetCapabilities(TransportName))
	assert.Equal(t, transport.IPCCapabilities, Capabilities())
}

func TestClientToServer(t *testing.T) {
	server, client := buildPair(t)

	msgs, err := server.Subscriber.Subscribe(context.Background(), "orders")
	require.NoError(t, err)

	out := message.NewMessage("", []byte(`{"id":1}`))
	out.Metadata.Set("origin", "test")
	publishEventually(t, client.Publisher, "orders", out)

	got := receive(t, msgs)
	assert.Len(t, got.UUID, 26)
	assert.Equal(t, []byte(`{"id":1}`), []byte(got.Payload))
	assert.Equal(t, "test", got.Metadata.Get("origin"))
	assert.Equal(t, "1", got.Metadata.Get(ClientIDKey))
	got.Ack()
}

func TestServerToClient(t *testing.T) {
	server, client := buildPair(t)

	msgs, err := client.Subscriber.Subscribe(context.Background(), "replies")
	require.NoError(t, err)

	// The client is connected once its first publish succeeds.
	publishEventually(t, client.Publisher, "hello", message.NewMessage("ping", nil))

	require.NoError(t, server.Publisher.Publish("replies", message.NewMessage("abc", []byte("pong"))))

	got := receive(t, msgs)
	assert.Equal(t, "abc", got.UUID)
	assert.Equal(t, "pong", string(got.Payload))
	assert.Empty(t, got.Metadata.Get(ClientIDKey))
	got.Ack()
}

func TestNackRedelivers(t *testing.T) {
	server, client := buildPair(t)

	msgs, err := server.Subscriber.Subscribe(context.Background(), "jobs")
	require.NoError(t, err)
	publishEventually(t, client.Publisher, "jobs", message.NewMessage("job-1", []byte("work")))

	first := receive(t, msgs)
	first.Nack()

	second := receive(t, msgs)
	assert.Equal(t, "job-1", second.UUID)
	assert.Equal(t, "work", string(second.Payload))
	second.Ack()
}

func TestPlainMessagesAreWrapped(t *testing.T) {
	path := socketPath(t)
	server, err := Build(context.Background(), &configpkg.Config{Role: configpkg.RoleServer, SocketFile: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.Publisher.Close()
		_ = server.Subscriber.Close()
	})

	msgs, err := server.Subscriber.Subscribe(context.Background(), "orders")
	require.NoError(t, err)

	raw, err := runtime.NewClient(configpkg.ClientConfig{SocketFile: path, RetryDelay: 20 * time.Millisecond})
	require.NoError(t, err)
	raw.Connect()
	t.Cleanup(func() { _ = raw.Close() })

	require.Eventually(t, func() bool {
		return raw.Send("orders", "plain text") == nil
	}, waitTimeout, 10*time.Millisecond)
	require.NoError(t, raw.Send("orders", map[string]any{"id": 1}))
	require.NoError(t, raw.Send("orders", map[string]any{"uuid": "ok", "payload": []byte("x")}))

	got := receive(t, msgs)
	assert.Len(t, got.UUID, 26)
	assert.Equal(t, `"plain text"`, string(got.Payload))
	assert.Equal(t, "1", got.Metadata.Get(ClientIDKey))
	got.Ack()

	got = receive(t, msgs)
	assert.JSONEq(t, `{"id":1}`, string(got.Payload))
	got.Ack()

	got = receive(t, msgs)
	assert.Equal(t, "ok", got.UUID)
	assert.Equal(t, "x", string(got.Payload))
	got.Ack()
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	server, _ := buildPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := server.Subscriber.Subscribe(ctx, "orders")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("subscription channel not closed")
	}
}

func TestEndpointClosesAfterLastRelease(t *testing.T) {
	srv, err := runtime.NewServer(configpkg.ServerConfig{SocketFile: socketPath(t)})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	tr := ServerEndpoint(srv).Transport(nil)
	msgs, err := tr.Subscriber.Subscribe(context.Background(), "orders")
	require.NoError(t, err)

	require.NoError(t, tr.Publisher.Close())
	assert.ErrorIs(t, tr.Publisher.Publish("orders", message.NewMessage("1", nil)), errspkg.ErrClosed)
	select {
	case <-srv.Done():
		t.Fatal("server closed while subscriber is open")
	default:
	}

	require.NoError(t, tr.Subscriber.Close())
	_, ok := <-msgs
	assert.False(t, ok)

	select {
	case <-srv.Done():
	case <-time.After(waitTimeout):
		t.Fatal("server not closed")
	}

	_, err = tr.Subscriber.Subscribe(context.Background(), "orders")
	assert.ErrorIs(t, err, errspkg.ErrClosed)
	assert.NoError(t, tr.Subscriber.Close())
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(&configpkg.Config{Role: configpkg.RoleServer, SocketFile: socketPath(t), Codec: "xml"}, nil)
	assert.ErrorContains(t, err, `unknown codec "xml"`)

	_, err = Open(&configpkg.Config{Role: "peer", SocketFile: socketPath(t)}, nil)
	assert.ErrorContains(t, err, `unknown role "peer"`)

	_, err = Open(&configpkg.Config{Role: configpkg.RoleServer}, nil)
	assert.Error(t, err)
}
