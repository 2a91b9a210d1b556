package runtime

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/ipcflow/internal/runtime/config"
	"github.com/drblury/ipcflow/internal/runtime/events"
)

const waitTimeout = 3 * time.Second

// socketPath returns a path short enough for sun_path in a directory that is
// removed when the test ends.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

// recorder collects every event delivered to the handlers it is attached to.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all(name string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(name string) int {
	return len(r.all(name))
}

// waitFor blocks until the n-th event called name was recorded and returns it.
func (r *recorder) waitFor(t *testing.T, name string, n int) events.Event {
	t.Helper()
	require.Eventually(t, func() bool { return r.count(name) >= n }, waitTimeout, 5*time.Millisecond,
		"waiting for %d %q events", n, name)
	return r.all(name)[n-1]
}

type listener interface {
	On(name string, handler events.Handler) events.Subscription
}

func (r *recorder) attach(l listener, names ...string) {
	for _, name := range names {
		l.On(name, r.handle)
	}
}

var serverEvents = []string{
	events.Listening, events.Connection, events.ConnectionClose,
	events.Message, events.MessageError, events.Error, events.Close,
}

var clientEvents = []string{
	events.Connect, events.Reconnect, events.ConnectError, events.Disconnect,
	events.Message, events.MessageError, events.Error, events.Close,
}

func startServer(t *testing.T, path string, opts ...Option) (*Server, *recorder) {
	t.Helper()
	srv, err := NewServer(configpkg.ServerConfig{SocketFile: path}, opts...)
	require.NoError(t, err)
	rec := &recorder{}
	rec.attach(srv, serverEvents...)
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { _ = srv.Close() })
	return srv, rec
}

func newTestClient(t *testing.T, path string, opts ...Option) (*Client, *recorder) {
	t.Helper()
	cli, err := NewClient(configpkg.ClientConfig{
		SocketFile:     path,
		RetryDelay:     20 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}, opts...)
	require.NoError(t, err)
	rec := &recorder{}
	rec.attach(cli, clientEvents...)
	t.Cleanup(func() { _ = cli.Close() })
	return cli, rec
}

// connectClient connects a client and returns the id the server assigned
// to it.
func connectClient(t *testing.T, path string, srvRec *recorder, opts ...Option) (*Client, *recorder, string) {
	t.Helper()
	before := srvRec.count(events.Connection)
	cli, rec := newTestClient(t, path, opts...)
	cli.Connect()
	rec.waitFor(t, events.Connect, 1)
	ev := srvRec.waitFor(t, events.Connection, before+1)
	return cli, rec, ev.ClientID
}

func dialRaw(t *testing.T, path string) net.Conn {
	t.Helper()
	c, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// readFor reads whatever arrives on c within d.
func readFor(t *testing.T, c net.Conn, d time.Duration) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(d)))
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out
		}
	}
}
