package collab

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/codesync/internal/config"
	"github.com/vovakirdan/codesync/internal/core"
	transporthttp "github.com/vovakirdan/codesync/internal/transport/http"
)

// relay is an in-process relay server whose upgrade endpoint can be taken
// offline to simulate an unreachable server.
type relay struct {
	*httptest.Server
	hub     *core.Hub
	offline atomic.Bool
	dials   atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
}

// hijackRecorder remembers upgraded connections so tests can cut them.
type hijackRecorder struct {
	http.ResponseWriter
	r *relay
}

func (h hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := h.ResponseWriter.(http.Hijacker).Hijack()
	if err == nil {
		h.r.mu.Lock()
		h.r.conns = append(h.r.conns, conn)
		h.r.mu.Unlock()
	}
	return conn, rw, err
}

// dropConnections cuts every upgraded connection without a close handshake.
func (r *relay) dropConnections() {
	r.mu.Lock()
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func startRelay(t *testing.T, mutate func(*config.Config)) *relay {
	t.Helper()

	cfg := config.Default()
	cfg.PingInterval = 0
	cfg.MaxMessageBytes = 1 << 20
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	hub := core.NewHub(core.NewRoomStore(), nil, core.HubConfig{RequireJoin: cfg.RequireJoin}, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := transporthttp.NewServer(hub, &cfg, &logger)
	r := &relay{hub: hub}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ws" {
			r.dials.Add(1)
			if r.offline.Load() {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		server.Handler.ServeHTTP(hijackRecorder{ResponseWriter: w, r: r}, req)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *relay) wsURL() string {
	return strings.Replace(r.URL, "http", "ws", 1) + "/ws"
}

func testManagerConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ReconnectBase = 20 * time.Millisecond
	cfg.ReconnectMax = 100 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, 3*time.Second, 5*time.Millisecond,
		"status never became %s (now %s)", want, m.Status())
}

// inbox records messages delivered to a handler.
type inbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (in *inbox) handle(msg Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.msgs = append(in.msgs, msg)
}

func (in *inbox) ofType(typ string) []Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	var out []Message
	for _, m := range in.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (in *inbox) waitFor(t *testing.T, typ string, n int) []Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(in.ofType(typ)) >= n }, 3*time.Second, 5*time.Millisecond,
		"expected %d %s messages", n, typ)
	return in.ofType(typ)
}

// joinRoom connects m, joins room and waits for the confirmation.
func joinRoom(t *testing.T, m *Manager, in *inbox, room string) {
	t.Helper()
	before := len(in.ofType(TypeJoinConfirm))
	require.NoError(t, m.Connect())
	waitStatus(t, m, StatusConnected)
	m.Send(Message{Type: TypeJoin, RoomID: room})
	in.waitFor(t, TypeJoinConfirm, before+1)
}

// recordingBuffer is a fake editor. Like a real widget it reports
// programmatic content replacement back as a change.
type recordingBuffer struct {
	mu       sync.Mutex
	contents []string
	onChange func(string)
}

func (b *recordingBuffer) SetContent(content string) {
	b.mu.Lock()
	b.contents = append(b.contents, content)
	onChange := b.onChange
	b.mu.Unlock()
	if onChange != nil {
		onChange(content)
	}
}

func (b *recordingBuffer) setOnChange(fn func(string)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *recordingBuffer) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.contents...)
}

func (b *recordingBuffer) last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.contents) == 0 {
		return ""
	}
	return b.contents[len(b.contents)-1]
}
