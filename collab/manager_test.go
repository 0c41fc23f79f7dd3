package collab

import (
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/codesync/internal/auth"
	"github.com/vovakirdan/codesync/internal/config"
	transporthttp "github.com/vovakirdan/codesync/internal/transport/http"
)

func TestNewManagerValidatesConfig(t *testing.T) {
	_, err := NewManager(Config{})
	assert.ErrorIs(t, err, ErrEmptyURL)

	a := newTestManager(t, Config{URL: "ws://example.invalid/ws"})
	b := newTestManager(t, Config{URL: "ws://example.invalid/ws"})
	assert.True(t, strings.HasPrefix(a.ClientID(), "client-"))
	assert.NotEqual(t, a.ClientID(), b.ClientID(), "identities must never be reused")
	assert.Equal(t, StatusDisconnected, a.Status())
}

func TestManagerConnectsAndReceivesWelcome(t *testing.T) {
	r := startRelay(t, nil)
	m := newTestManager(t, testManagerConfig(r.wsURL()))

	var in inbox
	m.AddMessageHandler(in.handle)

	var statuses []Status
	statusCh := make(chan Status, 16)
	m.AddStatusHandler(func(s Status) { statusCh <- s })

	require.NoError(t, m.Connect())
	require.NoError(t, m.Connect(), "connect is idempotent")
	waitStatus(t, m, StatusConnected)

	welcome := in.waitFor(t, TypeWelcome, 1)[0]
	assert.Equal(t, m.ClientID(), welcome.ClientID)

	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-statusCh:
				statuses = append(statuses, s)
			default:
				return len(statuses) >= 2
			}
		}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, statuses[:2])
	assert.Equal(t, int32(1), r.dials.Load())

	info := m.Info()
	assert.Equal(t, StatusConnected, info.Status)
	assert.Equal(t, 1, info.Handlers)
	assert.Zero(t, info.QueuedMessages)
	assert.Zero(t, info.ReconnectAttempts)
}

func TestManagerSkipsUnchangedUpdate(t *testing.T) {
	r := startRelay(t, nil)

	var senderIn, peerIn inbox
	sender := newTestManager(t, testManagerConfig(r.wsURL()))
	sender.AddMessageHandler(senderIn.handle)
	peer := newTestManager(t, testManagerConfig(r.wsURL()))
	peer.AddMessageHandler(peerIn.handle)

	joinRoom(t, sender, &senderIn, "doc")
	joinRoom(t, peer, &peerIn, "doc")

	assert.True(t, sender.Send(Message{Type: TypeUpdate, RoomID: "doc", Content: "same"}))
	assert.False(t, sender.Send(Message{Type: TypeUpdate, RoomID: "doc", Content: "same"}))

	// A later, different update proves the relay processed everything sent.
	assert.True(t, sender.Send(Message{Type: TypeUpdate, RoomID: "doc", Content: "next"}))
	peerIn.waitFor(t, TypeUpdate, 2)
	time.Sleep(30 * time.Millisecond)
	updates := peerIn.ofType(TypeUpdate)

	require.Len(t, updates, 2)
	assert.Equal(t, "same", updates[0].Content)
	assert.Equal(t, sender.ClientID(), updates[0].SenderID)
	assert.Equal(t, "next", updates[1].Content)
	assert.Empty(t, senderIn.ofType(TypeUpdate), "relay must not echo to the sender")
}

func TestManagerResendsAfterRemoteChange(t *testing.T) {
	r := startRelay(t, nil)

	var aIn, bIn inbox
	a := newTestManager(t, testManagerConfig(r.wsURL()))
	a.AddMessageHandler(aIn.handle)
	b := newTestManager(t, testManagerConfig(r.wsURL()))
	b.AddMessageHandler(bIn.handle)

	joinRoom(t, a, &aIn, "doc")
	joinRoom(t, b, &bIn, "doc")

	require.True(t, a.Send(Message{Type: TypeUpdate, RoomID: "doc", Content: "v1"}))
	bIn.waitFor(t, TypeUpdate, 1)
	require.True(t, b.Send(Message{Type: TypeUpdate, RoomID: "doc", Content: "v2"}))
	aIn.waitFor(t, TypeUpdate, 1)

	// Reverting to v1 is a real change now.
	assert.True(t, a.Send(Message{Type: TypeUpdate, RoomID: "doc", Content: "v1"}))
}

func TestManagerQueuesWhileOfflineAndSupersedes(t *testing.T) {
	r := startRelay(t, func(cfg *config.Config) { cfg.RequireJoin = false })

	var peerIn inbox
	peer := newTestManager(t, testManagerConfig(r.wsURL()))
	peer.AddMessageHandler(peerIn.handle)
	joinRoom(t, peer, &peerIn, "A")

	r.offline.Store(true)
	m := newTestManager(t, testManagerConfig(r.wsURL()))

	assert.False(t, m.Send(Message{Type: TypeUpdate, RoomID: "A", Content: "X"}), "offline send is queued")
	assert.False(t, m.Send(Message{Type: TypeUpdate, RoomID: "A", Content: "Y"}))
	assert.Equal(t, 1, m.Info().QueuedMessages)
	require.Eventually(t, func() bool { return r.dials.Load() >= 2 }, 2*time.Second, 5*time.Millisecond,
		"offline send should have started a connection")

	r.offline.Store(false)
	waitStatus(t, m, StatusConnected)

	peerIn.waitFor(t, TypeUpdate, 1)
	time.Sleep(50 * time.Millisecond)
	updates := peerIn.ofType(TypeUpdate)
	require.Len(t, updates, 1, "stale X must never be sent")
	assert.Equal(t, "Y", updates[0].Content)
	assert.Zero(t, m.Info().QueuedMessages)
	assert.Zero(t, m.Info().ReconnectAttempts)
}

func TestManagerFailsAfterMaxAttempts(t *testing.T) {
	r := startRelay(t, nil)
	r.offline.Store(true)

	cfg := testManagerConfig(r.wsURL())
	cfg.ReconnectBase = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond
	m := newTestManager(t, cfg)

	require.NoError(t, m.Connect())
	waitStatus(t, m, StatusFailed)

	// One initial attempt plus five retries.
	assert.Equal(t, int32(6), r.dials.Load())
	assert.Equal(t, 5, m.Info().ReconnectAttempts)

	// Failed is terminal for automatic retries, including send-triggered ones.
	assert.False(t, m.Send(Message{Type: TypeGetContent, RoomID: "doc"}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(6), r.dials.Load())
	assert.Equal(t, StatusFailed, m.Status())

	r.offline.Store(false)
	require.NoError(t, m.Reconnect())
	waitStatus(t, m, StatusConnected)
	assert.Zero(t, m.Info().ReconnectAttempts)
	require.Eventually(t, func() bool { return m.Info().QueuedMessages == 0 }, time.Second, 5*time.Millisecond)
}

func TestManagerReconnectsAfterConnectionLoss(t *testing.T) {
	r := startRelay(t, nil)
	m := newTestManager(t, testManagerConfig(r.wsURL()))

	var in inbox
	m.AddMessageHandler(in.handle)
	require.NoError(t, m.Connect())
	in.waitFor(t, TypeWelcome, 1)

	r.dropConnections()

	in.waitFor(t, TypeWelcome, 2)
	assert.Equal(t, StatusConnected, m.Status())
	assert.GreaterOrEqual(t, r.dials.Load(), int32(2))
}

func TestManagerCloseIsClean(t *testing.T) {
	r := startRelay(t, nil)
	m, err := NewManager(testManagerConfig(r.wsURL()))
	require.NoError(t, err)

	require.NoError(t, m.Connect())
	waitStatus(t, m, StatusConnected)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, StatusDisconnected, m.Status())
	assert.ErrorIs(t, m.Connect(), ErrClosed)
	assert.False(t, m.Send(Message{Type: TypeJoin, RoomID: "doc"}))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), r.dials.Load(), "closing must not trigger a reconnect")
	require.Eventually(t, func() bool { return r.hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManagerUnauthorizedIsTerminal(t *testing.T) {
	r := startRelay(t, func(cfg *config.Config) {
		cfg.JWTSecret = "secret"
		cfg.JWTRequired = true
	})

	cfg := testManagerConfig(r.wsURL())
	cfg.Token = "not-a-jwt"
	m := newTestManager(t, cfg)

	var in inbox
	m.AddMessageHandler(in.handle)
	require.NoError(t, m.Connect())

	waitStatus(t, m, StatusUnauthorized)
	errs := in.waitFor(t, TypeError, 1)
	assert.Contains(t, errs[0].Message, "Unauthorized")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), r.dials.Load(), "unauthorized must not be retried")
	assert.Equal(t, StatusUnauthorized, m.Status())
}

func TestManagerSendsTokenAndClientID(t *testing.T) {
	secret := "secret"
	r := startRelay(t, func(cfg *config.Config) {
		cfg.JWTSecret = secret
		cfg.JWTRequired = true
	})

	relayCfg := config.Default()
	relayCfg.JWTSecret = secret
	token, err := auth.GenerateToken(transporthttp.JWTConfigFrom(&relayCfg), "user-1", "")
	require.NoError(t, err)

	cfg := testManagerConfig(r.wsURL())
	cfg.Token = token
	m := newTestManager(t, cfg)

	var in inbox
	m.AddMessageHandler(in.handle)
	require.NoError(t, m.Connect())
	waitStatus(t, m, StatusConnected)
	assert.Equal(t, m.ClientID(), in.waitFor(t, TypeWelcome, 1)[0].ClientID)

	u, err := url.Parse(m.dialURL())
	require.NoError(t, err)
	assert.Equal(t, token, u.Query().Get("token"))
	assert.Equal(t, m.ClientID(), u.Query().Get("clientId"))
	assert.Equal(t, "Bearer "+token, m.dialHeader().Get("Authorization"))
}

func TestManagerHandlersSurvivePanicsAndUnregister(t *testing.T) {
	r := startRelay(t, nil)
	m := newTestManager(t, testManagerConfig(r.wsURL()))

	var panicked, second atomic.Int32
	m.AddMessageHandler(func(Message) {
		panicked.Add(1)
		panic("boom")
	})
	var in inbox
	unregister := m.AddMessageHandler(func(msg Message) {
		second.Add(1)
		in.handle(msg)
	})

	require.NoError(t, m.Connect())
	in.waitFor(t, TypeWelcome, 1)
	assert.Equal(t, int32(1), panicked.Load())

	unregister()
	unregister()
	assert.Equal(t, 1, m.Info().Handlers)

	m.Send(Message{Type: TypeJoin, RoomID: "doc"})
	require.Eventually(t, func() bool { return panicked.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), second.Load(), "unregistered handler must not be called")
}

func TestManagerFlushesWriteFailedOnReplacedTransport(t *testing.T) {
	r := startRelay(t, nil)

	reader := newTestManager(t, testManagerConfig(r.wsURL()))
	var readerIn inbox
	reader.AddMessageHandler(readerIn.handle)
	joinRoom(t, reader, &readerIn, "doc")

	m := newTestManager(t, testManagerConfig(r.wsURL()))
	var in inbox
	m.AddMessageHandler(in.handle)
	joinRoom(t, m, &in, "doc")
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return !m.flushing && m.queue.len() == 0
	}, 3*time.Second, 5*time.Millisecond)

	// A write that raced a transport swap fails after the new transport
	// already drained its queue.
	m.mu.Lock()
	stale := m.gen - 1
	m.queue.push(Message{Type: TypeUpdate, RoomID: "doc", Content: "late", ClientID: m.clientID})
	m.transportFailedLocked(stale, errors.New("write on replaced transport"))
	m.mu.Unlock()

	updates := readerIn.waitFor(t, TypeUpdate, 1)
	assert.Equal(t, "late", updates[0].Content)
	assert.Equal(t, StatusConnected, m.Status())
	assert.Zero(t, m.Info().QueuedMessages)
}
