package collab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/codesync/collab/internal"
	"github.com/vovakirdan/codesync/internal/proto"
)

// ConnectionInfo is a snapshot of a Manager, for status displays and debugging.
type ConnectionInfo struct {
	Status            Status
	ClientID          string
	URL               string
	QueuedMessages    int
	Handlers          int
	ReconnectAttempts int
}

type messageHandler struct {
	id int
	fn func(Message)
}

type statusHandler struct {
	id int
	fn func(Status)
}

// Manager keeps one logical connection to the relay. It reconnects with
// backoff, queues messages while offline and fans inbound messages out to
// registered handlers.
//
// Handlers run on a single internal goroutine in the order events happened.
// They may call back into the Manager.
type Manager struct {
	cfg      Config
	clientID string
	log      *zerolog.Logger
	disp     *dispatcher

	mu         sync.Mutex
	status     Status
	conn       *internal.Conn
	gen        uint64 // bumped whenever the current transport is replaced
	dialing    bool
	flushing   bool
	closed     bool
	queue      queue
	lastSent   string
	hasSent    bool
	policy     *reconnectPolicy
	retry      *time.Timer
	retryGen   uint64
	cancelRead context.CancelFunc

	sendMu sync.Mutex // serializes transport writes

	handlersMu      sync.RWMutex
	nextHandlerID   int
	messageHandlers []messageHandler
	statusHandlers  []statusHandler
}

// NewManager validates cfg and returns a disconnected Manager. Call Connect to
// start, or just Send: an offline send triggers a connection.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("collab: parse url: %w", err)
	}
	cfg = cfg.withDefaults()

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "client-" + uuid.NewString()
	}
	logger := cfg.Logger.With().Str("client_id", clientID).Logger()

	return &Manager{
		cfg:      cfg,
		clientID: clientID,
		log:      &logger,
		disp:     newDispatcher(),
		status:   StatusDisconnected,
		policy:   newReconnectPolicy(cfg),
	}, nil
}

// ClientID returns the identity stamped on every outbound message.
func (m *Manager) ClientID() string {
	return m.clientID
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Info snapshots the manager state.
func (m *Manager) Info() ConnectionInfo {
	m.handlersMu.RLock()
	handlers := len(m.messageHandlers)
	m.handlersMu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectionInfo{
		Status:            m.status,
		ClientID:          m.clientID,
		URL:               m.cfg.URL,
		QueuedMessages:    m.queue.len(),
		Handlers:          handlers,
		ReconnectAttempts: m.policy.attempts,
	}
}

// AddMessageHandler registers fn for every inbound message and returns a
// function that unregisters it. Handlers run in registration order; a panic
// in one handler does not prevent delivery to the next.
func (m *Manager) AddMessageHandler(fn func(Message)) func() {
	m.handlersMu.Lock()
	m.nextHandlerID++
	id := m.nextHandlerID
	m.messageHandlers = append(m.messageHandlers, messageHandler{id: id, fn: fn})
	m.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.handlersMu.Lock()
			defer m.handlersMu.Unlock()
			for i, h := range m.messageHandlers {
				if h.id == id {
					m.messageHandlers = append(m.messageHandlers[:i:i], m.messageHandlers[i+1:]...)
					return
				}
			}
		})
	}
}

// AddStatusHandler registers fn for status transitions and returns a function
// that unregisters it.
func (m *Manager) AddStatusHandler(fn func(Status)) func() {
	m.handlersMu.Lock()
	m.nextHandlerID++
	id := m.nextHandlerID
	m.statusHandlers = append(m.statusHandlers, statusHandler{id: id, fn: fn})
	m.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.handlersMu.Lock()
			defer m.handlersMu.Unlock()
			for i, h := range m.statusHandlers {
				if h.id == id {
					m.statusHandlers = append(m.statusHandlers[:i:i], m.statusHandlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect starts a connection attempt in the background. It is a no-op while
// an attempt is in flight or a connection is open.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.connectLocked()
	return nil
}

// Reconnect resets the attempt counter, drops the current transport and
// connects again. It is the only way out of StatusFailed and StatusUnauthorized.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.log.Info().Msg("manual reconnect")
	m.policy.reset()
	m.stopRetryLocked()
	m.dropTransportLocked("manual")
	m.connectLocked()
	return nil
}

// Close shuts the manager down. Queued messages are discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopRetryLocked()
	conn, cancel := m.conn, m.cancelRead
	m.conn, m.cancelRead = nil, nil
	m.gen++
	m.dialing = false
	m.flushing = false
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client close")
		if cancel != nil {
			cancel()
		}
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
	}
	m.disp.stop()
	return err
}

// Send stamps msg with the client identity and a timestamp and transmits it.
// It reports whether the message went out immediately. An update whose
// content equals the last transmitted one is skipped. Otherwise a message that
// cannot be sent now is queued and a connection is started if none is pending;
// queuing is not a failure.
func (m *Manager) Send(msg Message) bool {
	msg.ClientID = m.clientID
	msg.Timestamp = time.Now().UnixMilli()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if msg.Type == TypeUpdate && m.hasSent && msg.Content == m.lastSent {
		m.mu.Unlock()
		m.log.Debug().Str("room_id", msg.RoomID).Msg("skipping unchanged update")
		return false
	}

	// A join goes out ahead of a pending flush so that queued updates reach
	// the relay after the subscription.
	open := m.status == StatusConnected && m.conn != nil
	if !open || (m.flushing && msg.Type != TypeJoin) {
		m.queue.push(msg)
		if m.status == StatusDisconnected && m.retry == nil && !m.dialing {
			m.connectLocked()
		}
		m.mu.Unlock()
		return false
	}
	conn, gen := m.conn, m.gen
	m.mu.Unlock()

	if err := m.write(conn, msg); err != nil {
		m.mu.Lock()
		m.queue.push(msg)
		m.transportFailedLocked(gen, err)
		m.mu.Unlock()
		return false
	}
	m.markSent(msg)
	return true
}

func (m *Manager) markSent(msg Message) {
	if msg.Type != TypeUpdate {
		return
	}
	m.mu.Lock()
	m.lastSent = msg.Content
	m.hasSent = true
	m.mu.Unlock()
}

func (m *Manager) write(conn *internal.Conn, msg Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return conn.Write(context.Background(), data)
}

func (m *Manager) connectLocked() {
	if m.closed || m.dialing || m.conn != nil {
		return
	}
	m.stopRetryLocked()
	m.gen++
	m.dialing = true
	m.setStatusLocked(StatusConnecting)
	go m.dial(m.gen)
}

func (m *Manager) dial(gen uint64) {
	conn, resp, err := internal.Dial(context.Background(), m.dialURL(), m.dialHeader(), m.cfg.HandshakeTimeout, m.cfg.WriteTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.closed {
		if conn != nil {
			_ = conn.CloseNow()
		}
		return
	}
	m.dialing = false

	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			m.log.Warn().Int("status", resp.StatusCode).Msg("relay rejected credentials")
			m.setStatusLocked(StatusUnauthorized)
			return
		}
		m.log.Warn().Err(err).Msg("dial relay")
		m.setStatusLocked(StatusError)
		m.lostLocked(false)
		return
	}

	conn.SetReadLimit(m.cfg.ReadLimit)
	readCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.cancelRead = cancel
	m.policy.reset()
	m.flushing = true
	m.log.Info().Str("url", m.cfg.URL).Msg("connected to relay")
	// Status handlers (sessions re-joining) run before the queue is flushed.
	m.setStatusLocked(StatusConnected)
	m.disp.post(func() { m.flush(gen) })

	go m.readLoop(readCtx, gen, conn)
}

// flush sends queued messages in order until the queue is empty.
func (m *Manager) flush(gen uint64) {
	for {
		m.mu.Lock()
		if gen != m.gen || m.conn == nil {
			m.mu.Unlock()
			return
		}
		msg, ok := m.queue.pop()
		if !ok {
			m.flushing = false
			m.mu.Unlock()
			return
		}
		if msg.Type == TypeUpdate && m.hasSent && msg.Content == m.lastSent {
			m.mu.Unlock()
			continue
		}
		conn := m.conn
		m.mu.Unlock()

		if err := m.write(conn, msg); err != nil {
			m.mu.Lock()
			m.queue.requeue(msg)
			m.transportFailedLocked(gen, err)
			m.mu.Unlock()
			return
		}
		m.markSent(msg)
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn *internal.Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			m.closedByPeer(gen, err)
			return
		}

		msg, err := proto.Decode(data)
		if err != nil {
			m.log.Warn().Err(err).Msg("discarding malformed message")
			continue
		}

		switch {
		case msg.Unauthorized():
			m.mu.Lock()
			if gen == m.gen {
				m.log.Warn().Str("message", msg.Message).Msg("relay rejected credentials")
				m.dropTransportLocked("unauthorized")
				m.setStatusLocked(StatusUnauthorized)
			}
			m.mu.Unlock()
			m.disp.post(func() { m.dispatch(msg) })
			return
		case msg.Type == TypeUpdate:
			// The shared buffer moved on; the same content may be sent again.
			m.mu.Lock()
			if m.hasSent && msg.Content != m.lastSent {
				m.hasSent = false
			}
			m.mu.Unlock()
		case msg.Type == TypeWelcome:
			m.log.Debug().Str("assigned", msg.ClientID).Msg("welcome received")
		}

		m.disp.post(func() { m.dispatch(msg) })
	}
}

// closedByPeer handles the end of the read loop of transport gen.
func (m *Manager) closedByPeer(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.conn == nil {
		// Replaced or closed locally.
		return
	}
	m.conn = nil
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	m.flushing = false

	clean := websocket.CloseStatus(err) == websocket.StatusNormalClosure
	if clean {
		m.log.Info().Msg("relay closed the connection")
	} else {
		m.log.Warn().Err(err).Msg("connection lost")
	}
	m.lostLocked(clean)
}

// transportFailedLocked drops transport gen after a write error. The failed
// message is already back in the queue; if gen was replaced meanwhile, the
// current transport flushes it.
func (m *Manager) transportFailedLocked(gen uint64, err error) {
	if m.closed {
		return
	}
	if gen != m.gen {
		m.flushLocked()
		return
	}
	m.log.Warn().Err(err).Msg("write failed")
	m.dropTransportLocked("write failed")
	m.setStatusLocked(StatusError)
	m.lostLocked(false)
}

// flushLocked starts a flush on the open transport unless one is running.
func (m *Manager) flushLocked() {
	if m.conn == nil || m.status != StatusConnected || m.flushing || m.queue.len() == 0 {
		return
	}
	m.flushing = true
	gen := m.gen
	m.disp.post(func() { m.flush(gen) })
}

// lostLocked decides what follows a lost connection or failed dial.
func (m *Manager) lostLocked(clean bool) {
	if m.closed || m.status == StatusUnauthorized {
		return
	}
	if clean {
		m.setStatusLocked(StatusDisconnected)
		return
	}
	delay, ok := m.policy.next()
	if !ok {
		m.log.Error().Int("attempts", m.policy.attempts).Msg("reconnect attempts exhausted")
		m.setStatusLocked(StatusFailed)
		return
	}
	m.setStatusLocked(StatusDisconnected)
	m.scheduleRetryLocked(delay)
}

func (m *Manager) scheduleRetryLocked(delay time.Duration) {
	m.stopRetryLocked()
	m.retryGen++
	retryGen := m.retryGen
	m.log.Info().Dur("delay", delay).Int("attempt", m.policy.attempts).Msg("scheduling reconnect")
	m.retry = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if retryGen != m.retryGen || m.closed {
			return
		}
		m.retry = nil
		m.connectLocked()
	})
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.retryGen++
}

// dropTransportLocked forgets the current transport and any dial in flight,
// closing the socket in the background.
func (m *Manager) dropTransportLocked(reason string) {
	m.gen++
	m.dialing = false
	m.flushing = false
	conn, cancel := m.conn, m.cancelRead
	m.conn, m.cancelRead = nil, nil
	if conn == nil {
		return
	}
	go func() {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
		if cancel != nil {
			cancel()
		}
	}()
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.log.Debug().Stringer("from", m.status).Stringer("to", s).Msg("status changed")
	m.status = s
	m.disp.post(func() { m.notifyStatus(s) })
}

func (m *Manager) dispatch(msg Message) {
	m.handlersMu.RLock()
	handlers := make([]messageHandler, len(m.messageHandlers))
	copy(handlers, m.messageHandlers)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		m.safeCall(msg.Type, func() { h.fn(msg) })
	}
}

func (m *Manager) notifyStatus(s Status) {
	m.handlersMu.RLock()
	handlers := make([]statusHandler, len(m.statusHandlers))
	copy(handlers, m.statusHandlers)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		m.safeCall("status:"+s.String(), func() { h.fn(s) })
	}
}

func (m *Manager) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("event", what).Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn()
}

func (m *Manager) dialURL() string {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return m.cfg.URL
	}
	q := u.Query()
	q.Set("clientId", m.clientID)
	if m.cfg.Token != "" {
		q.Set("token", m.cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Manager) dialHeader() http.Header {
	if m.cfg.Token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+m.cfg.Token)
	return h
}
