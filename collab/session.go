package collab

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Buffer is the editor side of a session: it receives full buffer snapshots.
type Buffer interface {
	SetContent(content string)
}

// BufferFunc adapts a function to Buffer.
type BufferFunc func(content string)

// SetContent calls f(content).
func (f BufferFunc) SetContent(content string) { f(content) }

// SessionOptions tunes a Session. Zero values select the defaults.
type SessionOptions struct {
	DebounceInterval time.Duration
	EchoWindow       time.Duration
	// OnError receives error messages from the relay for this room or
	// without a room.
	OnError func(Message)
}

// Session binds one room to an editor buffer over a shared Manager.
//
// Remote updates are written to the buffer under echo suppression, local
// changes are debounced into updates, and the room is re-joined every time
// the manager connects.
type Session struct {
	m    *Manager
	room string
	buf  Buffer
	opts SessionOptions
	log  zerolog.Logger

	debouncer *Debouncer
	echo      *EchoSuppressor

	mu          sync.Mutex
	lastContent string
	hasContent  bool
	closed      bool

	unsubscribe []func()
}

// NewSession subscribes to room through m and starts mirroring it into buf.
func NewSession(m *Manager, room string, buf Buffer, opts SessionOptions) *Session {
	s := &Session{
		m:         m,
		room:      room,
		buf:       buf,
		opts:      opts,
		log:       m.log.With().Str("room_id", room).Logger(),
		debouncer: NewDebouncer(opts.DebounceInterval),
		echo:      NewEchoSuppressor(opts.EchoWindow),
	}
	s.unsubscribe = append(s.unsubscribe,
		m.AddMessageHandler(s.handleMessage),
		m.AddStatusHandler(s.handleStatus),
	)
	if m.Status() == StatusConnected {
		s.join()
	} else {
		_ = m.Connect()
	}
	return s
}

// Room returns the room identifier.
func (s *Session) Room() string {
	return s.room
}

// LocalChange reports new buffer content produced by the user. It is ignored
// while a remote update is being applied and when the content is unchanged.
func (s *Session) LocalChange(content string) {
	if s.echo.Active() {
		return
	}
	s.mu.Lock()
	skip := s.closed || (s.hasContent && content == s.lastContent)
	s.mu.Unlock()
	if skip {
		return
	}
	s.debouncer.Trigger(func() { s.sendUpdate(content) })
}

// RequestContent asks the relay for the current buffer of the room.
func (s *Session) RequestContent() bool {
	return s.m.Send(Message{Type: TypeGetContent, RoomID: s.room})
}

// Close stops both timers and unregisters the handlers. The Manager stays
// open for other sessions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.debouncer.Stop()
	s.echo.Stop()
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
}

func (s *Session) sendUpdate(content string) {
	s.mu.Lock()
	if s.closed || (s.hasContent && content == s.lastContent) {
		s.mu.Unlock()
		return
	}
	s.lastContent = content
	s.hasContent = true
	s.mu.Unlock()

	sent := s.m.Send(Message{Type: TypeUpdate, RoomID: s.room, Content: content})
	s.log.Debug().Int("bytes", len(content)).Bool("sent", sent).Msg("local change")
}

func (s *Session) join() {
	s.m.Send(Message{Type: TypeJoin, RoomID: s.room})
}

func (s *Session) handleStatus(st Status) {
	if st == StatusConnected {
		s.join()
	}
}

func (s *Session) handleMessage(msg Message) {
	switch msg.Type {
	case TypeUpdate:
		if msg.RoomID != s.room {
			return
		}
		if msg.SenderID == s.m.ClientID() && !msg.IsInitialLoad && !msg.IsResponse {
			return
		}
		s.applyRemote(msg.Content)
	case TypeJoinConfirm:
		if msg.RoomID == s.room {
			s.log.Debug().Int("subscribers", msg.SubscriberCount).Msg("joined room")
		}
	case TypeError:
		if msg.RoomID != "" && msg.RoomID != s.room {
			return
		}
		s.log.Warn().Str("code", msg.Code).Str("message", msg.Message).Msg("relay error")
		if s.opts.OnError != nil {
			s.opts.OnError(msg)
		}
	}
}

func (s *Session) applyRemote(content string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastContent = content
	s.hasContent = true
	s.mu.Unlock()

	s.echo.Apply(func() { s.buf.SetContent(content) })
}
