// Package session implements the room session of a chat client: joining a
// room, local echo of sent messages, the inbound message log and invite links.
//
// A Session starts NotJoined and moves to Joined on the first successful
// join. There is no way back; a process owns one session for its lifetime.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/room-chat/transport"
)

// DefaultTimeLayout renders times like an en-US locale clock, e.g. 3:04:05 PM.
const DefaultTimeLayout = "3:04:05 PM"

// CopiedNotice is shown after the invite link reached the clipboard.
const CopiedNotice = "Invite link copied!"

// ErrNoClipboard is returned by CopyInviteLink when no clipboard was configured.
var ErrNoClipboard = errors.New("no clipboard configured")

// Transport is the connection the session publishes to and subscribes on.
// *transport.Client satisfies it.
type Transport interface {
	Emit(event string, payload any)
	On(event string, h transport.Handler)
	Off(event string)
}

// Clipboard receives invite links.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Session is the room session state machine. It is safe for concurrent use:
// user actions and inbound events are applied one at a time.
type Session struct {
	tr         Transport
	clipboard  Clipboard
	notify     func(string)
	onAppend   func(Message)
	onJoin     func(room string)
	now        func() time.Time
	timeLayout string

	// appendMu keeps listener calls in log order; it is taken before mu.
	appendMu sync.Mutex

	mu      sync.Mutex
	origin  string
	room    string
	draft   string
	log     []Message
	joined  bool
	mounted bool
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithTimeLayout sets the time.Format layout for message timestamps.
func WithTimeLayout(layout string) Option {
	return func(s *Session) {
		if layout != "" {
			s.timeLayout = layout
		}
	}
}

// WithOrigin sets the invite link origin used until Mount sees a page URL.
func WithOrigin(origin string) Option { return func(s *Session) { s.origin = origin } }

// WithClipboard sets where CopyInviteLink writes.
func WithClipboard(c Clipboard) Option { return func(s *Session) { s.clipboard = c } }

// WithNotifier receives user-facing confirmations and failures.
func WithNotifier(fn func(msg string)) Option { return func(s *Session) { s.notify = fn } }

// WithListener is called after every message appended to the log, sent or
// received, in log order. It must not call SendMessage.
func WithListener(fn func(Message)) Option { return func(s *Session) { s.onAppend = fn } }

// WithJoinHook is called with the room after each successful join.
func WithJoinHook(fn func(room string)) Option { return func(s *Session) { s.onJoin = fn } }

// New returns a NotJoined session publishing through tr.
func New(tr Transport, opts ...Option) *Session {
	s := &Session{
		tr:         tr,
		now:        time.Now,
		timeLayout: DefaultTimeLayout,
		log:        make([]Message, 0, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount subscribes to inbound messages and, when pageURL carries a room
// parameter, joins that room. Calling Mount again without Unmount does not
// register a second handler.
func (s *Session) Mount(pageURL string) error {
	var origin, room string
	if pageURL != "" {
		var err error
		if origin, room, err = ParsePage(pageURL); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.mounted {
		s.tr.On(EventReceiveMessage, s.receive)
		s.mounted = true
	}
	if origin != "" {
		s.origin = origin
	}
	joined := room != "" && s.joinLocked(room)
	s.mu.Unlock()

	if joined {
		s.joinedHook(room)
	}
	return nil
}

// Unmount removes the inbound message handler registered by Mount.
func (s *Session) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mounted {
		return
	}
	s.tr.Off(EventReceiveMessage)
	s.mounted = false
}

// SetRoom sets the room input. It is ignored once joined.
func (s *Session) SetRoom(room string) {
	s.mu.Lock()
	if !s.joined {
		s.room = room
	}
	s.mu.Unlock()
}

// SetDraft sets the text the next SendMessage will send.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// JoinRoom joins the room from the room input. It does nothing and returns
// false when the input is empty or a room was already joined. The join is
// optimistic: nothing waits for the backend.
func (s *Session) JoinRoom() bool {
	s.mu.Lock()
	room := s.room
	ok := room != "" && s.joinLocked(room)
	s.mu.Unlock()

	if ok {
		s.joinedHook(room)
	}
	return ok
}

func (s *Session) joinLocked(room string) bool {
	if s.joined {
		return false
	}
	s.room = room
	s.tr.Emit(EventJoinRoom, room)
	s.joined = true
	log.Debug().Str("room", room).Msg("[session] joined")
	return true
}

func (s *Session) joinedHook(room string) {
	if s.onJoin != nil {
		s.onJoin(room)
	}
}

// SendMessage sends the draft to the current room, appends it to the local
// log without waiting for the backend and clears the draft. An empty draft,
// or a session that has not joined, is a no-op.
func (s *Session) SendMessage() (Message, bool) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	s.mu.Lock()
	if !s.joined || s.draft == "" {
		s.mu.Unlock()
		return Message{}, false
	}
	m := Message{
		Room:    s.room,
		Author:  SelfAuthor,
		Message: s.draft,
		Time:    s.now().Format(s.timeLayout),
	}
	s.tr.Emit(EventSendMessage, m)
	s.log = append(s.log, m)
	s.draft = ""
	s.mu.Unlock()

	s.appended(m)
	return m, true
}

// receive appends an inbound message as-is. Messages for other rooms and
// echoes of our own messages are kept; filtering is the backend's job.
// A null or empty object payload decodes to an empty Message and is kept too.
func (s *Session) receive(data json.RawMessage) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Msg("[session] undecodable receive_message payload dropped")
		return
	}
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	s.mu.Lock()
	s.log = append(s.log, m)
	s.mu.Unlock()

	s.appended(m)
}

func (s *Session) appended(m Message) {
	if s.onAppend != nil {
		s.onAppend(m)
	}
}

// InviteLink is the link that lets others join the current room.
func (s *Session) InviteLink() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return InviteLink(s.origin, s.room)
}

// CopyInviteLink writes the invite link to the clipboard. The notifier is told
// only after the write finished, with a distinct message when it failed.
func (s *Session) CopyInviteLink(ctx context.Context) error {
	link := s.InviteLink()
	err := ErrNoClipboard
	if s.clipboard != nil {
		err = s.clipboard.WriteText(ctx, link)
	}
	if err != nil {
		log.Debug().Err(err).Msg("[session] clipboard write")
		s.notifyf("Could not copy invite link: %v", err)
		return fmt.Errorf("copy invite link: %w", err)
	}
	s.notifyf("%s", CopiedNotice)
	return nil
}

func (s *Session) notifyf(format string, args ...any) {
	if s.notify != nil {
		s.notify(fmt.Sprintf(format, args...))
	}
}

// Joined reports whether a room has been joined.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.log))
	copy(msgs, s.log)
	return State{Room: s.room, Draft: s.draft, Log: msgs, Joined: s.joined}
}
