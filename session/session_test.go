package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/room-chat/transport/transporttest"
)

var fixedNow = time.Date(2026, 10, 17, 14, 5, 9, 0, time.UTC)

func newTestSession(opts ...Option) (*Session, *transporttest.Recorder) {
	rec := transporttest.NewRecorder()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(rec, opts...), rec
}

type fakeClipboard struct {
	text string
	err  error
}

func (f *fakeClipboard) WriteText(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.text = text
	return nil
}

func TestSession_JoinRoom(t *testing.T) {
	tests := []struct {
		name   string
		room   string
		joined bool
	}{
		{name: "named room", room: "team42", joined: true},
		{name: "whitespace is a room", room: " ", joined: true},
		{name: "unicode room", room: "방-1", joined: true},
		{name: "empty room is ignored", room: "", joined: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec := newTestSession()
			s.SetRoom(tt.room)

			assert.Equal(t, tt.joined, s.JoinRoom())
			st := s.Snapshot()
			assert.Equal(t, tt.joined, st.Joined)
			if !tt.joined {
				assert.Empty(t, rec.Emitted())
				return
			}
			assert.Equal(t, tt.room, st.Room)
			assert.Equal(t, []transporttest.Emitted{{Event: EventJoinRoom, Payload: tt.room}}, rec.Emitted())
		})
	}
}

func TestSession_JoinRoomOnlyOnce(t *testing.T) {
	var hooked []string
	s, rec := newTestSession(WithJoinHook(func(room string) { hooked = append(hooked, room) }))
	s.SetRoom("first")
	require.True(t, s.JoinRoom())

	s.SetRoom("second")
	assert.False(t, s.JoinRoom())
	assert.Equal(t, "first", s.Snapshot().Room)
	assert.Len(t, rec.Emitted(), 1)
	assert.Equal(t, []string{"first"}, hooked)
}

func TestSession_SendMessage(t *testing.T) {
	var appended []Message
	s, rec := newTestSession(WithListener(func(m Message) { appended = append(appended, m) }))
	s.SetRoom("team42")
	require.True(t, s.JoinRoom())

	s.SetDraft("hello")
	m, ok := s.SendMessage()
	require.True(t, ok)

	want := Message{Room: "team42", Author: "You", Message: "hello", Time: "2:05:09 PM"}
	assert.Equal(t, want, m)
	assert.True(t, m.Mine())

	st := s.Snapshot()
	assert.Equal(t, []Message{want}, st.Log)
	assert.Empty(t, st.Draft)
	assert.Equal(t, []Message{want}, appended)

	emitted := rec.Emitted()
	require.Len(t, emitted, 2)
	assert.Equal(t, transporttest.Emitted{Event: EventSendMessage, Payload: want}, emitted[1])
}

func TestSession_SendMessageNoops(t *testing.T) {
	t.Run("empty draft", func(t *testing.T) {
		s, rec := newTestSession()
		s.SetRoom("r")
		require.True(t, s.JoinRoom())

		s.SetDraft("")
		_, ok := s.SendMessage()
		assert.False(t, ok)
		assert.Empty(t, s.Snapshot().Log)
		assert.Len(t, rec.Emitted(), 1)
	})
	t.Run("not joined", func(t *testing.T) {
		s, rec := newTestSession()
		s.SetDraft("hello")
		_, ok := s.SendMessage()
		assert.False(t, ok)
		assert.Empty(t, s.Snapshot().Log)
		assert.Equal(t, "hello", s.Snapshot().Draft)
		assert.Empty(t, rec.Emitted())
	})
}

func TestSession_TimeLayout(t *testing.T) {
	s, _ := newTestSession(WithTimeLayout("15:04:05"))
	s.SetRoom("r")
	s.JoinRoom()
	s.SetDraft("x")
	m, _ := s.SendMessage()
	assert.Equal(t, "14:05:09", m.Time)
}

func TestSession_ReceiveAppendsVerbatim(t *testing.T) {
	s, rec := newTestSession()
	require.NoError(t, s.Mount(""))

	// before joining, and for a room we never joined
	other := Message{Room: "elsewhere", Author: "Eve", Message: "psst", Time: "1:00:00 AM"}
	require.True(t, rec.Deliver(EventReceiveMessage, other))
	assert.Equal(t, []Message{other}, s.Snapshot().Log)

	// an echo of our own message is not filtered
	s.SetRoom("r")
	s.JoinRoom()
	s.SetDraft("hi")
	mine, _ := s.SendMessage()
	require.True(t, rec.Deliver(EventReceiveMessage, mine))
	assert.Equal(t, []Message{other, mine, mine}, s.Snapshot().Log)
}

func TestSession_ReceiveDropsGarbage(t *testing.T) {
	s, rec := newTestSession()
	require.NoError(t, s.Mount(""))

	require.True(t, rec.DeliverRaw(EventReceiveMessage, []byte(`"just a string"`)))
	assert.Empty(t, s.Snapshot().Log)
}

func TestSession_ReceiveKeepsEmptyPayloads(t *testing.T) {
	s, rec := newTestSession()
	require.NoError(t, s.Mount(""))

	require.True(t, rec.DeliverRaw(EventReceiveMessage, []byte(`null`)))
	require.True(t, rec.DeliverRaw(EventReceiveMessage, []byte(`{}`)))
	assert.Equal(t, []Message{{}, {}}, s.Snapshot().Log)
}

func TestSession_ListenerFollowsLogOrder(t *testing.T) {
	const perSide = 20
	for i := 0; i < 200; i++ {
		var shown []Message
		s, rec := newTestSession(WithListener(func(m Message) { shown = append(shown, m) }))
		require.NoError(t, s.Mount("https://chat.example.com/?room=r"))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perSide; j++ {
				s.SetDraft(fmt.Sprintf("out-%d", j))
				s.SendMessage()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perSide; j++ {
				rec.Deliver(EventReceiveMessage, Message{Room: "r", Author: "Bob", Message: fmt.Sprintf("in-%d", j)})
			}
		}()
		wg.Wait()

		log := s.Snapshot().Log
		require.Len(t, log, 2*perSide)
		require.Equal(t, log, shown, "iteration %d", i)
	}
}

func TestSession_MountBalancesHandlers(t *testing.T) {
	s, rec := newTestSession()
	require.NoError(t, s.Mount(""))
	require.NoError(t, s.Mount(""))
	assert.Equal(t, 1, rec.Handlers())
	ons, _ := rec.Registrations()
	assert.Equal(t, 1, ons)

	s.Unmount()
	s.Unmount()
	assert.Equal(t, 0, rec.Handlers())
	_, offs := rec.Registrations()
	assert.Equal(t, 1, offs)

	assert.False(t, rec.Deliver(EventReceiveMessage, Message{Message: "late"}))
	assert.Empty(t, s.Snapshot().Log)
}

func TestSession_MountWithInvite(t *testing.T) {
	var hooked []string
	s, rec := newTestSession(WithJoinHook(func(room string) { hooked = append(hooked, room) }))
	require.NoError(t, s.Mount("https://chat.example.com/?room=team42"))

	st := s.Snapshot()
	assert.True(t, st.Joined)
	assert.Equal(t, "team42", st.Room)
	assert.Empty(t, st.Log)
	assert.Equal(t, []transporttest.Emitted{{Event: EventJoinRoom, Payload: "team42"}}, rec.Emitted())
	assert.Equal(t, []string{"team42"}, hooked)
	assert.Equal(t, "https://chat.example.com?room=team42", s.InviteLink())
}

func TestSession_MountWithoutInvite(t *testing.T) {
	s, rec := newTestSession()
	require.NoError(t, s.Mount("https://chat.example.com/"))
	assert.False(t, s.Joined())
	assert.Empty(t, rec.Emitted())

	require.NoError(t, s.Mount("https://chat.example.com/?room="))
	assert.False(t, s.Joined())
}

func TestSession_MountRejectsBadURL(t *testing.T) {
	s, rec := newTestSession()
	assert.Error(t, s.Mount("::not a url"))
	assert.Error(t, s.Mount("/relative?room=x"))
	assert.False(t, s.Joined())
	assert.Equal(t, 0, rec.Handlers())
}

func TestSession_SetRoomIgnoredWhenJoined(t *testing.T) {
	s, _ := newTestSession()
	s.SetRoom("a")
	s.JoinRoom()
	s.SetRoom("")
	st := s.Snapshot()
	assert.True(t, st.Joined)
	assert.Equal(t, "a", st.Room)
}

func TestSession_CopyInviteLink(t *testing.T) {
	var notices []string
	clip := &fakeClipboard{}
	s, _ := newTestSession(
		WithOrigin("https://example.com"),
		WithClipboard(clip),
		WithNotifier(func(msg string) { notices = append(notices, msg) }),
	)
	s.SetRoom("abc")
	s.JoinRoom()

	require.NoError(t, s.CopyInviteLink(context.Background()))
	assert.Equal(t, "https://example.com?room=abc", clip.text)
	assert.Equal(t, []string{CopiedNotice}, notices)
}

func TestSession_CopyInviteLinkFailure(t *testing.T) {
	var notices []string
	boom := errors.New("clipboard locked")
	s, _ := newTestSession(
		WithClipboard(&fakeClipboard{err: boom}),
		WithNotifier(func(msg string) { notices = append(notices, msg) }),
	)

	err := s.CopyInviteLink(context.Background())
	assert.ErrorIs(t, err, boom)
	require.Len(t, notices, 1)
	assert.NotEqual(t, CopiedNotice, notices[0])
	assert.Contains(t, notices[0], "clipboard locked")

	s2, _ := newTestSession()
	assert.ErrorIs(t, s2.CopyInviteLink(context.Background()), ErrNoClipboard)
}

// Invite link load, send, then a message from someone else.
func TestSession_Scenario(t *testing.T) {
	s, rec := newTestSession()
	require.NoError(t, s.Mount("https://chat.example.com/?room=team42"))
	st := s.Snapshot()
	require.True(t, st.Joined)
	require.Equal(t, "team42", st.Room)
	require.Empty(t, st.Log)

	s.SetDraft("hello")
	_, ok := s.SendMessage()
	require.True(t, ok)
	st = s.Snapshot()
	require.Len(t, st.Log, 1)
	assert.Equal(t, Message{Room: "team42", Author: "You", Message: "hello", Time: fixedNow.Format(DefaultTimeLayout)}, st.Log[0])
	assert.Empty(t, st.Draft)

	bob := Message{Room: "team42", Author: "Bob", Message: "hi", Time: "10:00:00"}
	require.True(t, rec.Deliver(EventReceiveMessage, bob))
	st = s.Snapshot()
	require.Len(t, st.Log, 2)
	assert.Equal(t, bob, st.Log[1])
}
