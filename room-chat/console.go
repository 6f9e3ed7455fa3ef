package main

import (
	"bufio"
	"context"
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/gosuda/room-chat/session"
)

// Inbound text is shown as plain text: markup stripped, control runes dropped.
var plainPolicy = bluemonday.StrictPolicy()

const helpText = `commands:
  /invite  show the invite link for this room
  /copy    copy the invite link to the clipboard
  /state   show room and message count
  /quit    leave the chat
anything else is sent to the room`

// console is the line-oriented stand-in for the chat page. Writes are
// serialized because inbound messages arrive on the transport goroutine.
type console struct {
	in  io.Reader
	mu  sync.Mutex
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: in, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// printMessage renders one log entry.
func (c *console) printMessage(m session.Message) {
	c.printf("%s\n", renderMessage(m))
}

func (c *console) notice(msg string) {
	c.printf("* %s\n", msg)
}

func renderMessage(m session.Message) string {
	author := plainText(m.Author)
	if author == "" {
		author = "anon"
	}
	return fmt.Sprintf("[%s] %s: %s", plainText(m.Time), author, plainText(m.Message))
}

func plainText(s string) string {
	s = html.UnescapeString(plainPolicy.Sanitize(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Run reads lines until /quit, end of input or ctx is done.
func (c *console) Run(ctx context.Context, s *session.Session) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSuffix(sc.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	if !s.Joined() {
		c.printf("Enter Room ID: ")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if c.handle(ctx, s, line) {
				return nil
			}
		}
	}
}

// handle applies one input line and reports whether the user asked to quit.
func (c *console) handle(ctx context.Context, s *session.Session, line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printf("%s\n", helpText)
		return false
	case "/invite":
		c.printf("Invite friends: %s\n", s.InviteLink())
		return false
	case "/copy":
		// the notifier reports the outcome
		_ = s.CopyInviteLink(ctx)
		return false
	case "/state":
		st := s.Snapshot()
		if st.Joined {
			c.printf("room %s, %d messages\n", st.Room, len(st.Log))
		} else {
			c.printf("not joined\n")
		}
		return false
	}

	if !s.Joined() {
		s.SetRoom(line)
		if !s.JoinRoom() {
			c.printf("Enter Room ID: ")
		}
		return false
	}
	s.SetDraft(line)
	s.SendMessage()
	return false
}

// joined is the session join hook's console side.
func (c *console) joined(s *session.Session, room string) {
	c.printf("Joined room %s. Invite friends: %s (type /help for commands)\n", plainText(room), s.InviteLink())
}
