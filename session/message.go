package session

// Backend event names.
const (
	EventJoinRoom       = "join_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
)

// SelfAuthor marks messages written by this client.
const SelfAuthor = "You"

// Message is one chat line. It has no id and is never edited after creation.
type Message struct {
	Room    string `json:"room"`
	Author  string `json:"author"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// Mine reports whether the message was sent from this client.
func (m Message) Mine() bool { return m.Author == SelfAuthor }

// State is a point-in-time copy of a session.
type State struct {
	Room   string    `json:"room"`
	Draft  string    `json:"draft"`
	Log    []Message `json:"log"`
	Joined bool      `json:"joined"`
}
