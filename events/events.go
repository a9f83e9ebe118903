// Package events defines the typed domain events reconstructed from the
// captured client socket (meetings, messages, typing) and a small dispatcher
// that delivers them to subscribers in the order they were produced.
package events

// Kind identifies an event variant.
type Kind int

const (
	NewMeeting Kind = iota + 1
	MeetingEnded
	NewMessage
	MessageEdited
	MessageDeleted
	ChatUserTyping
)

// String returns the wire-style name of the event kind.
func (k Kind) String() string {
	switch k {
	case NewMeeting:
		return "NEW_MEETING"
	case MeetingEnded:
		return "MEETING_ENDED"
	case NewMessage:
		return "NEW_MESSAGE"
	case MessageEdited:
		return "MESSAGE_EDITED"
	case MessageDeleted:
		return "MESSAGE_DELETED"
	case ChatUserTyping:
		return "CHAT_USER_TYPING"
	default:
		return "UNKNOWN"
	}
}

// ChannelKind tags a channel as a persistent team topic or a chat thread
// when the source event says so.
type ChannelKind string

const (
	ChannelUnknown ChannelKind = ""
	ChannelChat    ChannelKind = "chat"
	ChannelTopic   ChannelKind = "topic"
)

// Channel is an opaque thread reference.
type Channel struct {
	ID   string      `json:"id"`
	Kind ChannelKind `json:"kind,omitempty"`
}

// Participant is an attendee listed on an ended meeting.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Meeting is stable by ID across its lifecycle. Participants are only
// populated on MEETING_ENDED.
type Meeting struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	JoinURL      string        `json:"joinUrl,omitempty"`
	StartedBy    string        `json:"startedBy,omitempty"`
	Channel      Channel       `json:"channel"`
	Participants []Participant `json:"participants,omitempty"`
}

// User identifies a message author.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Reaction is one of the fixed reaction kinds the client renders.
type Reaction string

const (
	ReactionLike      Reaction = "like"
	ReactionHeart     Reaction = "heart"
	ReactionLaugh     Reaction = "laugh"
	ReactionSurprised Reaction = "surprised"
	ReactionSad       Reaction = "sad"
	ReactionAngry     Reaction = "angry"
)

// Reactions lists every known reaction kind.
var Reactions = []Reaction{ReactionLike, ReactionHeart, ReactionLaugh, ReactionSurprised, ReactionSad, ReactionAngry}

// Message is a chat message as seen on the socket. Reactions is only
// populated on MESSAGE_EDITED and maps a reaction kind to the user ids that
// applied it.
type Message struct {
	ID              string                           `json:"id"`
	Content         string                           `json:"content"`
	ClientMessageID string                           `json:"clientMessageId,omitempty"`
	Author          User                             `json:"author"`
	Channel         Channel                          `json:"channel"`
	Reactions       map[Reaction]map[string]struct{} `json:"-"`
}

// ReactedBy reports whether userID applied reaction r.
func (m Message) ReactedBy(r Reaction, userID string) bool {
	_, ok := m.Reactions[r][userID]
	return ok
}

// Typing is a typing indicator for a user in a channel.
type Typing struct {
	UserID  string  `json:"userId"`
	Channel Channel `json:"channel"`
}

// Event is the tagged union of everything the classifier can produce.
type Event interface {
	Kind() Kind
}

// MeetingEvent carries NEW_MEETING or MEETING_ENDED.
type MeetingEvent struct {
	Type    Kind
	Meeting Meeting
}

func (e MeetingEvent) Kind() Kind { return e.Type }

// MessageEvent carries NEW_MESSAGE, MESSAGE_EDITED or MESSAGE_DELETED.
type MessageEvent struct {
	Type    Kind
	Message Message
}

func (e MessageEvent) Kind() Kind { return e.Type }

// TypingEvent carries CHAT_USER_TYPING.
type TypingEvent struct {
	Typing Typing
}

func (TypingEvent) Kind() Kind { return ChatUserTyping }
