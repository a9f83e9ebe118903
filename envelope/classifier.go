// Package envelope routes decoded trouter envelopes to typed events.
//
// An envelope carries a resourceType ("NewMessage" for new items,
// "MessageUpdate" for updates) and a resource whose messagetype tells call
// events, typing indicators and ordinary messages apart. Call events go
// through the meeting correlator; everything else maps straight to an event.
// Unknown shapes are ignored so protocol drift never breaks the stream.
package envelope

import (
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/onnwee/teams-classbot/events"
	"github.com/onnwee/teams-classbot/meeting"
)

// Resource and message type tags seen on the socket.
const (
	ResourceNewMessage    = "NewMessage"
	ResourceMessageUpdate = "MessageUpdate"

	TypeCallEvent   = "Event/Call"
	TypeTyping      = "Control/Typing"
	TypeClearTyping = "Control/ClearTyping"
	TypeText        = "Text"
	TypeRichText    = "RichText"
	TypeHTML        = "RichText/Html"

	// DefaultBotPrefix marks bot identities in participant lists.
	DefaultBotPrefix = "28:"
)

// Classifier turns envelopes into events. It is not safe for concurrent use
// beyond what the correlator guarantees; the session calls it from a single
// read goroutine.
type Classifier struct {
	correlator *meeting.Correlator
	botPrefix  string
	logger     *slog.Logger
}

// NewClassifier returns a Classifier feeding call events into correlator.
func NewClassifier(correlator *meeting.Correlator, botPrefix string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		correlator: correlator,
		botPrefix:  botPrefix,
		logger:     logger.With(slog.String("component", "classifier")),
	}
}

// Classify returns the event produced by env, if any.
func (c *Classifier) Classify(env gjson.Result) (events.Event, bool) {
	resourceType := env.Get("resourceType").String()
	resource := env.Get("resource")
	if !resource.IsObject() {
		return nil, false
	}
	messageType := resource.Get("messagetype").String()
	id := resource.Get("id").String()
	content := resource.Get("content").String()

	switch {
	case messageType == TypeCallEvent && isEndedCall(content) &&
		(resourceType == ResourceNewMessage || resourceType == ResourceMessageUpdate):
		return c.endMeeting(id, resource, content)

	case messageType == TypeCallEvent && resourceType == ResourceNewMessage:
		c.correlator.Start(id)
		return nil, false

	case messageType == TypeCallEvent && resourceType == ResourceMessageUpdate:
		m, ok := c.correlator.Detail(id, meetingDetail(resource))
		if !ok {
			return nil, false
		}
		return events.MeetingEvent{Type: events.NewMeeting, Meeting: m}, true

	case messageType == TypeTyping && resourceType == ResourceNewMessage:
		return events.TypingEvent{Typing: events.Typing{
			UserID:  contactID(resource.Get("from").String()),
			Channel: channelOf(resource),
		}}, true

	case isOrdinary(messageType) && resourceType == ResourceNewMessage:
		return events.MessageEvent{Type: events.NewMessage, Message: message(resource)}, true

	case isOrdinary(messageType) && resourceType == ResourceMessageUpdate:
		m := message(resource)
		if isDeleted(resource) {
			return events.MessageEvent{Type: events.MessageDeleted, Message: m}, true
		}
		m.Reactions = reactions(resource.Get("properties.emotions"))
		return events.MessageEvent{Type: events.MessageEdited, Message: m}, true
	}

	c.logger.Debug("ignoring envelope", slog.String("resource_type", resourceType), slog.String("message_type", messageType))
	return nil, false
}

// endMeeting accepts ended markup on both new items and updates of the call
// message; the correlator keeps only the first termination per id.
func (c *Classifier) endMeeting(id string, resource gjson.Result, content string) (events.Event, bool) {
	ended := events.Meeting{
		Channel:      channelOf(resource),
		Participants: ParseParticipants(content, c.botPrefix),
	}
	if d := meetingDetail(resource); d.JoinURL != "" || d.Title != "" {
		ended.Title = d.Title
		ended.JoinURL = d.JoinURL
		ended.StartedBy = d.OrganizerID
	}
	m, ok := c.correlator.End(id, ended)
	if !ok {
		return nil, false
	}
	return events.MeetingEvent{Type: events.MeetingEnded, Meeting: m}, true
}

func isEndedCall(content string) bool {
	return strings.Contains(content, "<ended/>") || strings.Contains(content, `<partlist type="ended"`)
}

func isOrdinary(messageType string) bool {
	switch messageType {
	case TypeText, TypeRichText, TypeHTML:
		return true
	}
	return false
}

func isDeleted(resource gjson.Result) bool {
	dt := resource.Get("properties.deletetime")
	if !dt.Exists() {
		return false
	}
	s := dt.String()
	return s != "" && s != "0"
}

// meetingDetail reads properties.meeting, which the client sends either as
// an object or as a JSON-encoded string.
func meetingDetail(resource gjson.Result) meeting.Detail {
	desc := nested(resource.Get("properties.meeting"))
	return meeting.Detail{
		Title:       desc.Get("meetingtitle").String(),
		JoinURL:     desc.Get("meetingJoinUrl").String(),
		OrganizerID: desc.Get("organizerId").String(),
		Channel:     channelOf(resource),
	}
}

func message(resource gjson.Result) events.Message {
	return events.Message{
		ID:              resource.Get("id").String(),
		Content:         resource.Get("content").String(),
		ClientMessageID: resource.Get("clientmessageid").String(),
		Author: events.User{
			ID:   contactID(resource.Get("from").String()),
			Name: resource.Get("imdisplayname").String(),
		},
		Channel: channelOf(resource),
	}
}

// reactions builds the reaction multimap from
// [{"key":"like","users":[{"mri":"8:..."}]}], encoded as an array or a
// JSON string.
func reactions(v gjson.Result) map[events.Reaction]map[string]struct{} {
	out := make(map[events.Reaction]map[string]struct{})
	nested(v).ForEach(func(_, emotion gjson.Result) bool {
		key := emotion.Get("key").String()
		if key == "" {
			return true
		}
		users := make(map[string]struct{})
		emotion.Get("users").ForEach(func(_, u gjson.Result) bool {
			if mri := u.Get("mri").String(); mri != "" {
				users[mri] = struct{}{}
			}
			return true
		})
		if len(users) > 0 {
			out[events.Reaction(key)] = users
		}
		return true
	})
	return out
}

func channelOf(resource gjson.Result) events.Channel {
	id := resource.Get("conversationid").String()
	if id == "" {
		link := resource.Get("conversationLink").String()
		if i := strings.LastIndex(link, "/"); i >= 0 {
			id = link[i+1:]
		}
	}
	var kind events.ChannelKind
	switch resource.Get("threadtype").String() {
	case "chat":
		kind = events.ChannelChat
	case "topic", "space":
		kind = events.ChannelTopic
	}
	return events.Channel{ID: id, Kind: kind}
}

// contactID strips the contact URL down to the user id, e.g.
// ".../v1/users/ME/contacts/8:orgid:abc" → "8:orgid:abc".
func contactID(from string) string {
	if i := strings.LastIndex(from, "/"); i >= 0 {
		return from[i+1:]
	}
	return from
}

func nested(v gjson.Result) gjson.Result {
	if v.Type == gjson.String && gjson.Valid(v.String()) {
		return gjson.Parse(v.String())
	}
	return v
}
