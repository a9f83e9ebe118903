package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/onnwee/teams-classbot/events"
	"github.com/onnwee/teams-classbot/meeting"
)

const contactBase = "https://emea.ng.msg.teams.microsoft.com/v1/users/ME/contacts/"

func envelopeOf(t *testing.T, resourceType string, resource map[string]any) gjson.Result {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"time":         "2024-10-15T09:00:00Z",
		"type":         "EventMessage",
		"resourceType": resourceType,
		"resource":     resource,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return gjson.ParseBytes(b)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestClassifier() (*Classifier, *clock) {
	clk := &clock{t: time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)}
	corr := meeting.NewCorrelator(meeting.DefaultWindow, clk.now, nil)
	return NewClassifier(corr, DefaultBotPrefix, nil), clk
}

func callStart(t *testing.T, id string) gjson.Result {
	return envelopeOf(t, ResourceNewMessage, map[string]any{
		"id":             id,
		"messagetype":    TypeCallEvent,
		"content":        `<partlist alt=""></partlist>`,
		"conversationid": "19:classchan",
	})
}

func callDetail(t *testing.T, id string, desc map[string]any) gjson.Result {
	descJSON, _ := json.Marshal(desc)
	return envelopeOf(t, ResourceMessageUpdate, map[string]any{
		"id":             id,
		"messagetype":    TypeCallEvent,
		"content":        "",
		"conversationid": "19:classchan",
		"threadtype":     "topic",
		"properties":     map[string]any{"meeting": string(descJSON)},
	})
}

func TestNewMeetingFromStartAndDetail(t *testing.T) {
	c, clk := newTestClassifier()

	if ev, ok := c.Classify(callStart(t, "19:abcd")); ok {
		t.Fatalf("call start should not emit, got %v", ev)
	}
	clk.t = clk.t.Add(20 * time.Second)

	ev, ok := c.Classify(callDetail(t, "19:abcd", map[string]any{
		"meetingtitle":   "Algorithms",
		"meetingJoinUrl": "https://x/y",
		"organizerId":    "prof1",
	}))
	if !ok {
		t.Fatal("detail within window should emit NEW_MEETING")
	}
	me, isMeeting := ev.(events.MeetingEvent)
	if !isMeeting || me.Kind() != events.NewMeeting {
		t.Fatalf("got %T %v, want NEW_MEETING", ev, ev.Kind())
	}
	m := me.Meeting
	if m.ID != "19:abcd" || m.Title != "Algorithms" || m.JoinURL != "https://x/y" || m.StartedBy != "prof1" || m.Channel.ID != "19:classchan" {
		t.Errorf("unexpected meeting %+v", m)
	}
	if m.Channel.Kind != events.ChannelTopic {
		t.Errorf("channel kind = %q, want topic", m.Channel.Kind)
	}
}

func TestStaleDetailProducesNothing(t *testing.T) {
	c, clk := newTestClassifier()
	c.Classify(callStart(t, "19:abcd"))
	clk.t = clk.t.Add(61 * time.Second)
	detail := callDetail(t, "19:abcd", map[string]any{"meetingJoinUrl": "https://x/y"})
	if _, ok := c.Classify(detail); ok {
		t.Fatal("stale detail should not emit")
	}
	if _, ok := c.Classify(detail); ok {
		t.Fatal("repeat detail after expiry should not emit")
	}
}

func TestDetailObjectForm(t *testing.T) {
	c, _ := newTestClassifier()
	c.Classify(callStart(t, "m1"))
	env := envelopeOf(t, ResourceMessageUpdate, map[string]any{
		"id":          "m1",
		"messagetype": TypeCallEvent,
		"properties": map[string]any{"meeting": map[string]any{
			"meetingtitle": "Databases", "meetingJoinUrl": "https://join/1", "organizerId": "t2",
		}},
		"conversationLink": "https://host/v1/users/ME/conversations/19:db@thread.tacv2",
	})
	ev, ok := c.Classify(env)
	if !ok {
		t.Fatal("expected NEW_MEETING")
	}
	m := ev.(events.MeetingEvent).Meeting
	if m.Title != "Databases" || m.Channel.ID != "19:db@thread.tacv2" {
		t.Errorf("unexpected meeting %+v", m)
	}
}

func TestEndedCallEmitsParticipants(t *testing.T) {
	c, _ := newTestClassifier()
	env := envelopeOf(t, ResourceNewMessage, map[string]any{
		"id":          "19:abcd",
		"messagetype": TypeCallEvent,
		"content": `<ended/><partlist type="ended" alt="">` +
			`<part identity="8:user1"><name>8:user1</name><displayName>Alice</displayName></part>` +
			`<part identity="28:bot1"><name>28:bot1</name><displayName>Bot</displayName></part>` +
			`</partlist>`,
		"conversationid": "19:classchan",
	})
	ev, ok := c.Classify(env)
	if !ok || ev.Kind() != events.MeetingEnded {
		t.Fatalf("expected MEETING_ENDED, got ok=%v", ok)
	}
	m := ev.(events.MeetingEvent).Meeting
	if m.ID != "19:abcd" || m.Channel.ID != "19:classchan" {
		t.Errorf("unexpected meeting %+v", m)
	}
	if len(m.Participants) != 1 || m.Participants[0] != (events.Participant{ID: "8:user1", Name: "Alice"}) {
		t.Errorf("participants = %+v, want only Alice", m.Participants)
	}
}

func TestEndedAfterAnnouncementKeepsTitle(t *testing.T) {
	c, _ := newTestClassifier()
	c.Classify(callStart(t, "m"))
	c.Classify(callDetail(t, "m", map[string]any{"meetingtitle": "Algorithms", "meetingJoinUrl": "https://x/y", "organizerId": "prof1"}))

	ev, ok := c.Classify(envelopeOf(t, ResourceMessageUpdate, map[string]any{
		"id":          "m",
		"messagetype": TypeCallEvent,
		"content":     `<ended/><partlist type="ended"></partlist>`,
	}))
	if !ok || ev.Kind() != events.MeetingEnded {
		t.Fatal("expected MEETING_ENDED from update-form termination")
	}
	m := ev.(events.MeetingEvent).Meeting
	if m.Title != "Algorithms" || m.StartedBy != "prof1" || m.Channel.ID != "19:classchan" {
		t.Errorf("ended meeting not filled from announcement: %+v", m)
	}
}

func TestTerminationThenUpdateEndsOnce(t *testing.T) {
	c, _ := newTestClassifier()
	c.Classify(callStart(t, "m"))
	c.Classify(callDetail(t, "m", map[string]any{"meetingtitle": "Algorithms", "meetingJoinUrl": "https://x/y", "organizerId": "prof1"}))

	ended := `<ended/><partlist type="ended"><part identity="8:user1"><displayName>Alice</displayName></part></partlist>`
	var kinds []events.Kind
	for _, resourceType := range []string{ResourceNewMessage, ResourceMessageUpdate, ResourceMessageUpdate} {
		ev, ok := c.Classify(envelopeOf(t, resourceType, map[string]any{
			"id":             "m",
			"messagetype":    TypeCallEvent,
			"content":        ended,
			"conversationid": "19:classchan",
		}))
		if ok {
			kinds = append(kinds, ev.Kind())
		}
	}
	if len(kinds) != 1 || kinds[0] != events.MeetingEnded {
		t.Errorf("events = %v, want exactly one MEETING_ENDED", kinds)
	}
}

func TestMessageEvents(t *testing.T) {
	c, _ := newTestClassifier()
	base := map[string]any{
		"id":              "1700000000001",
		"messagetype":     TypeHTML,
		"content":         "<p>hi</p>",
		"clientmessageid": "42",
		"from":            contactBase + "8:orgid:alice",
		"imdisplayname":   "Alice",
		"conversationid":  "19:chat@unq.gbl.spaces",
		"threadtype":      "chat",
	}

	ev, ok := c.Classify(envelopeOf(t, ResourceNewMessage, base))
	if !ok || ev.Kind() != events.NewMessage {
		t.Fatalf("expected NEW_MESSAGE, got ok=%v", ok)
	}
	msg := ev.(events.MessageEvent).Message
	if msg.ID != "1700000000001" || msg.Content != "<p>hi</p>" || msg.ClientMessageID != "42" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Author != (events.User{ID: "8:orgid:alice", Name: "Alice"}) {
		t.Errorf("author = %+v", msg.Author)
	}
	if msg.Channel != (events.Channel{ID: "19:chat@unq.gbl.spaces", Kind: events.ChannelChat}) {
		t.Errorf("channel = %+v", msg.Channel)
	}

	edited := copyMap(base)
	edited["properties"] = map[string]any{
		"emotions": `[{"key":"like","users":[{"mri":"8:orgid:bob","time":1},{"mri":"8:orgid:carol","time":2}]},{"key":"heart","users":[]}]`,
	}
	ev, ok = c.Classify(envelopeOf(t, ResourceMessageUpdate, edited))
	if !ok || ev.Kind() != events.MessageEdited {
		t.Fatalf("expected MESSAGE_EDITED, got ok=%v", ok)
	}
	msg = ev.(events.MessageEvent).Message
	if !msg.ReactedBy(events.ReactionLike, "8:orgid:bob") || !msg.ReactedBy(events.ReactionLike, "8:orgid:carol") {
		t.Errorf("reactions = %+v", msg.Reactions)
	}
	if _, ok := msg.Reactions[events.ReactionHeart]; ok {
		t.Error("empty reaction should be omitted")
	}

	deleted := copyMap(base)
	deleted["properties"] = map[string]any{"deletetime": "1700000000999"}
	ev, ok = c.Classify(envelopeOf(t, ResourceMessageUpdate, deleted))
	if !ok || ev.Kind() != events.MessageDeleted {
		t.Fatalf("expected MESSAGE_DELETED, got ok=%v", ok)
	}
}

func TestTypingIndicator(t *testing.T) {
	c, _ := newTestClassifier()
	ev, ok := c.Classify(envelopeOf(t, ResourceNewMessage, map[string]any{
		"messagetype":    TypeTyping,
		"from":           contactBase + "8:orgid:alice",
		"conversationid": "19:chat",
	}))
	if !ok || ev.Kind() != events.ChatUserTyping {
		t.Fatalf("expected CHAT_USER_TYPING, got ok=%v", ok)
	}
	ty := ev.(events.TypingEvent).Typing
	if ty.UserID != "8:orgid:alice" || ty.Channel.ID != "19:chat" {
		t.Errorf("typing = %+v", ty)
	}

	if _, ok := c.Classify(envelopeOf(t, ResourceNewMessage, map[string]any{"messagetype": TypeClearTyping})); ok {
		t.Error("clear typing should be ignored")
	}
}

func TestUnknownEnvelopesIgnored(t *testing.T) {
	c, _ := newTestClassifier()
	inputs := []string{
		`{}`,
		`{"resourceType":"EndpointPresence","resource":{"status":"Online"}}`,
		`{"resourceType":"ThreadUpdate","resource":{"id":"19:x"}}`,
		`{"resourceType":"NewMessage","resource":"not an object"}`,
		`{"resourceType":"NewMessage","resource":{"messagetype":"ThreadActivity/AddMember"}}`,
		`{"resourceType":"Surprise","resource":{"messagetype":"Text"}}`,
	}
	for _, in := range inputs {
		if ev, ok := c.Classify(gjson.Parse(in)); ok {
			t.Errorf("Classify(%s) = %v, want ignored", in, ev)
		}
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
