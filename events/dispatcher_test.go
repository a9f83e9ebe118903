package events

import (
	"testing"
)

func TestDispatcherOrderAndRouting(t *testing.T) {
	d := NewDispatcher(nil)
	var got []string
	d.OnNewMeeting(func(m Meeting) { got = append(got, "meeting:"+m.ID) })
	d.OnNewMessage(func(m Message) { got = append(got, "message:"+m.ID) })
	d.OnChatUserTyping(func(ty Typing) { got = append(got, "typing:"+ty.UserID) })

	d.Emit(MessageEvent{Type: NewMessage, Message: Message{ID: "1"}})
	d.Emit(MeetingEvent{Type: NewMeeting, Meeting: Meeting{ID: "19:abcd"}})
	d.Emit(TypingEvent{Typing: Typing{UserID: "8:u"}})
	d.Emit(MessageEvent{Type: MessageDeleted, Message: Message{ID: "2"}}) // no subscriber

	want := []string{"message:1", "meeting:19:abcd", "typing:8:u"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	d := NewDispatcher(nil)
	called := false
	d.OnMeetingEnded(func(Meeting) { panic("boom") })
	d.OnMeetingEnded(func(Meeting) { called = true })

	d.Emit(MeetingEvent{Type: MeetingEnded, Meeting: Meeting{ID: "x"}})
	if !called {
		t.Error("second handler should run after first panicked")
	}
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		NewMeeting:     "NEW_MEETING",
		MeetingEnded:   "MEETING_ENDED",
		NewMessage:     "NEW_MESSAGE",
		MessageEdited:  "MESSAGE_EDITED",
		MessageDeleted: "MESSAGE_DELETED",
		ChatUserTyping: "CHAT_USER_TYPING",
		Kind(99):       "UNKNOWN",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestReactedBy(t *testing.T) {
	m := Message{Reactions: map[Reaction]map[string]struct{}{
		ReactionLike: {"8:a": {}},
	}}
	if !m.ReactedBy(ReactionLike, "8:a") {
		t.Error("expected 8:a to have liked")
	}
	if m.ReactedBy(ReactionHeart, "8:a") {
		t.Error("unexpected heart reaction")
	}
	if (Message{}).ReactedBy(ReactionLike, "8:a") {
		t.Error("nil reaction map should report false")
	}
}
