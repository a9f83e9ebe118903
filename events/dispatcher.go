package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher fans events out to registered handlers. Emit runs handlers
// synchronously on the caller's goroutine so delivery order matches the
// order of Emit calls.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind][]func(Event)
	logger   *slog.Logger
}

// NewDispatcher returns an empty dispatcher. A nil logger uses slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[Kind][]func(Event)),
		logger:   logger.With(slog.String("component", "events")),
	}
}

func (d *Dispatcher) on(k Kind, fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[k] = append(d.handlers[k], fn)
}

func (d *Dispatcher) OnNewMeeting(fn func(Meeting)) {
	d.on(NewMeeting, func(e Event) { fn(e.(MeetingEvent).Meeting) })
}

func (d *Dispatcher) OnMeetingEnded(fn func(Meeting)) {
	d.on(MeetingEnded, func(e Event) { fn(e.(MeetingEvent).Meeting) })
}

func (d *Dispatcher) OnNewMessage(fn func(Message)) {
	d.on(NewMessage, func(e Event) { fn(e.(MessageEvent).Message) })
}

func (d *Dispatcher) OnMessageEdited(fn func(Message)) {
	d.on(MessageEdited, func(e Event) { fn(e.(MessageEvent).Message) })
}

func (d *Dispatcher) OnMessageDeleted(fn func(Message)) {
	d.on(MessageDeleted, func(e Event) { fn(e.(MessageEvent).Message) })
}

func (d *Dispatcher) OnChatUserTyping(fn func(Typing)) {
	d.on(ChatUserTyping, func(e Event) { fn(e.(TypingEvent).Typing) })
}

// OnAny registers a handler for every event kind.
func (d *Dispatcher) OnAny(fn func(Event)) {
	for _, k := range []Kind{NewMeeting, MeetingEnded, NewMessage, MessageEdited, MessageDeleted, ChatUserTyping} {
		d.on(k, fn)
	}
}

// Emit delivers e to every handler registered for its kind. A panicking
// handler is logged and does not prevent later handlers from running.
func (d *Dispatcher) Emit(e Event) {
	if e == nil {
		return
	}
	d.mu.RLock()
	hs := d.handlers[e.Kind()]
	d.mu.RUnlock()
	for _, h := range hs {
		d.call(h, e)
	}
}

func (d *Dispatcher) call(h func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", slog.String("kind", e.Kind().String()), slog.String("panic", fmt.Sprint(r)))
		}
	}()
	h(e)
}
