// Package bot holds the class bot policy: announcing meetings as they start
// and end, and posting reminders ahead of scheduled classes.
package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/teams-classbot/events"
	"github.com/onnwee/teams-classbot/gateway"
)

const (
	queueSize   = 64
	callTimeout = 10 * time.Second
)

// Messenger sends and edits chat messages.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, html string) (gateway.SentMessage, error)
	EditMessage(ctx context.Context, channelID, messageID, clientMessageID, html string) error
}

type announcement struct {
	channel string
	sent    gateway.SentMessage
}

type job struct {
	kind    events.Kind
	meeting events.Meeting
}

// Announcer posts a message when a meeting starts and edits it with the
// attendance list when the meeting ends. Work is queued and handled in
// order by Run so event handlers never block on the network.
type Announcer struct {
	messenger Messenger
	channel   string
	logger    *slog.Logger

	queue chan job

	mu     sync.Mutex
	posted map[string]announcement
}

// NewAnnouncer returns an Announcer. An empty channel posts into each
// meeting's own channel.
func NewAnnouncer(m Messenger, channel string, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		messenger: m,
		channel:   channel,
		logger:    logger.With(slog.String("component", "bot")),
		queue:     make(chan job, queueSize),
		posted:    make(map[string]announcement),
	}
}

// Register subscribes the announcer to meeting events.
func (a *Announcer) Register(d *events.Dispatcher) {
	d.OnNewMeeting(func(m events.Meeting) { a.enqueue(events.NewMeeting, m) })
	d.OnMeetingEnded(func(m events.Meeting) { a.enqueue(events.MeetingEnded, m) })
}

func (a *Announcer) enqueue(k events.Kind, m events.Meeting) {
	select {
	case a.queue <- job{kind: k, meeting: m}:
	default:
		a.logger.Warn("announcement queue full, dropping", slog.String("kind", k.String()), slog.String("meeting", m.ID))
	}
}

// Run handles queued announcements until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-a.queue:
			a.handle(ctx, j)
		}
	}
}

func (a *Announcer) handle(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	switch j.kind {
	case events.NewMeeting:
		a.started(ctx, j.meeting)
	case events.MeetingEnded:
		a.ended(ctx, j.meeting)
	}
}

func (a *Announcer) target(m events.Meeting) string {
	if a.channel != "" {
		return a.channel
	}
	return m.Channel.ID
}

func (a *Announcer) started(ctx context.Context, m events.Meeting) {
	channel := a.target(m)
	if channel == "" {
		a.logger.Warn("no channel for meeting announcement", slog.String("meeting", m.ID))
		return
	}
	sent, err := a.messenger.SendMessage(ctx, channel, StartedHTML(m))
	if err != nil {
		a.logger.Error("failed to announce meeting", slog.String("meeting", m.ID), slog.String("class", gateway.Classify(err).String()), slog.Any("err", err))
		return
	}
	a.mu.Lock()
	a.posted[m.ID] = announcement{channel: channel, sent: sent}
	a.mu.Unlock()
	a.logger.Info("meeting announced", slog.String("meeting", m.ID), slog.String("channel", channel), slog.String("message_id", sent.ID))
}

func (a *Announcer) ended(ctx context.Context, m events.Meeting) {
	a.mu.Lock()
	prev, ok := a.posted[m.ID]
	delete(a.posted, m.ID)
	a.mu.Unlock()

	body := EndedHTML(m)
	if ok && prev.sent.ID != "" {
		if err := a.messenger.EditMessage(ctx, prev.channel, prev.sent.ID, prev.sent.ClientMessageID, body); err != nil {
			a.logger.Error("failed to update announcement", slog.String("meeting", m.ID), slog.Any("err", err))
		}
		return
	}
	channel := a.target(m)
	if channel == "" {
		return
	}
	if _, err := a.messenger.SendMessage(ctx, channel, body); err != nil {
		a.logger.Error("failed to post attendance", slog.String("meeting", m.ID), slog.Any("err", err))
	}
}

// Announced reports whether a start announcement is on record for id.
func (a *Announcer) Announced(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.posted[id]
	return ok
}

func titleOf(m events.Meeting) string {
	if m.Title == "" {
		return "Class"
	}
	return m.Title
}

// StartedHTML renders the announcement for a meeting that just started.
func StartedHTML(m events.Meeting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p><b>%s</b> has started.</p>", html.EscapeString(titleOf(m)))
	if m.JoinURL != "" {
		fmt.Fprintf(&b, `<p><a href="%s">Join the meeting</a></p>`, html.EscapeString(m.JoinURL))
	}
	return b.String()
}

// EndedHTML renders the attendance summary for a finished meeting.
func EndedHTML(m events.Meeting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p><b>%s</b> has ended.</p>", html.EscapeString(titleOf(m)))
	if len(m.Participants) == 0 {
		b.WriteString("<p>No attendees recorded.</p>")
		return b.String()
	}
	fmt.Fprintf(&b, "<p>Attendance (%d):</p><ul>", len(m.Participants))
	for _, p := range m.Participants {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(name))
	}
	b.WriteString("</ul>")
	return b.String()
}
