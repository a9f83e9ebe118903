// Package meeting joins the two asynchronous call notifications the client
// receives for a meeting (a call start, then some time later a detail update
// carrying the join link) into one NEW_MEETING event, and tracks announced
// meetings until they end.
//
// Per meeting id the state is absent → pending → resolved → ended → absent.
// Pending entries expire lazily: an entry older than the window is dropped
// when it is next touched or when a new start triggers a sweep. An ended id
// is remembered for a while so repeated terminations for the same call emit
// nothing.
package meeting

import (
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/teams-classbot/events"
)

const (
	// DefaultWindow bounds how long a start waits for its detail update.
	DefaultWindow = 60 * time.Second

	// resolvedRetention caps how long an announced meeting is remembered
	// when no termination notification ever arrives.
	resolvedRetention = 12 * time.Hour

	// endedRetention is how long a terminated id keeps swallowing later
	// terminations and updates of the same call message.
	endedRetention = time.Hour
)

// Detail is the meeting description carried by a call detail update.
type Detail struct {
	Title       string
	JoinURL     string
	OrganizerID string
	Channel     events.Channel
}

type entry struct {
	startedAt  time.Time
	resolved   *events.Meeting
	resolvedAt time.Time
	endedAt    time.Time
}

func (e *entry) ended() bool { return !e.endedAt.IsZero() }

// Correlator is safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string]*entry
	logger  *slog.Logger
}

// NewCorrelator returns a Correlator with the given pending window. A zero
// window uses DefaultWindow; a nil now uses time.Now.
func NewCorrelator(window time.Duration, now func() time.Time, logger *slog.Logger) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		window:  window,
		now:     now,
		entries: make(map[string]*entry),
		logger:  logger.With(slog.String("component", "meeting")),
	}
}

// Start records a call-start notification for id. Repeated starts for an id
// that is already pending, resolved or ended are ignored.
func (c *Correlator) Start(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	if _, ok := c.entries[id]; ok {
		return
	}
	c.entries[id] = &entry{startedAt: c.now()}
	c.logger.Debug("meeting pending", slog.String("meeting_id", id))
}

// Detail applies a call detail update. It returns the meeting to announce
// when the update resolves a pending start; otherwise ok is false and
// nothing should be emitted.
func (c *Correlator) Detail(id string, d Detail) (m events.Meeting, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[id]
	if !found || e.resolved != nil || e.ended() {
		return events.Meeting{}, false
	}
	now := c.now()
	if age := now.Sub(e.startedAt); age > c.window {
		delete(c.entries, id)
		c.logger.Debug("discarding stale meeting detail", slog.String("meeting_id", id), slog.Duration("age", age))
		return events.Meeting{}, false
	}
	if d.JoinURL == "" {
		return events.Meeting{}, false
	}
	m = events.Meeting{
		ID:        id,
		Title:     d.Title,
		JoinURL:   d.JoinURL,
		StartedBy: d.OrganizerID,
		Channel:   d.Channel,
	}
	resolved := m
	e.resolved = &resolved
	e.resolvedAt = now
	c.logger.Info("meeting resolved", slog.String("meeting_id", id), slog.String("title", m.Title))
	return m, true
}

// End handles a termination notification for id from any state. Fields the
// notification lacks are filled from the announced meeting when one is
// cached. Ending an unknown id is allowed and returns ended as given. ok is
// false when id was already ended, so each call yields one MEETING_ENDED.
func (c *Correlator) End(id string, ended events.Meeting) (m events.Meeting, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ended.ID = id
	e, found := c.entries[id]
	if found && e.ended() {
		c.logger.Debug("ignoring repeated termination", slog.String("meeting_id", id))
		return events.Meeting{}, false
	}
	c.entries[id] = &entry{endedAt: c.now()}
	if !found {
		return ended, true
	}
	if r := e.resolved; r != nil {
		if ended.Title == "" {
			ended.Title = r.Title
		}
		if ended.JoinURL == "" {
			ended.JoinURL = r.JoinURL
		}
		if ended.StartedBy == "" {
			ended.StartedBy = r.StartedBy
		}
		if ended.Channel.ID == "" {
			ended.Channel = r.Channel
		}
	}
	return ended, true
}

// Resolved returns the announced meeting for id, if any.
func (c *Correlator) Resolved(id string) (events.Meeting, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok && e.resolved != nil {
		return *e.resolved, true
	}
	return events.Meeting{}, false
}

// Pending returns the number of starts still waiting for detail.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.resolved == nil && !e.ended() {
			n++
		}
	}
	return n
}

// Sweep drops expired pending entries, long-forgotten resolved ones and old
// termination markers.
func (c *Correlator) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
}

func (c *Correlator) sweepLocked() {
	now := c.now()
	for id, e := range c.entries {
		switch {
		case e.ended():
			if now.Sub(e.endedAt) > endedRetention {
				delete(c.entries, id)
			}
		case e.resolved == nil && now.Sub(e.startedAt) > c.window:
			delete(c.entries, id)
		case e.resolved != nil && now.Sub(e.resolvedAt) > resolvedRetention:
			delete(c.entries, id)
		}
	}
}
