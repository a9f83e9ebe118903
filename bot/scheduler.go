package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Class is one recurring class from CLASS_SCHEDULE.
type Class struct {
	Expr  string
	Title string
}

// ParseSchedule parses "cron|title;cron|title". Blank entries are skipped.
func ParseSchedule(s string) ([]Class, error) {
	g := gronx.New()
	var out []Class
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		expr, title, _ := strings.Cut(part, "|")
		expr, title = strings.TrimSpace(expr), strings.TrimSpace(title)
		if !g.IsValid(expr) {
			return nil, fmt.Errorf("invalid cron expression %q", expr)
		}
		out = append(out, Class{Expr: expr, Title: title})
	}
	return out, nil
}

// Scheduler posts a reminder Lead before each scheduled class.
type Scheduler struct {
	Classes   []Class
	Lead      time.Duration
	Channel   string
	Messenger Messenger
	Now       func() time.Time
	Logger    *slog.Logger
}

// Next returns the classes starting first after from+Lead, so their
// reminder falls after from. Classes sharing a start time are returned together.
func (s *Scheduler) Next(from time.Time) ([]Class, time.Time, error) {
	var (
		due   []Class
		first time.Time
	)
	for _, c := range s.Classes {
		start, err := gronx.NextTickAfter(c.Expr, from.Add(s.Lead), false)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("next tick for %q: %w", c.Expr, err)
		}
		switch {
		case len(due) == 0 || start.Before(first):
			due, first = []Class{c}, start
		case start.Equal(first):
			due = append(due, c)
		}
	}
	if len(due) == 0 {
		return nil, time.Time{}, fmt.Errorf("no classes scheduled")
	}
	return due, first, nil
}

// Run sleeps until each reminder is due and posts it, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "bot"))
	if len(s.Classes) == 0 {
		logger.Info("class schedule empty; reminders disabled")
		return nil
	}

	from := now()
	for {
		classes, start, err := s.Next(from)
		if err != nil {
			return err
		}
		due := start.Add(-s.Lead)
		logger.Debug("next class reminder", slog.Int("classes", len(classes)), slog.Time("due", due))
		t := time.NewTimer(due.Sub(now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		for _, c := range classes {
			s.remind(ctx, c, start, logger)
		}
		from = due
	}
}

func (s *Scheduler) remind(ctx context.Context, c Class, start time.Time, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if _, err := s.Messenger.SendMessage(ctx, s.Channel, ReminderHTML(c, start)); err != nil {
		logger.Error("failed to post class reminder", slog.String("class", c.Title), slog.Any("err", err))
		return
	}
	logger.Info("class reminder posted", slog.String("class", c.Title), slog.Time("start", start))
}

// ReminderHTML renders a reminder for a class starting at start.
func ReminderHTML(c Class, start time.Time) string {
	title := c.Title
	if title == "" {
		title = "Class"
	}
	return fmt.Sprintf("<p>Reminder: <b>%s</b> starts at %s.</p>", html.EscapeString(title), start.Format("15:04"))
}
