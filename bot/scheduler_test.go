package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	classes, err := ParseSchedule(" 0 9 * * 1 | Algorithms ; ;30 13 * * 3|Databases")
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	want := []Class{{Expr: "0 9 * * 1", Title: "Algorithms"}, {Expr: "30 13 * * 3", Title: "Databases"}}
	if len(classes) != len(want) {
		t.Fatalf("got %d classes, want %d", len(classes), len(want))
	}
	for i := range want {
		if classes[i] != want[i] {
			t.Errorf("class %d = %+v, want %+v", i, classes[i], want[i])
		}
	}

	if got, err := ParseSchedule(""); err != nil || len(got) != 0 {
		t.Errorf("ParseSchedule(\"\") = %v, %v", got, err)
	}
	if _, err := ParseSchedule("not a cron|X"); err == nil {
		t.Error("ParseSchedule() accepted an invalid expression")
	}
}

func TestSchedulerNext(t *testing.T) {
	s := &Scheduler{
		Classes: []Class{
			{Expr: "30 8 * * *", Title: "Daily standup"},
			{Expr: "0 9 * * 1", Title: "Algorithms"},
			{Expr: "0 9 * * 1", Title: "Algorithms lab"},
		},
		Lead: 5 * time.Minute,
	}
	// Monday 08:50 UTC.
	from := time.Date(2024, 10, 14, 8, 50, 0, 0, time.UTC)
	classes, start, err := s.Next(from)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if want := time.Date(2024, 10, 14, 9, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if len(classes) != 2 || classes[0].Title != "Algorithms" || classes[1].Title != "Algorithms lab" {
		t.Errorf("classes = %+v, want both Monday 09:00 classes", classes)
	}

	// Once the 08:55 reminder has fired the next one is tomorrow's standup.
	classes, start, err = s.Next(start.Add(-s.Lead))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if want := time.Date(2024, 10, 15, 8, 30, 0, 0, time.UTC); !start.Equal(want) || classes[0].Title != "Daily standup" {
		t.Errorf("Next() = %+v at %v, want standup at %v", classes, start, want)
	}
}

func TestSchedulerRun(t *testing.T) {
	if err := (&Scheduler{}).Run(context.Background()); err != nil {
		t.Errorf("Run() with no classes = %v, want nil", err)
	}

	s := &Scheduler{Classes: []Class{{Expr: "0 9 * * 1", Title: "Algorithms"}}, Lead: time.Minute, Messenger: &fakeMessenger{}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want DeadlineExceeded", err)
	}
}

func TestSchedulerRunUsesInjectedClock(t *testing.T) {
	// Ten milliseconds before a reminder, years ahead of the wall clock.
	fixed := time.Date(2031, 3, 3, 8, 54, 59, 990_000_000, time.UTC)
	m := &fakeMessenger{}
	s := &Scheduler{
		Classes:   []Class{{Expr: "0 9 * * *", Title: "Algorithms"}},
		Lead:      5 * time.Minute,
		Channel:   "19:classchan",
		Messenger: m,
		Now:       func() time.Time { return fixed },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for len(m.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reminder not posted; Run is waiting on the wall clock")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	calls := m.Calls()
	if len(calls) != 1 || calls[0].channel != "19:classchan" || !strings.Contains(calls[0].html, "Algorithms") {
		t.Errorf("calls = %+v, want one Algorithms reminder", calls)
	}
}

func TestReminderHTML(t *testing.T) {
	got := ReminderHTML(Class{Title: "Algo & DS"}, time.Date(2024, 10, 14, 9, 0, 0, 0, time.UTC))
	if !strings.Contains(got, "Algo &amp; DS") || !strings.Contains(got, "09:00") {
		t.Errorf("ReminderHTML() = %q", got)
	}
}
