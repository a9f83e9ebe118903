package launcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// sleeper returns options for a long-running process that ignores the
// appended debugging flag, which lands in $1 of the shell script.
func sleeper(t *testing.T) Options {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return Options{Executable: sh, Args: []string{"-c", "exec sleep 30", "client"}}
}

func TestLaunch_NoExecutable(t *testing.T) {
	if _, err := Launch(context.Background(), Options{}); err == nil {
		t.Error("Launch() error = nil, want error for empty executable")
	}
}

func TestLaunch_MissingExecutable(t *testing.T) {
	if _, err := Launch(context.Background(), Options{Executable: "/nonexistent/teams-client"}); err == nil {
		t.Error("Launch() error = nil, want start error")
	}
}

func TestWaitReady_ProbeSucceeds(t *testing.T) {
	opts := sleeper(t)
	opts.PollEvery = 5 * time.Millisecond
	p, err := Launch(context.Background(), opts)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer p.Stop()

	var calls atomic.Int32
	probe := func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.WaitReady(ctx, probe); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("probe called %d times, want 3", calls.Load())
	}
}

func TestWaitReady_ProcessExits(t *testing.T) {
	exe, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	p, err := Launch(context.Background(), Options{Executable: exe, PollEvery: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = p.WaitReady(ctx, func(context.Context) error { return errors.New("never") })
	if !errors.Is(err, ErrExited) {
		t.Errorf("WaitReady() error = %v, want ErrExited", err)
	}
}

func TestStop(t *testing.T) {
	p, err := Launch(context.Background(), sleeper(t))
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		if p.Err() == nil {
			t.Error("Err() = nil after kill, want exit error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLaunch_StderrFullyDrainedBeforeExit(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	var out lockedBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	script := "for i in 1 2 3 4 5 6 7 8; do echo stderr-line-$i >&2; done"
	p, err := Launch(context.Background(), Options{Executable: sh, Args: []string{"-c", script, "client"}, Logger: logger})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		p.Stop()
		t.Fatal("process did not exit")
	}
	logs := out.String()
	for i := 1; i <= 8; i++ {
		if want := "stderr-line-" + string(rune('0'+i)); !strings.Contains(logs, want) {
			t.Errorf("missing %q in logs:\n%s", want, logs)
		}
	}
}
