// Package launcher starts the chat client with remote debugging enabled and
// waits for its debugger endpoint to come up.
package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultDebugPort = 9222
	defaultPollEvery = 500 * time.Millisecond
)

// ErrExited is returned by WaitReady when the process exits before it is ready.
var ErrExited = errors.New("launcher: process exited")

// Options configures Launch.
type Options struct {
	Executable string
	Args       []string
	DebugPort  int
	// PollEvery is the readiness probe interval.
	PollEvery time.Duration
	Logger    *slog.Logger
}

// Process is a launched client.
type Process struct {
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	pollEvery time.Duration
	logger    *slog.Logger

	done    chan struct{}
	mu      sync.Mutex
	waitErr error
}

// Launch starts the executable with --remote-debugging-port appended to Args.
// The process is killed when ctx is cancelled or Stop is called.
func Launch(ctx context.Context, opts Options) (*Process, error) {
	if opts.Executable == "" {
		return nil, errors.New("launcher: executable not set")
	}
	port := opts.DebugPort
	if port <= 0 {
		port = DefaultDebugPort
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "launcher"))
	poll := opts.PollEvery
	if poll <= 0 {
		poll = defaultPollEvery
	}

	args := append(append([]string(nil), opts.Args...), "--remote-debugging-port="+strconv.Itoa(port))
	pctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(pctx, opts.Executable, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("launcher: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("launcher: start %s: %w", opts.Executable, err)
	}
	logger.Info("client launched", slog.String("exe", opts.Executable), slog.Int("pid", cmd.Process.Pid), slog.Int("debug_port", port))

	p := &Process{cmd: cmd, cancel: cancel, pollEvery: poll, logger: logger, done: make(chan struct{})}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		p.drain(stderr)
	}()
	go func() {
		// Wait closes the pipe, so every stderr line must be read first.
		<-drained
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
		logger.Info("client exited", slog.Any("err", err))
	}()
	return p, nil
}

// drain forwards the client's stderr to debug logs so the pipe never fills.
func (p *Process) drain(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		p.logger.Debug("client stderr", slog.String("line", sc.Text()))
	}
}

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// WaitReady polls probe until it succeeds, the process exits, or ctx is done.
func (p *Process) WaitReady(ctx context.Context, probe func(ctx context.Context) error) error {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()
	var last error
	for {
		if last = probe(ctx); last == nil {
			p.logger.Info("client debugger ready")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("launcher: waiting for debugger: %w (last probe: %v)", ctx.Err(), last)
		case <-p.done:
			return fmt.Errorf("%w before debugger was ready: %v", ErrExited, p.Err())
		case <-ticker.C:
		}
	}
}

// Stop kills the process and waits for it to exit.
func (p *Process) Stop() {
	p.cancel()
	<-p.done
}
