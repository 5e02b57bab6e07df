package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by a blocking playback call when Stop interrupted it.
var ErrStopped = errors.New("playback stopped")

// process tracks at most one running external audio command. Starting a new
// command stops the previous one.
type process struct {
	mu      sync.Mutex
	current *runningCmd
}

type runningCmd struct {
	cmd     *exec.Cmd
	waitErr chan error

	stopOnce sync.Once
	stopped  atomic.Bool
}

// run starts name with args, feeds stdin when non-nil, and blocks until it exits.
func (p *process) run(ctx context.Context, stdin io.Reader, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = io.Discard
	cmd.WaitDelay = 500 * time.Millisecond
	if stdin != nil {
		cmd.Stdin = stdin
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	running := &runningCmd{cmd: cmd, waitErr: make(chan error, 1)}
	go func() {
		running.waitErr <- cmd.Wait()
		close(running.waitErr)
	}()

	p.mu.Lock()
	previous := p.current
	p.current = running
	p.mu.Unlock()
	if previous != nil {
		_ = previous.stop()
	}

	var err error
	cancelled := false
	select {
	case err = <-running.waitErr:
	case <-ctx.Done():
		_ = running.stop()
		cancelled = true
	}

	p.mu.Lock()
	if p.current == running {
		p.current = nil
	}
	p.mu.Unlock()

	switch {
	case cancelled:
		return ctx.Err()
	case running.stopped.Load():
		return ErrStopped
	case err != nil:
		return fmt.Errorf("%s failed: %w: %s", name, err, stringsTrimSpaceSafe(stderr.String()))
	default:
		return nil
	}
}

// stop interrupts the current command, if any. It never fails when idle.
func (p *process) stop() error {
	p.mu.Lock()
	running := p.current
	p.current = nil
	p.mu.Unlock()

	if running == nil {
		return nil
	}
	return running.stop()
}

func (r *runningCmd) stop() error {
	var stopErr error
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		if r.cmd.Process != nil {
			_ = r.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-r.waitErr:
			if ok {
				stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if r.cmd.Process != nil {
				_ = r.cmd.Process.Kill()
			}
			err, ok := <-r.waitErr
			if ok {
				stopErr = normalizeStopErr(err)
			}
		}
	})
	return stopErr
}

func normalizeStopErr(err error) error {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
