package prefork

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"syscall"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

// UnitFunc is the body of an in-process unit. It must return when ctx is
// cancelled; a non-nil return is reported as the unit's exit error.
type UnitFunc func(ctx context.Context, slot int) error

// FuncSpawner runs each unit as a goroutine. PIDs are synthetic and
// increase monotonically.
type FuncSpawner struct {
	fn   UnitFunc
	next atomic.Int64
}

// NewFuncSpawner creates a spawner that runs fn for every unit.
func NewFuncSpawner(fn UnitFunc) *FuncSpawner {
	return &FuncSpawner{fn: fn}
}

// Spawn starts fn in a new goroutine.
func (s *FuncSpawner) Spawn(slot int) (Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	u := &funcUnit{
		pid:    int(s.next.Add(1)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(u.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				u.err = fmt.Errorf("worker panic: %v", r)
			}
		}()
		u.err = s.fn(ctx, slot)
	}()
	return u, nil
}

type funcUnit struct {
	pid    int
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (u *funcUnit) PID() int              { return u.pid }
func (u *funcUnit) Done() <-chan struct{} { return u.done }
func (u *funcUnit) Err() error            { return u.err }
func (u *funcUnit) Stop()                 { u.cancel() }

// Close cancels the unit. A goroutine cannot be killed, so a unit stuck in
// a dispatch keeps running until the dispatch returns.
func (u *funcUnit) Close() error {
	u.cancel()
	return nil
}

// ExecSpawner runs each unit as a child OS process, re-executing Path with
// Args plus "-slot N".
type ExecSpawner struct {
	Path   string
	Args   []string
	Env    []string // appended to the parent environment
	Stdout io.Writer
	Stderr io.Writer
}

// NewSelfSpawner returns an ExecSpawner that re-executes the running binary.
func NewSelfSpawner(args ...string) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecSpawner{
		Path:   path,
		Args:   args,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// Spawn starts a child process for slot.
func (s *ExecSpawner) Spawn(slot int) (Handle, error) {
	args := append(append([]string(nil), s.Args...), "-slot", strconv.Itoa(slot))
	cmd := exec.Command(s.Path, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", connector.ErrSpawn, err)
	}

	u := &procUnit{cmd: cmd, done: make(chan struct{})}
	go func() {
		u.err = cmd.Wait()
		close(u.done)
	}()
	return u, nil
}

type procUnit struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (u *procUnit) PID() int              { return u.cmd.Process.Pid }
func (u *procUnit) Done() <-chan struct{} { return u.done }
func (u *procUnit) Err() error            { return u.err }

// Stop sends SIGTERM; the child exits at its next tick boundary.
func (u *procUnit) Stop() {
	_ = u.cmd.Process.Signal(syscall.SIGTERM)
}

// Close kills the child if it is still running.
func (u *procUnit) Close() error {
	select {
	case <-u.done:
		return nil
	default:
	}
	if err := u.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}
