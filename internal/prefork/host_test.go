package prefork

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	connector "github.com/youwenMonkey/odoo-connector/internal"
)

// recordingHooks spawns up to want units and records exits.
type recordingHooks struct {
	host *Host
	want int

	mu     sync.Mutex
	live   map[int]bool
	exited map[int]error
	spawns int
}

func newRecordingHooks(h *Host, want int) *recordingHooks {
	return &recordingHooks{host: h, want: want, live: map[int]bool{}, exited: map[int]error{}}
}

func (r *recordingHooks) OnNeedMoreWorkers(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.live) < r.want {
		u, err := r.host.Spawn(len(r.live))
		if err != nil {
			return
		}
		r.live[u.PID()] = true
		r.spawns++
	}
}

func (r *recordingHooks) OnWorkerExited(pid int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, pid)
	r.exited[pid] = err
}

func (r *recordingHooks) counts() (live, exited, spawns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live), len(r.exited), r.spawns
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestHost_SpawnsAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	sp := NewFuncSpawner(func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return nil
	})
	h := NewHost(sp, Options{TickInterval: 10 * time.Millisecond})
	hooks := newRecordingHooks(h, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, hooks) }()

	waitFor(t, "3 live units", func() bool { return h.Live() == 3 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("host did not stop")
	}

	live, exited, _ := hooks.counts()
	if live != 0 || exited != 3 {
		t.Errorf("live = %d, exited = %d; want 0, 3", live, exited)
	}
	if h.Live() != 0 {
		t.Errorf("host live = %d, want 0", h.Live())
	}
}

func TestHost_ReportsExitAndRespawnsOnTick(t *testing.T) {
	t.Parallel()

	testErr := errors.New("dispatch failed")
	var once sync.Once
	sp := NewFuncSpawner(func(ctx context.Context, _ int) error {
		var fail bool
		once.Do(func() { fail = true })
		if fail {
			return testErr
		}
		<-ctx.Done()
		return nil
	})
	h := NewHost(sp, Options{TickInterval: 10 * time.Millisecond})
	hooks := newRecordingHooks(h, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, hooks)

	waitFor(t, "respawn", func() bool {
		live, exited, spawns := hooks.counts()
		return live == 1 && exited >= 1 && spawns == 2
	})

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if err := hooks.exited[1]; !errors.Is(err, testErr) {
		t.Errorf("exit err = %v, want %v", err, testErr)
	}
}

func TestHost_StopTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	sp := NewFuncSpawner(func(context.Context, int) error {
		<-release // ignores cancellation
		return nil
	})
	h := NewHost(sp, Options{TickInterval: time.Hour, StopTimeout: 20 * time.Millisecond})
	hooks := newRecordingHooks(h, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, hooks)
		close(done)
	}()
	waitFor(t, "spawn", func() bool { return h.Live() == 1 })
	cancel()
	<-done

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if err := hooks.exited[1]; !errors.Is(err, ErrStopTimeout) {
		t.Errorf("exit err = %v, want ErrStopTimeout", err)
	}
}

func TestFuncSpawner_RecoversPanic(t *testing.T) {
	t.Parallel()

	sp := NewFuncSpawner(func(context.Context, int) error { panic("boom") })
	u, err := sp.Spawn(0)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-u.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("unit did not exit")
	}
	if u.Err() == nil {
		t.Error("expected panic to be reported as exit error")
	}
}

func TestFuncSpawner_DistinctPIDs(t *testing.T) {
	t.Parallel()

	sp := NewFuncSpawner(func(ctx context.Context, _ int) error { <-ctx.Done(); return nil })
	seen := map[int]bool{}
	for i := range 5 {
		u, err := sp.Spawn(i)
		if err != nil {
			t.Fatal(err)
		}
		if seen[u.PID()] {
			t.Fatalf("duplicate pid %d", u.PID())
		}
		seen[u.PID()] = true
		u.Close()
	}
}

func TestExecSpawner_ReportsExit(t *testing.T) {
	t.Parallel()

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	// sh -c SCRIPT -slot N: "-slot" and N become $0 and $1.
	sp := &ExecSpawner{Path: sh, Args: []string{"-c", `test "$1" = 3 && exit 7`}}
	u, err := sp.Spawn(3)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
	var exitErr *exec.ExitError
	if !errors.As(u.Err(), &exitErr) || exitErr.ExitCode() != 7 {
		t.Errorf("exit err = %v, want exit status 7", u.Err())
	}
	if err := u.Close(); err != nil {
		t.Errorf("close after exit: %v", err)
	}
}

func TestExecSpawner_StopTerminates(t *testing.T) {
	t.Parallel()

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	sp := &ExecSpawner{Path: sh, Args: []string{"-c", "exec sleep 30"}}
	u, err := sp.Spawn(0)
	if err != nil {
		t.Fatal(err)
	}
	if u.PID() <= 0 {
		t.Errorf("pid = %d", u.PID())
	}
	u.Stop()
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		u.Close()
		t.Fatal("child ignored SIGTERM")
	}
}

func TestExecSpawner_StartFailure(t *testing.T) {
	t.Parallel()

	sp := &ExecSpawner{Path: "/nonexistent/connector-worker"}
	if _, err := sp.Spawn(0); !errors.Is(err, connector.ErrSpawn) {
		t.Errorf("err = %v, want ErrSpawn", err)
	}
}
