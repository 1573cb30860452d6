package host

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePausable struct {
	pauses, resumes int
	err             error
}

func (f *fakePausable) Pause() error  { f.pauses++; return f.err }
func (f *fakePausable) Resume() error { f.resumes++; return f.err }

func TestFreezeHooks_PairsAndIgnoresDoublePause(t *testing.T) {
	target := &fakePausable{}
	h := &FreezeHooks{Target: target}

	h.Pause()
	h.Pause()
	if !h.Frozen() {
		t.Fatal("expected frozen after pause")
	}
	if target.pauses != 1 {
		t.Errorf("double pause must reach the target once, got %d", target.pauses)
	}

	h.Resume()
	h.Resume()
	if h.Frozen() {
		t.Error("expected unfrozen after resume")
	}
	if target.resumes != 1 {
		t.Errorf("double resume must reach the target once, got %d", target.resumes)
	}
}

func TestFreezeHooks_TargetErrorsAreSwallowed(t *testing.T) {
	h := &FreezeHooks{Target: &fakePausable{err: errors.New("no such process")}}
	h.Pause()
	h.Resume()
	if h.Frozen() {
		t.Error("state must follow the hook calls even when the target fails")
	}
}

func TestFreezeHooks_NoTarget(t *testing.T) {
	h := &FreezeHooks{}
	h.Pause()
	h.Resume()
}

func TestSampler_CPUPercent(t *testing.T) {
	s := NewSampler()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	first := s.sample(42, 2*time.Second, 64*1024*1024)
	if first.CPUPercent != 0 {
		t.Errorf("first sample must report 0%% CPU, got %v", first.CPUPercent)
	}
	if first.MemoryMB != 64 {
		t.Errorf("expected 64 MB, got %v", first.MemoryMB)
	}

	now = now.Add(4 * time.Second)
	second := s.sample(42, 3*time.Second, 0)
	if second.CPUPercent != 25 {
		t.Errorf("expected 25%%, got %v", second.CPUPercent)
	}
}

func TestSampler_CounterReset(t *testing.T) {
	s := NewSampler()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.sample(7, 10*time.Second, 0)
	now = now.Add(time.Second)
	if u := s.sample(7, time.Second, 0); u.CPUPercent != 0 {
		t.Errorf("a restarted process must not report negative CPU, got %v", u.CPUPercent)
	}
}

func TestSampler_InvalidPid(t *testing.T) {
	s := NewSampler()
	if u := s.Process(0); u != (Usage{}) {
		t.Errorf("expected zero usage, got %+v", u)
	}
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) OnSessionStart() { l.add("start") }
func (l *recordingListener) OnSessionEnd()   { l.add("end") }

func (l *recordingListener) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestProbe_WatchReportsTransitions(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := NewProbe(ln.Addr().String(), nil)
	p.DialTimeout = 100 * time.Millisecond
	l := &recordingListener{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Watch(ctx, 10*time.Millisecond, l)
		close(done)
	}()

	waitFor(t, func() bool { return len(l.snapshot()) == 1 })
	ln.Close()
	waitFor(t, func() bool { return len(l.snapshot()) == 2 })

	cancel()
	<-done

	got := l.snapshot()
	if got[0] != "start" || got[1] != "end" {
		t.Errorf("expected start,end got %v", got)
	}
}

func TestProbe_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if NewProbe(addr, nil).Reachable(context.Background()) {
		t.Error("expected closed port to be unreachable")
	}
}

func TestSplitCommand(t *testing.T) {
	argv, err := SplitCommand(`"/opt/my server/bin/java" -Xmx2G -jar 'server 1.20.jar' nogui`)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"/opt/my server/bin/java", "-Xmx2G", "-jar", "server 1.20.jar", "nogui"}
	if strings.Join(argv, "|") != strings.Join(want, "|") {
		t.Errorf("argv = %q, want %q", argv, want)
	}

	if _, err := SplitCommand(`run "unterminated`); err == nil {
		t.Error("expected an error for an unterminated quote")
	}
}

func TestProcess_BadCommandFailsStart(t *testing.T) {
	p := NewProcess(ProcessOptions{Command: `run "unterminated`})
	err := p.Start(context.Background())
	if err == nil || errors.Is(err, ErrNoCommand) {
		t.Errorf("expected a parse error, got %v", err)
	}
	if p.Running() {
		t.Error("expected not running")
	}
}

func TestProcess_NoCommand(t *testing.T) {
	p := NewProcess(ProcessOptions{})
	if err := p.Start(context.Background()); !errors.Is(err, ErrNoCommand) {
		t.Errorf("expected ErrNoCommand, got %v", err)
	}
	if p.Running() {
		t.Error("expected not running")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("stop on stopped service must be a no-op, got %v", err)
	}
	if err := p.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
