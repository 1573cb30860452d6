package host

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestProcess_StartPauseStop(t *testing.T) {
	p := NewProcess(ProcessOptions{Command: "sleep 30", StopTimeout: time.Second})
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Running() || p.Pid() == 0 {
		t.Fatal("expected running service with a pid")
	}
	if err := p.Start(ctx); err != nil {
		t.Errorf("second start must be a no-op, got %v", err)
	}

	if err := p.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := p.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := p.Pause(); err != nil {
		t.Fatalf("pause again: %v", err)
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.Running() {
		t.Error("expected stopped service")
	}
	if err := p.Stop(ctx); err != nil {
		t.Errorf("second stop must be a no-op, got %v", err)
	}
}

func TestSampler_ProcessSelf(t *testing.T) {
	s := NewSampler()
	u := s.Process(os.Getpid())
	if u.MemoryMB <= 0 {
		t.Errorf("expected resident memory for own pid, got %+v", u)
	}
}

func TestParseProcStat(t *testing.T) {
	line := "1234 (my (odd) name) S 1 1234 1234 0 -1 4194560 100 0 0 0 250 50 0 0 20 0 1 0 100 10000000 512 18446744073709551615"
	ticks, rss, err := parseProcStat(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticks != 300 {
		t.Errorf("expected 300 ticks, got %d", ticks)
	}
	if rss != 512 {
		t.Errorf("expected 512 pages, got %d", rss)
	}

	if _, _, err := parseProcStat("garbage"); err == nil {
		t.Error("expected error for malformed line")
	}
}
