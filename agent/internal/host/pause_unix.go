//go:build unix

package host

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func pauseProcess(pid int) error {
	if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("stop pid %d: %w", pid, err)
	}
	return nil
}

func resumeProcess(pid int) error {
	if err := unix.Kill(pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("continue pid %d: %w", pid, err)
	}
	return nil
}
