//go:build !linux

package host

import (
	"errors"
	"time"
)

func processUsage(pid int) (time.Duration, uint64, error) {
	return 0, 0, errors.New("process stats are only collected on linux")
}
