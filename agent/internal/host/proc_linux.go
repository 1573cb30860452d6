package host

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// USER_HZ; fixed at 100 on every Linux ABI the agent ships for.
const clockTicks = 100

func processUsage(pid int) (time.Duration, uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, 0, err
	}
	ticks, rssPages, err := parseProcStat(string(data))
	if err != nil {
		return 0, 0, err
	}
	cpu := time.Duration(ticks) * time.Second / clockTicks
	return cpu, rssPages * uint64(unix.Getpagesize()), nil
}

// parseProcStat returns utime+stime in clock ticks and the resident set
// size in pages.
func parseProcStat(stat string) (uint64, uint64, error) {
	// comm may contain spaces and parentheses; fields resume after the last ')'.
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, 0, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(stat[end+1:])
	// fields[0] is field 3 (state) of proc(5).
	const utime, stime, rss = 14 - 3, 15 - 3, 24 - 3
	if len(fields) <= rss {
		return 0, 0, fmt.Errorf("short stat line: %d fields", len(fields))
	}
	u, err := strconv.ParseUint(fields[utime], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("utime: %w", err)
	}
	s, err := strconv.ParseUint(fields[stime], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("stime: %w", err)
	}
	r, err := strconv.ParseUint(fields[rss], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("rss: %w", err)
	}
	return u + s, r, nil
}
