package sysmon

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/voicebridge/bridged/internal/action"
	"github.com/voicebridge/bridged/internal/model"
)

// Snapshot is one point-in-time reading of host health. Zero-valued fields
// mean the underlying source was unreadable; a partial snapshot is still a
// snapshot.
type Snapshot struct {
	Hostname       string  `json:"hostname"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	Load1          float64 `json:"load_1m"`
	Load5          float64 `json:"load_5m"`
	Load15         float64 `json:"load_15m"`
	MemTotalKB     int64   `json:"mem_total_kb"`
	MemAvailableKB int64   `json:"mem_available_kb"`
	DiskTotalMB    int64   `json:"disk_total_mb"`
	DiskFreeMB     int64   `json:"disk_free_mb"`
	Goroutines     int     `json:"goroutines"`
	Timestamp      string  `json:"timestamp"`
}

// Monitor reads host metrics from procfs and statfs.
type Monitor struct {
	procRoot string
	diskPath string
}

func New() *Monitor {
	return &Monitor{procRoot: "/proc", diskPath: "/"}
}

func (m *Monitor) Read() Snapshot {
	snap := Snapshot{
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	snap.Hostname, _ = os.Hostname()

	if raw, err := os.ReadFile(m.procRoot + "/uptime"); err == nil {
		if fields := strings.Fields(string(raw)); len(fields) > 0 {
			if up, err := strconv.ParseFloat(fields[0], 64); err == nil {
				snap.UptimeSeconds = int64(up)
			}
		}
	}
	if raw, err := os.ReadFile(m.procRoot + "/loadavg"); err == nil {
		fields := strings.Fields(string(raw))
		if len(fields) >= 3 {
			snap.Load1, _ = strconv.ParseFloat(fields[0], 64)
			snap.Load5, _ = strconv.ParseFloat(fields[1], 64)
			snap.Load15, _ = strconv.ParseFloat(fields[2], 64)
		}
	}
	if raw, err := os.ReadFile(m.procRoot + "/meminfo"); err == nil {
		for _, line := range strings.Split(string(raw), "\n") {
			switch {
			case strings.HasPrefix(line, "MemTotal:"):
				snap.MemTotalKB = meminfoKB(line)
			case strings.HasPrefix(line, "MemAvailable:"):
				snap.MemAvailableKB = meminfoKB(line)
			}
		}
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(m.diskPath, &stat); err == nil {
		block := int64(stat.Bsize)
		snap.DiskTotalMB = int64(stat.Blocks) * block / (1 << 20)
		snap.DiskFreeMB = int64(stat.Bavail) * block / (1 << 20)
	}
	return snap
}

// Status is the system_status action handler.
func (m *Monitor) Status(ctx context.Context, _ action.Invocation) model.Result {
	snap := m.Read()
	return model.Success(fmt.Sprintf("%s up %s, load %.2f, mem %d/%d MB free",
		snap.Hostname,
		(time.Duration(snap.UptimeSeconds) * time.Second).String(),
		snap.Load1,
		snap.MemAvailableKB/1024, snap.MemTotalKB/1024)).
		With("system", snap)
}

func meminfoKB(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	n, _ := strconv.ParseInt(fields[1], 10, 64)
	return n
}
