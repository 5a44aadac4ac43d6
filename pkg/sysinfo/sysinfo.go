// Package sysinfo reports metrics about the running bot process.
package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// Collector reads process metrics from procfs.
type Collector struct {
	fs procfs.FS
	// pid 0 means the current process.
	pid int
}

// NewCollector returns a collector for the current process, reading the
// default /proc mount.
func NewCollector() (*Collector, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}

	return &Collector{fs: fs}, nil
}

func (c *Collector) stat() (procfs.ProcStat, error) {
	var (
		proc procfs.Proc
		err  error
	)
	if c.pid == 0 {
		proc, err = c.fs.Self()
	} else {
		proc, err = c.fs.Proc(c.pid)
	}
	if err != nil {
		return procfs.ProcStat{}, fmt.Errorf("read process: %w", err)
	}

	stat, err := proc.Stat()
	if err != nil {
		return procfs.ProcStat{}, fmt.Errorf("read process stat: %w", err)
	}

	return stat, nil
}

// ResidentMemoryBytes returns the resident set size of the process.
func (c *Collector) ResidentMemoryBytes(context.Context) (uint64, error) {
	stat, err := c.stat()
	if err != nil {
		return 0, err
	}

	return uint64(stat.ResidentMemory()), nil
}

// StartTime returns when the process started.
func (c *Collector) StartTime(context.Context) (time.Time, error) {
	stat, err := c.stat()
	if err != nil {
		return time.Time{}, err
	}

	seconds, err := stat.StartTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read process start time: %w", err)
	}

	return time.Unix(int64(seconds), 0), nil
}

// OSDescription returns the kernel name and release, e.g. "Linux" and
// "6.1.0-13-amd64".
func (c *Collector) OSDescription(context.Context) (string, string, error) {
	return uname()
}
