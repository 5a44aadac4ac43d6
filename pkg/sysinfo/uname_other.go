//go:build !linux

package sysinfo

import (
	"runtime"
)

func uname() (string, string, error) {
	return runtime.GOOS, "unknown", nil
}
