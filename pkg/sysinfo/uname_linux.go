//go:build linux

package sysinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func uname() (string, string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", "", fmt.Errorf("uname: %w", err)
	}

	return unix.ByteSliceToString(u.Sysname[:]), unix.ByteSliceToString(u.Release[:]), nil
}
