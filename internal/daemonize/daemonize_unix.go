//go:build !windows

package daemonize

import "syscall"

// detachAttr puts the re-exec'd child in its own session so it survives
// the parent's exit.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
