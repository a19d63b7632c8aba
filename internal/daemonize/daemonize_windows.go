//go:build windows

package daemonize

import "syscall"

func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
