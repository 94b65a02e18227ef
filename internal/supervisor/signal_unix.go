//go:build !windows

package supervisor

import "syscall"

// killProcess delivers sig to a process, or to its whole group when pid is
// negative.
func killProcess(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
