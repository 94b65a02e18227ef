//go:build windows

package supervisor

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

// killProcess terminates a Windows process by PID. Windows has no graceful
// TERM/KILL distinction for console children, so both map to TerminateProcess.
func killProcess(pid int, _ syscall.Signal) error {
	if pid == 0 {
		return nil
	}
	if pid < 0 {
		pid = -pid // process-group addressing is a Unix concept
	}
	handle, err := openProcess(processTerminate, uint32(pid))
	if err != nil {
		// the process is most likely already gone
		return nil
	}
	defer closeHandle(handle)
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func openProcess(access uint32, pid uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(pid))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(handle))
}
