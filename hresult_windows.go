package projfs

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func init() {
	// System errors conversion map, the application errors
	// are invented values on windows and do not collide.
	for errno, status := range map[syscall.Errno]HResult{
		windows.ERROR_FILE_NOT_FOUND:      FileNotFound,
		windows.ERROR_PATH_NOT_FOUND:      PathNotFound,
		windows.ERROR_ACCESS_DENIED:       AccessDenied,
		windows.ERROR_INVALID_HANDLE:      Handle,
		windows.ERROR_NOT_ENOUGH_MEMORY:   OutOfMemory,
		windows.ERROR_OUTOFMEMORY:         OutOfMemory,
		windows.ERROR_INVALID_PARAMETER:   InvalidArg,
		windows.ERROR_INSUFFICIENT_BUFFER: InsufficientBuffer,
		windows.ERROR_DIR_NOT_EMPTY:       DirNotEmpty,
		windows.ERROR_DIRECTORY:           Directory,
		windows.ERROR_IO_PENDING:          Pending,
	} {
		syscallHResultMap[errno] = status
	}
}
