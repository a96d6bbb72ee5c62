package projfs

import (
	"fmt"
	"io/fs"
	"syscall"

	"github.com/pkg/errors"
)

// HResult is the status reported to the file system.
//
// It implements error so that a provider may return one of
// the values directly, most notably Pending, to tell the
// status it expects to be reported.
type HResult uint32

const (
	Ok                        = HResult(0x00000000)
	Pending                   = HResult(0x800703E5)
	OutOfMemory               = HResult(0x8007000E)
	InsufficientBuffer        = HResult(0x8007007A)
	FileNotFound              = HResult(0x80070002)
	VirtualizationUnavailable = HResult(0x80070171)
	InternalError             = HResult(0x8007054F)
	AlreadyInitialized        = HResult(0x800704DF)
	AccessDenied              = HResult(0x80070005)
	CannotDelete              = HResult(0xD0000121)
	Directory                 = HResult(0x8007010B)
	DirNotEmpty               = HResult(0x80070091)
	Handle                    = HResult(0x80070006)
	InvalidArg                = HResult(0x80070057)
	PathNotFound              = HResult(0x80070003)
	ReparsePointEncountered   = HResult(0x8007112B)
	VirtualizationInvalidOp   = HResult(0x80070181)
)

var hresultNames = map[HResult]string{
	Ok:                        "Ok",
	Pending:                   "Pending",
	OutOfMemory:               "OutOfMemory",
	InsufficientBuffer:        "InsufficientBuffer",
	FileNotFound:              "FileNotFound",
	VirtualizationUnavailable: "VirtualizationUnavailable",
	InternalError:             "InternalError",
	AlreadyInitialized:        "AlreadyInitialized",
	AccessDenied:              "AccessDenied",
	CannotDelete:              "CannotDelete",
	Directory:                 "Directory",
	DirNotEmpty:               "DirNotEmpty",
	Handle:                    "Handle",
	InvalidArg:                "InvalidArg",
	PathNotFound:              "PathNotFound",
	ReparsePointEncountered:   "ReparsePointEncountered",
	VirtualizationInvalidOp:   "VirtualizationInvalidOp",
}

// String returns the symbolic name of well known values,
// and the hexadecimal representation otherwise.
func (h HResult) String() string {
	if name, ok := hresultNames[h]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(h))
}

func (h HResult) Error() string {
	return fmt.Sprintf("hresult %s (0x%08X)", h.String(), uint32(h))
}

// Failed tells whether the value is an error code.
func (h HResult) Failed() bool {
	return int32(h) < 0
}

// hresultNoRef is returned when the instance token carried
// by a callback is not registered.
const hresultNoRef = InternalError

var (
	// ErrNotStarted is returned by instance operations that
	// require a started virtualization instance.
	ErrNotStarted = errors.New("virtualization instance not started")

	// ErrNotAllowed is returned by a notification handler
	// to veto the operation being notified, it is reported
	// with the denial status of the notification kind.
	ErrNotAllowed = errors.New("operation not allowed")

	// ErrCommandNotPending is returned when completing a
	// command that is unknown or did not return Pending.
	ErrCommandNotPending = errors.New("command is not pending")

	// ErrCommandAlreadyCompleted is returned when a command
	// is completed more than once.
	ErrCommandAlreadyCompleted = errors.New("command already completed")

	// ErrCompletionKindMismatch is returned when completing
	// a command with extended parameters of another kind.
	ErrCompletionKindMismatch = errors.New("completion kind mismatch")
)

var syscallHResultMap = map[syscall.Errno]HResult{
	syscall.Errno(0): Ok,

	syscall.ENOENT:    FileNotFound,
	syscall.EPERM:     AccessDenied,
	syscall.EACCES:    AccessDenied,
	syscall.ENOTDIR:   PathNotFound,
	syscall.EISDIR:    Directory,
	syscall.EINVAL:    InvalidArg,
	syscall.ENOTEMPTY: DirNotEmpty,
	syscall.ENOMEM:    OutOfMemory,
	syscall.EBADF:     Handle,
}

func convertHResult(err error) HResult {
	if err == nil {
		return Ok
	}
	var status HResult
	if errors.As(err, &status) {
		return status
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if status, ok := syscallHResultMap[errno]; ok {
			return status
		}
	}
	if errors.Is(err, ErrNotAllowed) {
		return AccessDenied
	}
	if errors.Is(err, ErrNotStarted) {
		return VirtualizationInvalidOp
	}
	if errors.Is(err, fs.ErrNotExist) {
		return FileNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return AccessDenied
	}
	if errors.Is(err, fs.ErrInvalid) {
		return InvalidArg
	}
	return InternalError
}
