package projfs

import (
	"github.com/google/uuid"
)

// Callbacks is the dispatch table presented to the file
// system. A nil slot is not presented at all, so that the
// file system falls back to its own default behaviour.
//
// The slots are filled with the package level dispatchers,
// which find the instance by the token in CallbackData.
type Callbacks struct {
	StartDirectoryEnumeration func(
		data *CallbackData, enumerationID uuid.UUID,
	) HResult
	EndDirectoryEnumeration func(
		data *CallbackData, enumerationID uuid.UUID,
	) HResult
	GetDirectoryEnumeration func(
		data *CallbackData, enumerationID uuid.UUID,
		searchExpression []uint16, handle DirEntryBufferHandle,
	) HResult
	GetPlaceholderInfo func(data *CallbackData) HResult
	GetFileData        func(
		data *CallbackData, byteOffset uint64, length uint32,
	) HResult
	QueryFileName func(data *CallbackData) HResult
	Notification  func(
		data *CallbackData, isDirectory bool,
		notification NotificationType,
		destinationFileName []uint16,
		params *NotificationParameters,
	) HResult
	CancelCommand func(data *CallbackData)
}

// StartOptions are the options to start virtualizing.
type StartOptions struct {
	Flags                 StartFlags
	PoolThreadCount       uint32
	ConcurrentThreadCount uint32
	NotificationMappings  []NotificationMapping
}

// InstanceInfo is the information of a running instance.
type InstanceInfo struct {
	InstanceID     uuid.UUID
	WriteAlignment uint32
}

// CompletionKind discriminates the extended parameters of
// a command completion.
type CompletionKind uint32

const (
	CompletionStatus       = CompletionKind(0)
	CompletionNotification = CompletionKind(1)
	CompletionEnumeration  = CompletionKind(2)
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionStatus:
		return "status"
	case CompletionNotification:
		return "notification"
	case CompletionEnumeration:
		return "enumeration"
	}
	return "unknown"
}

// CompletionParameters are the extended parameters of a
// completion, Kind tells which of the fields is valid.
type CompletionParameters struct {
	Kind                 CompletionKind
	NotificationMask     NotificationType
	DirEntryBufferHandle DirEntryBufferHandle
}

// Driver is the boundary to the projected file system.
//
// On windows, NewDriver returns the implementation backed
// by ProjectedFSLib.dll. Paths other than the root path are
// relative to the virtualization root.
type Driver interface {
	// MarkDirectoryAsPlaceholder marks the target directory
	// as a placeholder, or marks the root path as a new
	// virtualization root when target path is empty.
	MarkDirectoryAsPlaceholder(
		rootPath, targetPath string,
		versionInfo *PlaceholderVersionInfo,
		instanceID uuid.UUID,
	) error

	// StartVirtualizing presents the callbacks to the file
	// system. The token is carried back in every callback.
	StartVirtualizing(
		rootPath string, callbacks *Callbacks,
		token InstanceToken, options *StartOptions,
	) (VirtualizationContext, error)

	StopVirtualizing(ctx VirtualizationContext)

	GetVirtualizationInstanceInfo(
		ctx VirtualizationContext,
	) (*InstanceInfo, error)

	// CompleteCommand completes a command which has been
	// returned Pending, params is nil for bare completion.
	CompleteCommand(
		ctx VirtualizationContext, commandID CommandID,
		result HResult, params *CompletionParameters,
	) error

	// FillDirEntryBuffer appends an entry to the result of
	// get directory enumeration, the InsufficientBuffer is
	// returned when the buffer is full.
	FillDirEntryBuffer(
		handle DirEntryBufferHandle,
		fileName string, info *FileBasicInfo,
	) error

	WritePlaceholderInfo(
		ctx VirtualizationContext,
		relativePath string, info *PlaceholderInfo,
	) error

	UpdateFileIfNeeded(
		ctx VirtualizationContext, relativePath string,
		info *PlaceholderInfo, flags UpdateType,
	) (UpdateFailureCause, error)

	DeleteFile(
		ctx VirtualizationContext,
		relativePath string, flags UpdateType,
	) (UpdateFailureCause, error)

	// WriteFileData writes the data into the stream, the
	// driver is responsible for aligning the buffer.
	WriteFileData(
		ctx VirtualizationContext, dataStreamID uuid.UUID,
		data []byte, byteOffset uint64,
	) error

	ClearNegativePathCache(
		ctx VirtualizationContext,
	) (uint32, error)

	GetOnDiskFileState(path string) (FileState, error)
}
