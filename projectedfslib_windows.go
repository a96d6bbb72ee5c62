//go:build windows && (amd64 || arm64)

package projfs

import (
	"golang.org/x/sys/windows"
)

const (
	SIZEOF_WCHAR = 2
)

type PRJ_CALLBACK_DATA struct {
	Size                           uint32
	Flags                          uint32
	NamespaceVirtualizationContext uintptr
	CommandId                      int32
	FileId                         windows.GUID
	DataStreamId                   windows.GUID
	FilePathName                   *uint16
	VersionInfo                    *PlaceholderVersionInfo
	TriggeringProcessId            uint32
	TriggeringProcessImageFileName *uint16
	InstanceContext                uintptr
}

type PRJ_CALLBACKS struct {
	StartDirectoryEnumerationCallback uintptr
	EndDirectoryEnumerationCallback   uintptr
	GetDirectoryEnumerationCallback   uintptr
	GetPlaceholderInfoCallback        uintptr
	GetFileDataCallback               uintptr
	QueryFileNameCallback             uintptr
	NotificationCallback              uintptr
	CancelCommandCallback             uintptr
}

type PRJ_FILE_BASIC_INFO struct {
	IsDirectory    uint8
	FileSize       int64
	CreationTime   int64
	LastAccessTime int64
	LastWriteTime  int64
	ChangeTime     int64
	FileAttributes uint32
}

type PRJ_PLACEHOLDER_INFO struct {
	FileBasicInfo              PRJ_FILE_BASIC_INFO
	EaBufferSize               uint32
	OffsetToFirstEa            uint32
	SecurityBufferSize         uint32
	OffsetToSecurityDescriptor uint32
	StreamsInfoBufferSize      uint32
	OffsetToFirstStreamInfo    uint32
	VersionInfo                PlaceholderVersionInfo
	VariableData               [1]uint8
}

type PRJ_NOTIFICATION_MAPPING struct {
	NotificationBitMask uint32
	NotificationRoot    *uint16
}

type PRJ_STARTVIRTUALIZING_OPTIONS struct {
	Flags                     uint32
	PoolThreadCount           uint32
	ConcurrentThreadCount     uint32
	NotificationMappings      *PRJ_NOTIFICATION_MAPPING
	NotificationMappingsCount uint32
}

type PRJ_VIRTUALIZATION_INSTANCE_INFO struct {
	InstanceID     windows.GUID
	WriteAlignment uint32
}

// PRJ_COMPLETE_COMMAND_EXTENDED_PARAMETERS holds either the
// notification mask or the directory entry buffer handle in
// Data, according to CommandType.
type PRJ_COMPLETE_COMMAND_EXTENDED_PARAMETERS struct {
	CommandType uint32
	Data        uintptr
}

const PRJ_EXT_INFO_TYPE_SYMLINK = 1

type PRJ_EXTENDED_INFO struct {
	InfoType          uint32
	NextInfoOffset    uint32
	SymlinkTargetName *uint16
}
