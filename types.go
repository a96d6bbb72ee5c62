package projfs

import (
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/aegistudio/go-projfs/enumeration"
)

// CommandID identifies an invocation from the file system,
// it is the correlation key of a pending completion.
type CommandID int32

// InstanceToken is the opaque process local value handed
// to the file system at start, and carried back on every
// callback to find the virtualization instance.
type InstanceToken uintptr

// VirtualizationContext is the file system's handle to a
// running virtualization instance.
type VirtualizationContext uintptr

// DirEntryBufferHandle is the opaque handle to the output
// buffer of a get directory enumeration callback.
type DirEntryBufferHandle uintptr

// CallbackFlags are the flags carried by a callback.
type CallbackFlags uint32

const (
	CallbackRestartScan       = CallbackFlags(0x1)
	CallbackReturnSingleEntry = CallbackFlags(0x2)
)

// NotificationType is both the kind of a notification and
// the bit set of kinds a provider wishes to receive.
type NotificationType uint32

const (
	NotifyNone                           = NotificationType(0x00000000)
	NotifySuppressNotifications          = NotificationType(0x00000001)
	NotifyFileOpened                     = NotificationType(0x00000002)
	NotifyNewFileCreated                 = NotificationType(0x00000004)
	NotifyFileOverwritten                = NotificationType(0x00000008)
	NotifyPreDelete                      = NotificationType(0x00000010)
	NotifyPreRename                      = NotificationType(0x00000020)
	NotifyPreCreateHardlink              = NotificationType(0x00000040)
	NotifyFileRenamed                    = NotificationType(0x00000080)
	NotifyHardlinkCreated                = NotificationType(0x00000100)
	NotifyFileHandleClosedNoModification = NotificationType(0x00000200)
	NotifyFileHandleClosedFileModified   = NotificationType(0x00000400)
	NotifyFileHandleClosedFileDeleted    = NotificationType(0x00000800)
	NotifyFilePreConvertToFull           = NotificationType(0x00001000)
	NotifyUseExistingMask                = NotificationType(0xFFFFFFFF)
)

// UpdateType controls which on disk states an update or a
// deletion of placeholder is allowed to discard.
type UpdateType uint32

const (
	UpdateAllowDirtyMetadata = UpdateType(0x01)
	UpdateAllowDirtyData     = UpdateType(0x02)
	UpdateAllowTombstone     = UpdateType(0x04)
	UpdateAllowReadOnly      = UpdateType(0x20)
)

// UpdateFailureCause tells why an update or a deletion
// of placeholder has been refused.
type UpdateFailureCause uint32

const (
	UpdateFailureNone          = UpdateFailureCause(0x00)
	UpdateFailureDirtyMetadata = UpdateFailureCause(0x01)
	UpdateFailureDirtyData     = UpdateFailureCause(0x02)
	UpdateFailureTombstone     = UpdateFailureCause(0x04)
	UpdateFailureReadOnly      = UpdateFailureCause(0x08)
)

// FileState is the on disk state of a file under a
// virtualization root.
type FileState uint32

const (
	FileStatePlaceholder         = FileState(0x01)
	FileStateHydratedPlaceholder = FileState(0x02)
	FileStateDirtyPlaceholder    = FileState(0x04)
	FileStateFull                = FileState(0x08)
	FileStateTombstone           = FileState(0x10)
)

// StartFlags are the flags to start virtualizing.
type StartFlags uint32

const (
	StartUseNegativePathCache = StartFlags(0x1)
)

// PlaceholderIDLength is the length of content id and
// provider id attached to placeholders.
const PlaceholderIDLength = 128

// PlaceholderVersionInfo is the pair of opaque ids the
// provider attaches to a placeholder. The layout is the
// same as the native one.
type PlaceholderVersionInfo struct {
	ProviderID [PlaceholderIDLength]byte
	ContentID  [PlaceholderIDLength]byte
}

// newVersionInfo copies the ids into the fixed length
// arrays, zero padding the shorter ones.
func newVersionInfo(contentID, providerID []byte) (*PlaceholderVersionInfo, error) {
	if len(contentID) > PlaceholderIDLength {
		return nil, errors.Wrapf(InvalidArg,
			"content id length %d exceeds %d",
			len(contentID), PlaceholderIDLength)
	}
	if len(providerID) > PlaceholderIDLength {
		return nil, errors.Wrapf(InvalidArg,
			"provider id length %d exceeds %d",
			len(providerID), PlaceholderIDLength)
	}
	result := &PlaceholderVersionInfo{}
	copy(result.ContentID[:], contentID)
	copy(result.ProviderID[:], providerID)
	return result, nil
}

// FileBasicInfo is the metadata record of a placeholder or
// a directory entry. Zero timestamps are left for the file
// system to decide.
type FileBasicInfo struct {
	IsDirectory    bool
	FileSize       int64
	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time
	ChangeTime     time.Time
	FileAttributes uint32
}

// PlaceholderInfo is the record written to the file system
// to create or update a placeholder.
type PlaceholderInfo struct {
	FileBasicInfo
	VersionInfo PlaceholderVersionInfo

	// SymlinkTarget makes the placeholder a symbolic link
	// when it is not empty.
	SymlinkTarget string
}

// DirectoryEntry is an entry listed by a provider.
type DirectoryEntry = enumeration.Entry

func basicInfoOf(entry DirectoryEntry) *FileBasicInfo {
	return &FileBasicInfo{
		IsDirectory:    entry.IsDirectory,
		FileSize:       entry.Size,
		CreationTime:   entry.CreationTime,
		LastAccessTime: entry.LastAccessTime,
		LastWriteTime:  entry.LastWriteTime,
		ChangeTime:     entry.ChangeTime,
		FileAttributes: entry.FileAttributes,
	}
}

// ProcessInfo identifies the process triggering a callback.
type ProcessInfo struct {
	ID            uint32
	ImageFileName string
}

// NotificationMapping tells which notifications to receive
// for the subtree rooted at Root, which is relative to the
// virtualization root. The empty Root designates the
// virtualization root itself.
type NotificationMapping struct {
	Mask NotificationType
	Root string
}

// Validate checks the root of the mapping is relative to
// the virtualization root without a leading dot.
func (m NotificationMapping) Validate() error {
	if m.Root == "." || strings.HasPrefix(m.Root, `.\`) {
		return errors.Wrapf(InvalidArg,
			"notification root %q must be specified "+
				"relative to the virtualization root", m.Root)
	}
	return nil
}

// NewNotificationMapping creates a validated mapping.
func NewNotificationMapping(
	mask NotificationType, root string,
) (NotificationMapping, error) {
	result := NotificationMapping{Mask: mask, Root: root}
	if err := result.Validate(); err != nil {
		return NotificationMapping{}, err
	}
	return result, nil
}

// NotificationParameters is the in-out parameter of a
// notification callback. The layout is the same as the
// native union: the notification mask of post-create and
// renamed, or the modified flag of deleted on close.
type NotificationParameters struct {
	Data uint32
}

// CallbackData is a callback invocation as decoded by the
// OS boundary. Strings are left in their UTF-16 form, and
// nil stands for an absent string.
type CallbackData struct {
	CommandID                      CommandID
	InstanceToken                  InstanceToken
	Flags                          CallbackFlags
	FileID                         uuid.UUID
	DataStreamID                   uuid.UUID
	FilePathName                   []uint16
	VersionInfo                    *PlaceholderVersionInfo
	TriggeringProcessID            uint32
	TriggeringProcessImageFileName []uint16
}

func (data *CallbackData) process() ProcessInfo {
	return ProcessInfo{
		ID: data.TriggeringProcessID,
		ImageFileName: string(utf16.Decode(
			data.TriggeringProcessImageFileName)),
	}
}

// decodeUTF16 decodes the boundary string, rejecting the
// absent string and the ones with unpaired surrogates,
// which cannot be represented faithfully.
func decodeUTF16(s []uint16) (string, bool) {
	if s == nil {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] >= 0xD800 && s[i] < 0xDC00:
			if i+1 >= len(s) || s[i+1] < 0xDC00 || s[i+1] >= 0xE000 {
				return "", false
			}
			i++
		case s[i] >= 0xDC00 && s[i] < 0xE000:
			return "", false
		}
	}
	return string(utf16.Decode(s)), true
}

// EncodeUTF16 is the inverse of the decoding of boundary
// strings, provided for drivers and test doubles. The
// result is never nil, even for the empty string.
func EncodeUTF16(s string) []uint16 {
	return utf16.Encode([]rune(s))
}
