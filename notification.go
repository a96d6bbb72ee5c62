package projfs

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var notificationNames = map[NotificationType]string{
	NotifyFileOpened:                     "FileOpened",
	NotifyNewFileCreated:                 "NewFileCreated",
	NotifyFileOverwritten:                "FileOverwritten",
	NotifyPreDelete:                      "PreDelete",
	NotifyPreRename:                      "PreRename",
	NotifyPreCreateHardlink:              "PreCreateHardlink",
	NotifyFileRenamed:                    "FileRenamed",
	NotifyHardlinkCreated:                "HardlinkCreated",
	NotifyFileHandleClosedNoModification: "FileHandleClosedNoModification",
	NotifyFileHandleClosedFileModified:   "FileHandleClosedFileModified",
	NotifyFileHandleClosedFileDeleted:    "FileHandleClosedFileDeleted",
	NotifyFilePreConvertToFull:           "FilePreConvertToFull",
}

// String returns the name of a single notification kind,
// and the hexadecimal bit set otherwise.
func (n NotificationType) String() string {
	if name, ok := notificationNames[n]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(n))
}

// vetoable tells whether the provider may deny the
// operation of the notification with ErrNotAllowed.
func vetoable(kind NotificationType) bool {
	switch kind {
	case NotifyFileOpened, NotifyPreDelete, NotifyPreRename,
		NotifyPreCreateHardlink, NotifyFilePreConvertToFull:
		return true
	}
	return false
}

// denialStatus is the status reported when the provider
// vetoes the operation of the notification.
func denialStatus(kind NotificationType) HResult {
	if kind == NotifyPreDelete {
		return CannotDelete
	}
	return AccessDenied
}

// NotificationHeader is the part shared by notifications.
type NotificationHeader struct {
	CommandID CommandID
	Kind      NotificationType
	Path      string
	Process   ProcessInfo
}

func (h *NotificationHeader) header() *NotificationHeader {
	return h
}

// Notification is one of the *Notification types in this
// package, telling the provider about an operation on a
// file under the virtualization root.
type Notification interface {
	header() *NotificationHeader
}

// FileOpenedNotification is sent after a file is opened,
// the provider may deny the opening.
type FileOpenedNotification struct {
	NotificationHeader
	IsDirectory bool
}

// NewFileCreatedNotification is sent after a new file is
// created.
type NewFileCreatedNotification struct {
	NotificationHeader
	IsDirectory bool
}

// FileOverwrittenNotification is sent after a file is
// superseded or overwritten.
type FileOverwrittenNotification struct {
	NotificationHeader
	IsDirectory bool
}

// PreDeleteNotification is sent before a file is deleted,
// the provider may deny the deletion.
type PreDeleteNotification struct {
	NotificationHeader
	IsDirectory bool
}

// PreRenameNotification is sent before a file is renamed,
// the provider may deny the renaming. DestinationPath is
// empty when the file is moved out of the root.
type PreRenameNotification struct {
	NotificationHeader
	DestinationPath string
}

// PreCreateHardlinkNotification is sent before a hard link
// is created, the provider may deny the creation.
type PreCreateHardlinkNotification struct {
	NotificationHeader
	DestinationPath string
}

// FileRenamedNotification is sent after a file is renamed.
type FileRenamedNotification struct {
	NotificationHeader
	DestinationPath string
	IsDirectory     bool
}

// HardlinkCreatedNotification is sent after a hard link is
// created.
type HardlinkCreatedNotification struct {
	NotificationHeader
	DestinationPath string
}

// FileHandleClosedNoModificationNotification is sent when
// a handle without modification is closed.
type FileHandleClosedNoModificationNotification struct {
	NotificationHeader
	IsDirectory bool
}

// FileHandleClosedFileModifiedOrDeletedNotification is
// sent when a handle is closed after the file has been
// modified or deleted through it.
type FileHandleClosedFileModifiedOrDeletedNotification struct {
	NotificationHeader
	IsDirectory    bool
	IsFileModified bool
	IsFileDeleted  bool
}

// FilePreConvertToFullNotification is sent before a
// placeholder is converted into a full file, the provider
// may deny the conversion.
type FilePreConvertToFullNotification struct {
	NotificationHeader
}

// decodeNotification decodes the notification of the kind,
// returning the status to report when it is not dispatched.
func decodeNotification(
	data *CallbackData, path string, isDirectory bool,
	kind NotificationType, destinationFileName []uint16,
	params *NotificationParameters,
) (Notification, HResult) {
	header := NotificationHeader{
		CommandID: data.CommandID,
		Kind:      kind,
		Path:      path,
		Process:   data.process(),
	}
	var destination string
	switch kind {
	case NotifyPreRename, NotifyPreCreateHardlink,
		NotifyFileRenamed, NotifyHardlinkCreated:
		var ok bool
		if destination, ok = decodeUTF16(destinationFileName); !ok {
			return nil, InvalidArg
		}
	}
	switch kind {
	case NotifyFileOpened:
		return &FileOpenedNotification{
			NotificationHeader: header,
			IsDirectory:        isDirectory,
		}, Ok
	case NotifyNewFileCreated:
		return &NewFileCreatedNotification{
			NotificationHeader: header,
			IsDirectory:        isDirectory,
		}, Ok
	case NotifyFileOverwritten:
		return &FileOverwrittenNotification{
			NotificationHeader: header,
			IsDirectory:        isDirectory,
		}, Ok
	case NotifyPreDelete:
		return &PreDeleteNotification{
			NotificationHeader: header,
			IsDirectory:        isDirectory,
		}, Ok
	case NotifyPreRename:
		return &PreRenameNotification{
			NotificationHeader: header,
			DestinationPath:    destination,
		}, Ok
	case NotifyPreCreateHardlink:
		return &PreCreateHardlinkNotification{
			NotificationHeader: header,
			DestinationPath:    destination,
		}, Ok
	case NotifyFileRenamed:
		return &FileRenamedNotification{
			NotificationHeader: header,
			DestinationPath:    destination,
			IsDirectory:        isDirectory,
		}, Ok
	case NotifyHardlinkCreated:
		return &HardlinkCreatedNotification{
			NotificationHeader: header,
			DestinationPath:    destination,
		}, Ok
	case NotifyFileHandleClosedNoModification:
		return &FileHandleClosedNoModificationNotification{
			NotificationHeader: header,
			IsDirectory:        isDirectory,
		}, Ok
	case NotifyFileHandleClosedFileModified:
		return &FileHandleClosedFileModifiedOrDeletedNotification{
			NotificationHeader: header,
			IsDirectory:        isDirectory,
			IsFileModified:     true,
		}, Ok
	case NotifyFileHandleClosedFileDeleted:
		return &FileHandleClosedFileModifiedOrDeletedNotification{
			NotificationHeader: header,
			IsDirectory:        isDirectory,
			IsFileModified:     params != nil && params.Data != 0,
			IsFileDeleted:      true,
		}, Ok
	case NotifyFilePreConvertToFull:
		return &FilePreConvertToFullNotification{
			NotificationHeader: header,
		}, Ok
	}
	return nil, Ok
}

// BehaviourNotifyFileOpened handles FileOpenedNotification.
//
// The returned mask replaces the notification mask of the
// file, and ErrNotAllowed denies the opening.
type BehaviourNotifyFileOpened interface {
	NotifyFileOpened(
		inst *VirtualizationInstance, n *FileOpenedNotification,
	) (NotificationType, error)
}

// BehaviourNotifyNewFileCreated handles
// NewFileCreatedNotification, the returned mask replaces
// the notification mask of the file.
type BehaviourNotifyNewFileCreated interface {
	NotifyNewFileCreated(
		inst *VirtualizationInstance, n *NewFileCreatedNotification,
	) (NotificationType, error)
}

// BehaviourNotifyFileOverwritten handles
// FileOverwrittenNotification, the returned mask replaces
// the notification mask of the file.
type BehaviourNotifyFileOverwritten interface {
	NotifyFileOverwritten(
		inst *VirtualizationInstance, n *FileOverwrittenNotification,
	) (NotificationType, error)
}

// BehaviourNotifyPreDelete handles PreDeleteNotification,
// ErrNotAllowed denies the deletion.
type BehaviourNotifyPreDelete interface {
	NotifyPreDelete(
		inst *VirtualizationInstance, n *PreDeleteNotification,
	) error
}

// BehaviourNotifyPreRename handles PreRenameNotification,
// ErrNotAllowed denies the renaming.
type BehaviourNotifyPreRename interface {
	NotifyPreRename(
		inst *VirtualizationInstance, n *PreRenameNotification,
	) error
}

// BehaviourNotifyPreCreateHardlink handles
// PreCreateHardlinkNotification, ErrNotAllowed denies the
// creation.
type BehaviourNotifyPreCreateHardlink interface {
	NotifyPreCreateHardlink(
		inst *VirtualizationInstance, n *PreCreateHardlinkNotification,
	) error
}

// BehaviourNotifyFileRenamed handles FileRenamedNotification,
// the returned mask replaces the notification mask of the
// file.
type BehaviourNotifyFileRenamed interface {
	NotifyFileRenamed(
		inst *VirtualizationInstance, n *FileRenamedNotification,
	) (NotificationType, error)
}

type BehaviourNotifyHardlinkCreated interface {
	NotifyHardlinkCreated(
		inst *VirtualizationInstance, n *HardlinkCreatedNotification,
	)
}

type BehaviourNotifyFileHandleClosedNoModification interface {
	NotifyFileHandleClosedNoModification(
		inst *VirtualizationInstance,
		n *FileHandleClosedNoModificationNotification,
	)
}

type BehaviourNotifyFileHandleClosedFileModifiedOrDeleted interface {
	NotifyFileHandleClosedFileModifiedOrDeleted(
		inst *VirtualizationInstance,
		n *FileHandleClosedFileModifiedOrDeletedNotification,
	)
}

// BehaviourNotifyFilePreConvertToFull handles
// FilePreConvertToFullNotification, ErrNotAllowed denies
// the conversion.
type BehaviourNotifyFilePreConvertToFull interface {
	NotifyFilePreConvertToFull(
		inst *VirtualizationInstance, n *FilePreConvertToFullNotification,
	) error
}

type notificationHandlers struct {
	fileOpened                    BehaviourNotifyFileOpened
	newFileCreated                BehaviourNotifyNewFileCreated
	fileOverwritten               BehaviourNotifyFileOverwritten
	preDelete                     BehaviourNotifyPreDelete
	preRename                     BehaviourNotifyPreRename
	preCreateHardlink             BehaviourNotifyPreCreateHardlink
	fileRenamed                   BehaviourNotifyFileRenamed
	hardlinkCreated               BehaviourNotifyHardlinkCreated
	handleClosedNoModified        BehaviourNotifyFileHandleClosedNoModification
	handleClosedModifiedOrDeleted BehaviourNotifyFileHandleClosedFileModifiedOrDeleted
	preConvertToFull              BehaviourNotifyFilePreConvertToFull
}

// load interprets the notification behaviours of the
// provider, telling whether any of them is implemented.
func (h *notificationHandlers) load(provider BehaviourBase) bool {
	found := false
	if inner, ok := provider.(BehaviourNotifyFileOpened); ok {
		h.fileOpened, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyNewFileCreated); ok {
		h.newFileCreated, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyFileOverwritten); ok {
		h.fileOverwritten, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyPreDelete); ok {
		h.preDelete, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyPreRename); ok {
		h.preRename, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyPreCreateHardlink); ok {
		h.preCreateHardlink, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyFileRenamed); ok {
		h.fileRenamed, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyHardlinkCreated); ok {
		h.hardlinkCreated, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyFileHandleClosedNoModification); ok {
		h.handleClosedNoModified, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyFileHandleClosedFileModifiedOrDeleted); ok {
		h.handleClosedModifiedOrDeleted, found = inner, true
	}
	if inner, ok := provider.(BehaviourNotifyFilePreConvertToFull); ok {
		h.preConvertToFull, found = inner, true
	}
	return found
}

// writeMask writes the mask returned by a handler into the
// output parameter, unless the handler has deferred it.
func writeMask(
	params *NotificationParameters, mask NotificationType, err error,
) error {
	if err == nil && params != nil {
		params.Data = uint32(mask)
	}
	return err
}

// handle runs the handler of the notification. A kind
// without handler is allowed, keeping the existing mask.
func (h *notificationHandlers) handle(
	inst *VirtualizationInstance, n Notification,
	params *NotificationParameters,
) error {
	keepMask := func() error {
		return writeMask(params, NotifyUseExistingMask, nil)
	}
	switch n := n.(type) {
	case *FileOpenedNotification:
		if h.fileOpened == nil {
			return keepMask()
		}
		mask, err := h.fileOpened.NotifyFileOpened(inst, n)
		return writeMask(params, mask, err)
	case *NewFileCreatedNotification:
		if h.newFileCreated == nil {
			return keepMask()
		}
		mask, err := h.newFileCreated.NotifyNewFileCreated(inst, n)
		return writeMask(params, mask, err)
	case *FileOverwrittenNotification:
		if h.fileOverwritten == nil {
			return keepMask()
		}
		mask, err := h.fileOverwritten.NotifyFileOverwritten(inst, n)
		return writeMask(params, mask, err)
	case *FileRenamedNotification:
		if h.fileRenamed == nil {
			return keepMask()
		}
		mask, err := h.fileRenamed.NotifyFileRenamed(inst, n)
		return writeMask(params, mask, err)
	case *PreDeleteNotification:
		if h.preDelete != nil {
			return h.preDelete.NotifyPreDelete(inst, n)
		}
	case *PreRenameNotification:
		if h.preRename != nil {
			return h.preRename.NotifyPreRename(inst, n)
		}
	case *PreCreateHardlinkNotification:
		if h.preCreateHardlink != nil {
			return h.preCreateHardlink.NotifyPreCreateHardlink(inst, n)
		}
	case *FilePreConvertToFullNotification:
		if h.preConvertToFull != nil {
			return h.preConvertToFull.NotifyFilePreConvertToFull(inst, n)
		}
	case *HardlinkCreatedNotification:
		if h.hardlinkCreated != nil {
			h.hardlinkCreated.NotifyHardlinkCreated(inst, n)
		}
	case *FileHandleClosedNoModificationNotification:
		if h.handleClosedNoModified != nil {
			h.handleClosedNoModified.NotifyFileHandleClosedNoModification(inst, n)
		}
	case *FileHandleClosedFileModifiedOrDeletedNotification:
		if h.handleClosedModifiedOrDeleted != nil {
			h.handleClosedModifiedOrDeleted.
				NotifyFileHandleClosedFileModifiedOrDeleted(inst, n)
		}
	default:
		return errors.Errorf("unknown notification %T", n)
	}
	return nil
}

func delegateNotification(
	data *CallbackData, isDirectory bool,
	kind NotificationType, destinationFileName []uint16,
	params *NotificationParameters,
) HResult {
	inst, path, status := resolve(data)
	if inst == nil {
		return status
	}
	n, status := decodeNotification(data, path, isDirectory,
		kind, destinationFileName, params)
	if n == nil {
		return status
	}
	return inst.dispatch("Notification", data.CommandID,
		commandNotification, kind, func() error {
			return inst.notificationResult(
				data.CommandID, kind,
				inst.ref.notify.handle(inst, n, params))
		})
}

// notificationResult converts the ErrNotAllowed answer of
// a notification. Only the vetoable kinds can deny, the
// others report InternalError.
func (inst *VirtualizationInstance) notificationResult(
	commandID CommandID, kind NotificationType, err error,
) error {
	if !errors.Is(err, ErrNotAllowed) {
		return err
	}
	if vetoable(kind) {
		return denialStatus(kind)
	}
	inst.logger.Error("notification cannot be denied",
		zap.Int32("command_id", int32(commandID)),
		zap.Stringer("notification", kind))
	return InternalError
}
