package projfs

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// providerRef is the provider's behaviours, and the table
// of callbacks presented to the file system for them.
type providerRef struct {
	callbacks     *Callbacks
	base          BehaviourBase
	enumerate     BehaviourDirectoryEnumerationRaw
	queryFileName BehaviourQueryFileName
	cancelCommand BehaviourCancelCommand
	notify        notificationHandlers
}

func newProviderRef(
	provider BehaviourBase, option *option,
) (*providerRef, error) {
	callbacks := &Callbacks{}
	ref := &providerRef{
		callbacks: callbacks,
		base:      provider,
	}
	callbacks.GetPlaceholderInfo = delegateGetPlaceholderInfo
	callbacks.GetFileData = delegateGetFileData
	if inner, ok := provider.(BehaviourDirectoryEnumerationRaw); ok {
		ref.enumerate = inner
	} else if inner, ok := provider.(BehaviourListDirectory); ok {
		ref.enumerate = &behaviourListDirectoryDelegate{
			listDir: inner,
			matcher: option.matcher,
		}
	} else {
		return nil, errors.New(
			"provider implements no directory enumeration behaviour")
	}
	callbacks.StartDirectoryEnumeration = delegateStartDirectoryEnumeration
	callbacks.GetDirectoryEnumeration = delegateGetDirectoryEnumeration
	callbacks.EndDirectoryEnumeration = delegateEndDirectoryEnumeration
	if inner, ok := provider.(BehaviourQueryFileName); ok {
		ref.queryFileName = inner
		callbacks.QueryFileName = delegateQueryFileName
	}
	if inner, ok := provider.(BehaviourCancelCommand); ok {
		ref.cancelCommand = inner
		callbacks.CancelCommand = delegateCancelCommand
	}
	if ref.notify.load(provider) {
		callbacks.Notification = delegateNotification
	}
	return ref, nil
}

func (ref *providerRef) close() {
	if d, ok := ref.enumerate.(*behaviourListDirectoryDelegate); ok {
		d.reset()
	}
}

// resolve finds the instance and decodes the path of the
// callback, returning the status to fail with otherwise.
func resolve(data *CallbackData) (*VirtualizationInstance, string, HResult) {
	inst := loadInstance(data.InstanceToken)
	if inst == nil {
		return nil, "", hresultNoRef
	}
	path, ok := decodeUTF16(data.FilePathName)
	if !ok {
		inst.logger.Warn("undecodable callback path",
			zap.Int32("command_id", int32(data.CommandID)))
		return nil, "", InvalidArg
	}
	return inst, path, Ok
}

// BehaviourBase defines the mandatory methods, besides
// which the provider must implement either of the
// BehaviourDirectoryEnumerationRaw or BehaviourListDirectory.
//
// Other methods might be implemented and will be checked
// upon starting the instance.
//
// Every method may return Pending, in which case the
// command must be completed later by CompleteCommand.
type BehaviourBase interface {
	// GetPlaceholderInfo is called when the file system
	// needs the metadata of a path that is not on disk yet,
	// the provider should call WritePlaceholderInfo before
	// returning, or return FileNotFound.
	GetPlaceholderInfo(
		inst *VirtualizationInstance, commandID CommandID,
		path string, process ProcessInfo,
	) error

	// GetFileData is called when the file system needs the
	// content of a placeholder, the provider should call
	// WriteFileData with the requested range.
	GetFileData(
		inst *VirtualizationInstance, commandID CommandID,
		request *FileDataRequest,
	) error
}

// FileDataRequest is the request of the file content.
type FileDataRequest struct {
	Path         string
	ByteOffset   uint64
	Length       uint32
	DataStreamID uuid.UUID
	ContentID    []byte
	ProviderID   []byte
	Process      ProcessInfo
}

func delegateGetPlaceholderInfo(data *CallbackData) HResult {
	inst, path, status := resolve(data)
	if inst == nil {
		return status
	}
	return inst.dispatch("GetPlaceholderInfo", data.CommandID,
		commandGeneric, NotifyNone, func() error {
			return inst.ref.base.GetPlaceholderInfo(
				inst, data.CommandID, path, data.process())
		})
}

func delegateGetFileData(
	data *CallbackData, byteOffset uint64, length uint32,
) HResult {
	inst, path, status := resolve(data)
	if inst == nil {
		return status
	}
	request := &FileDataRequest{
		Path:         path,
		ByteOffset:   byteOffset,
		Length:       length,
		DataStreamID: data.DataStreamID,
		Process:      data.process(),
	}
	if data.VersionInfo != nil {
		request.ContentID = append([]byte(nil),
			data.VersionInfo.ContentID[:]...)
		request.ProviderID = append([]byte(nil),
			data.VersionInfo.ProviderID[:]...)
	}
	return inst.dispatch("GetFileData", data.CommandID,
		commandGeneric, NotifyNone, func() error {
			return inst.ref.base.GetFileData(
				inst, data.CommandID, request)
		})
}

// BehaviourQueryFileName tells whether a path exists in
// the provider's store, returning FileNotFound otherwise.
type BehaviourQueryFileName interface {
	QueryFileName(
		inst *VirtualizationInstance, commandID CommandID,
		path string, process ProcessInfo,
	) error
}

func delegateQueryFileName(data *CallbackData) HResult {
	inst, path, status := resolve(data)
	if inst == nil {
		return status
	}
	return inst.dispatch("QueryFileName", data.CommandID,
		commandGeneric, NotifyNone, func() error {
			return inst.ref.queryFileName.QueryFileName(
				inst, data.CommandID, path, data.process())
		})
}

// BehaviourCancelCommand is informed that the result of a
// pending command is no longer wanted. The provider decides
// whether to complete it anyway.
type BehaviourCancelCommand interface {
	CancelCommand(inst *VirtualizationInstance, commandID CommandID)
}

func delegateCancelCommand(data *CallbackData) {
	inst := loadInstance(data.InstanceToken)
	if inst == nil {
		return
	}
	inst.ref.cancelCommand.CancelCommand(inst, data.CommandID)
}
