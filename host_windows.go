//go:build windows && (amd64 || arm64)

package projfs

import (
	"encoding/binary"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/aegistudio/go-projfs/filetime"
	"github.com/aegistudio/go-projfs/namematch"
)

// loadCallbacks resolves the callbacks of the instance the
// callback data is destined to, through the instance
// registry.
func loadCallbacks(callbackData uintptr) (*Callbacks, *PRJ_CALLBACK_DATA) {
	native := (*PRJ_CALLBACK_DATA)(unsafe.Pointer(callbackData))
	inst := loadInstance(InstanceToken(native.InstanceContext))
	if inst == nil || inst.ref == nil {
		return nil, native
	}
	return inst.ref.callbacks, native
}

func uuidFromGUID(guid *windows.GUID) uuid.UUID {
	var result uuid.UUID
	if guid == nil {
		return result
	}
	binary.BigEndian.PutUint32(result[0:4], guid.Data1)
	binary.BigEndian.PutUint16(result[4:6], guid.Data2)
	binary.BigEndian.PutUint16(result[6:8], guid.Data3)
	copy(result[8:], guid.Data4[:])
	return result
}

func guidFromUUID(id uuid.UUID) windows.GUID {
	var result windows.GUID
	result.Data1 = binary.BigEndian.Uint32(id[0:4])
	result.Data2 = binary.BigEndian.Uint16(id[4:6])
	result.Data3 = binary.BigEndian.Uint16(id[6:8])
	copy(result.Data4[:], id[8:])
	return result
}

// utf16PtrToSlice copies the NUL terminated string, the
// nil pointer is mapped to the nil slice.
func utf16PtrToSlice(ptr *uint16) []uint16 {
	if ptr == nil {
		return nil
	}
	length := 0
	for p := unsafe.Pointer(ptr); *(*uint16)(p) != 0; length++ {
		p = unsafe.Add(p, SIZEOF_WCHAR)
	}
	result := make([]uint16, length)
	copy(result, unsafe.Slice(ptr, length))
	return result
}

func callbackDataOf(native *PRJ_CALLBACK_DATA) *CallbackData {
	data := &CallbackData{
		CommandID:           CommandID(native.CommandId),
		InstanceToken:       InstanceToken(native.InstanceContext),
		Flags:               CallbackFlags(native.Flags),
		FileID:              uuidFromGUID(&native.FileId),
		DataStreamID:        uuidFromGUID(&native.DataStreamId),
		FilePathName:        utf16PtrToSlice(native.FilePathName),
		TriggeringProcessID: native.TriggeringProcessId,
		TriggeringProcessImageFileName: utf16PtrToSlice(
			native.TriggeringProcessImageFileName),
	}
	if native.VersionInfo != nil {
		versionInfo := *native.VersionInfo
		data.VersionInfo = &versionInfo
	}
	return data
}

var go_delegateStartDirectoryEnumeration = syscall.NewCallback(func(
	callbackData, enumerationID uintptr,
) uintptr {
	callbacks, native := loadCallbacks(callbackData)
	if callbacks == nil {
		return uintptr(hresultNoRef)
	}
	return uintptr(callbacks.StartDirectoryEnumeration(
		callbackDataOf(native), uuidFromGUID(
			(*windows.GUID)(unsafe.Pointer(enumerationID))),
	))
})

var go_delegateEndDirectoryEnumeration = syscall.NewCallback(func(
	callbackData, enumerationID uintptr,
) uintptr {
	callbacks, native := loadCallbacks(callbackData)
	if callbacks == nil {
		return uintptr(hresultNoRef)
	}
	return uintptr(callbacks.EndDirectoryEnumeration(
		callbackDataOf(native), uuidFromGUID(
			(*windows.GUID)(unsafe.Pointer(enumerationID))),
	))
})

var go_delegateGetDirectoryEnumeration = syscall.NewCallback(func(
	callbackData, enumerationID, searchExpression, handle uintptr,
) uintptr {
	callbacks, native := loadCallbacks(callbackData)
	if callbacks == nil {
		return uintptr(hresultNoRef)
	}
	return uintptr(callbacks.GetDirectoryEnumeration(
		callbackDataOf(native), uuidFromGUID(
			(*windows.GUID)(unsafe.Pointer(enumerationID))),
		utf16PtrToSlice((*uint16)(unsafe.Pointer(searchExpression))),
		DirEntryBufferHandle(handle),
	))
})

var go_delegateGetPlaceholderInfo = syscall.NewCallback(func(
	callbackData uintptr,
) uintptr {
	callbacks, native := loadCallbacks(callbackData)
	if callbacks == nil {
		return uintptr(hresultNoRef)
	}
	return uintptr(callbacks.GetPlaceholderInfo(
		callbackDataOf(native)))
})

var go_delegateGetFileData = syscall.NewCallback(func(
	callbackData, byteOffset, length uintptr,
) uintptr {
	callbacks, native := loadCallbacks(callbackData)
	if callbacks == nil {
		return uintptr(hresultNoRef)
	}
	return uintptr(callbacks.GetFileData(
		callbackDataOf(native), uint64(byteOffset), uint32(length)))
})

var go_delegateQueryFileName = syscall.NewCallback(func(
	callbackData uintptr,
) uintptr {
	callbacks, native := loadCallbacks(callbackData)
	if callbacks == nil {
		return uintptr(hresultNoRef)
	}
	return uintptr(callbacks.QueryFileName(
		callbackDataOf(native)))
})

var go_delegateNotification = syscall.NewCallback(func(
	callbackData, isDirectory, notification uintptr,
	destinationFileName, operationParameters uintptr,
) uintptr {
	callbacks, native := loadCallbacks(callbackData)
	if callbacks == nil {
		return uintptr(hresultNoRef)
	}
	// BUG: BOOLEAN is passed in the lowest byte, the rest
	// of the register is not guaranteed to be cleared.
	return uintptr(callbacks.Notification(
		callbackDataOf(native), uint8(isDirectory) != 0,
		NotificationType(uint32(notification)),
		utf16PtrToSlice((*uint16)(unsafe.Pointer(destinationFileName))),
		(*NotificationParameters)(unsafe.Pointer(operationParameters)),
	))
})

var go_delegateCancelCommand = syscall.NewCallback(func(
	callbackData uintptr,
) uintptr {
	callbacks, native := loadCallbacks(callbackData)
	if callbacks != nil {
		callbacks.CancelCommand(callbackDataOf(native))
	}
	return 0
})

func convertBasicInfo(info *FileBasicInfo) PRJ_FILE_BASIC_INFO {
	var result PRJ_FILE_BASIC_INFO
	if info.IsDirectory {
		result.IsDirectory = 1
	} else {
		result.FileSize = info.FileSize
	}
	result.CreationTime = int64(filetime.Timestamp(info.CreationTime))
	result.LastAccessTime = int64(filetime.Timestamp(info.LastAccessTime))
	result.LastWriteTime = int64(filetime.Timestamp(info.LastWriteTime))
	result.ChangeTime = int64(filetime.Timestamp(info.ChangeTime))
	result.FileAttributes = info.FileAttributes
	return result
}

func convertPlaceholderInfo(info *PlaceholderInfo) *PRJ_PLACEHOLDER_INFO {
	return &PRJ_PLACEHOLDER_INFO{
		FileBasicInfo: convertBasicInfo(&info.FileBasicInfo),
		VersionInfo:   info.VersionInfo,
	}
}

// callHResult calls the proc and interprets its result
// as an HRESULT, the upper half of the register is not
// guaranteed to be cleared.
func callHResult(proc *windows.LazyProc, args ...uintptr) error {
	r, _, _ := proc.Call(args...)
	if status := HResult(uint32(r)); status.Failed() {
		return status
	}
	return nil
}

type nativeDriver struct {
	// nativeOps maps the VirtualizationContext to its
	// *PRJ_CALLBACKS.
	//
	// XXX: we keep the native callbacks referenced for as
	// long as the instance runs, so that they are not GC-ed
	// while the file system holds their address.
	nativeOps sync.Map
}

// NewDriver returns the Driver backed by ProjectedFSLib.dll,
// which is available once the "Windows Projected File
// System" optional feature is enabled.
func NewDriver() (Driver, error) {
	if err := tryLoadProjFS(); err != nil {
		return nil, err
	}
	return &nativeDriver{}, nil
}

func (d *nativeDriver) MarkDirectoryAsPlaceholder(
	rootPath, targetPath string,
	versionInfo *PlaceholderVersionInfo, instanceID uuid.UUID,
) error {
	utf16Root, err := windows.UTF16PtrFromString(rootPath)
	if err != nil {
		return errors.Wrapf(err, "string %q convert utf16", rootPath)
	}
	var utf16Target *uint16
	if targetPath != "" {
		if utf16Target, err = windows.UTF16PtrFromString(
			targetPath); err != nil {
			return errors.Wrapf(err,
				"string %q convert utf16", targetPath)
		}
	}
	guid := guidFromUUID(instanceID)
	err = callHResult(prjMarkDirectoryAsPlaceholder,
		uintptr(unsafe.Pointer(utf16Root)),
		uintptr(unsafe.Pointer(utf16Target)),
		uintptr(unsafe.Pointer(versionInfo)),
		uintptr(unsafe.Pointer(&guid)),
	)
	runtime.KeepAlive(utf16Root)
	runtime.KeepAlive(utf16Target)
	runtime.KeepAlive(versionInfo)
	return err
}

func (d *nativeDriver) StartVirtualizing(
	rootPath string, callbacks *Callbacks,
	token InstanceToken, options *StartOptions,
) (VirtualizationContext, error) {
	utf16Root, err := windows.UTF16PtrFromString(rootPath)
	if err != nil {
		return 0, errors.Wrapf(err, "string %q convert utf16", rootPath)
	}

	// Only the callbacks present in the table are presented
	// to the file system.
	nativeOps := &PRJ_CALLBACKS{}
	if callbacks.StartDirectoryEnumeration != nil {
		nativeOps.StartDirectoryEnumerationCallback = go_delegateStartDirectoryEnumeration
	}
	if callbacks.EndDirectoryEnumeration != nil {
		nativeOps.EndDirectoryEnumerationCallback = go_delegateEndDirectoryEnumeration
	}
	if callbacks.GetDirectoryEnumeration != nil {
		nativeOps.GetDirectoryEnumerationCallback = go_delegateGetDirectoryEnumeration
	}
	if callbacks.GetPlaceholderInfo != nil {
		nativeOps.GetPlaceholderInfoCallback = go_delegateGetPlaceholderInfo
	}
	if callbacks.GetFileData != nil {
		nativeOps.GetFileDataCallback = go_delegateGetFileData
	}
	if callbacks.QueryFileName != nil {
		nativeOps.QueryFileNameCallback = go_delegateQueryFileName
	}
	if callbacks.Notification != nil {
		nativeOps.NotificationCallback = go_delegateNotification
	}
	if callbacks.CancelCommand != nil {
		nativeOps.CancelCommandCallback = go_delegateCancelCommand
	}

	nativeOptions := &PRJ_STARTVIRTUALIZING_OPTIONS{
		Flags:                 uint32(options.Flags),
		PoolThreadCount:       options.PoolThreadCount,
		ConcurrentThreadCount: options.ConcurrentThreadCount,
	}
	mappings := make([]PRJ_NOTIFICATION_MAPPING, 0,
		len(options.NotificationMappings))
	for _, mapping := range options.NotificationMappings {
		root, err := windows.UTF16PtrFromString(mapping.Root)
		if err != nil {
			return 0, errors.Wrapf(err,
				"string %q convert utf16", mapping.Root)
		}
		mappings = append(mappings, PRJ_NOTIFICATION_MAPPING{
			NotificationBitMask: uint32(mapping.Mask),
			NotificationRoot:    root,
		})
	}
	if len(mappings) > 0 {
		nativeOptions.NotificationMappings = &mappings[0]
		nativeOptions.NotificationMappingsCount = uint32(len(mappings))
	}

	var context uintptr
	if err := callHResult(prjStartVirtualizing,
		uintptr(unsafe.Pointer(utf16Root)),
		uintptr(unsafe.Pointer(nativeOps)),
		uintptr(token),
		uintptr(unsafe.Pointer(nativeOptions)),
		uintptr(unsafe.Pointer(&context)),
	); err != nil {
		return 0, errors.Wrap(err, "PrjStartVirtualizing")
	}
	runtime.KeepAlive(utf16Root)
	runtime.KeepAlive(nativeOptions)
	runtime.KeepAlive(mappings)
	d.nativeOps.Store(VirtualizationContext(context), nativeOps)
	return VirtualizationContext(context), nil
}

func (d *nativeDriver) StopVirtualizing(ctx VirtualizationContext) {
	_, _, _ = prjStopVirtualizing.Call(uintptr(ctx))
	d.nativeOps.Delete(ctx)
}

func (d *nativeDriver) GetVirtualizationInstanceInfo(
	ctx VirtualizationContext,
) (*InstanceInfo, error) {
	var info PRJ_VIRTUALIZATION_INSTANCE_INFO
	if err := callHResult(prjGetVirtualizationInstanceInfo,
		uintptr(ctx), uintptr(unsafe.Pointer(&info)),
	); err != nil {
		return nil, errors.Wrap(err, "PrjGetVirtualizationInstanceInfo")
	}
	return &InstanceInfo{
		InstanceID:     uuidFromGUID(&info.InstanceID),
		WriteAlignment: info.WriteAlignment,
	}, nil
}

func (d *nativeDriver) CompleteCommand(
	ctx VirtualizationContext, commandID CommandID,
	result HResult, params *CompletionParameters,
) error {
	var extended *PRJ_COMPLETE_COMMAND_EXTENDED_PARAMETERS
	if params != nil {
		extended = &PRJ_COMPLETE_COMMAND_EXTENDED_PARAMETERS{
			CommandType: uint32(params.Kind),
		}
		switch params.Kind {
		case CompletionNotification:
			extended.Data = uintptr(params.NotificationMask)
		case CompletionEnumeration:
			extended.Data = uintptr(params.DirEntryBufferHandle)
		}
	}
	err := callHResult(prjCompleteCommand,
		uintptr(ctx), uintptr(commandID), uintptr(result),
		uintptr(unsafe.Pointer(extended)),
	)
	runtime.KeepAlive(extended)
	return err
}

func (d *nativeDriver) FillDirEntryBuffer(
	handle DirEntryBufferHandle, fileName string, info *FileBasicInfo,
) error {
	utf16Name, err := windows.UTF16PtrFromString(fileName)
	if err != nil {
		return errors.Wrapf(err, "string %q convert utf16", fileName)
	}
	basicInfo := convertBasicInfo(info)
	err = callHResult(prjFillDirEntryBuffer,
		uintptr(unsafe.Pointer(utf16Name)),
		uintptr(unsafe.Pointer(&basicInfo)),
		uintptr(handle),
	)
	runtime.KeepAlive(utf16Name)
	return err
}

func (d *nativeDriver) WritePlaceholderInfo(
	ctx VirtualizationContext, relativePath string,
	info *PlaceholderInfo,
) error {
	utf16Path, err := windows.UTF16PtrFromString(relativePath)
	if err != nil {
		return errors.Wrapf(err, "string %q convert utf16", relativePath)
	}
	placeholder := convertPlaceholderInfo(info)
	size := unsafe.Sizeof(*placeholder)
	if info.SymlinkTarget == "" {
		err = callHResult(prjWritePlaceholderInfo,
			uintptr(ctx), uintptr(unsafe.Pointer(utf16Path)),
			uintptr(unsafe.Pointer(placeholder)), size,
		)
	} else {
		utf16Target, convErr := windows.UTF16PtrFromString(
			info.SymlinkTarget)
		if convErr != nil {
			return errors.Wrapf(convErr,
				"string %q convert utf16", info.SymlinkTarget)
		}
		extended := &PRJ_EXTENDED_INFO{
			InfoType:          PRJ_EXT_INFO_TYPE_SYMLINK,
			SymlinkTargetName: utf16Target,
		}
		err = callHResult(prjWritePlaceholderInfo2,
			uintptr(ctx), uintptr(unsafe.Pointer(utf16Path)),
			uintptr(unsafe.Pointer(placeholder)), size,
			uintptr(unsafe.Pointer(extended)),
		)
		runtime.KeepAlive(extended)
		runtime.KeepAlive(utf16Target)
	}
	runtime.KeepAlive(utf16Path)
	runtime.KeepAlive(placeholder)
	return err
}

func (d *nativeDriver) UpdateFileIfNeeded(
	ctx VirtualizationContext, relativePath string,
	info *PlaceholderInfo, flags UpdateType,
) (UpdateFailureCause, error) {
	utf16Path, err := windows.UTF16PtrFromString(relativePath)
	if err != nil {
		return UpdateFailureNone, errors.Wrapf(err,
			"string %q convert utf16", relativePath)
	}
	placeholder := convertPlaceholderInfo(info)
	var cause UpdateFailureCause
	err = callHResult(prjUpdateFileIfNeeded,
		uintptr(ctx), uintptr(unsafe.Pointer(utf16Path)),
		uintptr(unsafe.Pointer(placeholder)),
		unsafe.Sizeof(*placeholder), uintptr(flags),
		uintptr(unsafe.Pointer(&cause)),
	)
	runtime.KeepAlive(utf16Path)
	runtime.KeepAlive(placeholder)
	return cause, err
}

func (d *nativeDriver) DeleteFile(
	ctx VirtualizationContext, relativePath string, flags UpdateType,
) (UpdateFailureCause, error) {
	utf16Path, err := windows.UTF16PtrFromString(relativePath)
	if err != nil {
		return UpdateFailureNone, errors.Wrapf(err,
			"string %q convert utf16", relativePath)
	}
	var cause UpdateFailureCause
	err = callHResult(prjDeleteFile,
		uintptr(ctx), uintptr(unsafe.Pointer(utf16Path)),
		uintptr(flags), uintptr(unsafe.Pointer(&cause)),
	)
	runtime.KeepAlive(utf16Path)
	return cause, err
}

func (d *nativeDriver) WriteFileData(
	ctx VirtualizationContext, dataStreamID uuid.UUID,
	data []byte, byteOffset uint64,
) error {
	if len(data) == 0 {
		return nil
	}
	buffer, _, _ := prjAllocateAlignedBuffer.Call(
		uintptr(ctx), uintptr(len(data)))
	if buffer == 0 {
		return OutOfMemory
	}
	defer func() {
		_, _, _ = prjFreeAlignedBuffer.Call(buffer)
	}()
	copy(unsafe.Slice((*byte)(unsafe.Pointer(buffer)), len(data)), data)
	guid := guidFromUUID(dataStreamID)
	return callHResult(prjWriteFileData,
		uintptr(ctx), uintptr(unsafe.Pointer(&guid)),
		buffer, uintptr(byteOffset), uintptr(len(data)),
	)
}

func (d *nativeDriver) ClearNegativePathCache(
	ctx VirtualizationContext,
) (uint32, error) {
	var total uint32
	err := callHResult(prjClearNegativePathCache,
		uintptr(ctx), uintptr(unsafe.Pointer(&total)))
	return total, err
}

func (d *nativeDriver) GetOnDiskFileState(path string) (FileState, error) {
	utf16Path, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, errors.Wrapf(err, "string %q convert utf16", path)
	}
	var state FileState
	err = callHResult(prjGetOnDiskFileState,
		uintptr(unsafe.Pointer(utf16Path)),
		uintptr(unsafe.Pointer(&state)),
	)
	runtime.KeepAlive(utf16Path)
	return state, err
}

type nativeNameMatcher struct{}

func (nativeNameMatcher) Match(name, pattern string) bool {
	utf16Name, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return false
	}
	utf16Pattern, err := windows.UTF16PtrFromString(pattern)
	if err != nil {
		return false
	}
	r, _, _ := prjFileNameMatch.Call(
		uintptr(unsafe.Pointer(utf16Name)),
		uintptr(unsafe.Pointer(utf16Pattern)),
	)
	runtime.KeepAlive(utf16Name)
	runtime.KeepAlive(utf16Pattern)
	// BUG: BOOLEAN result, same as the callback argument.
	return uint8(r) != 0
}

func (nativeNameMatcher) Compare(a, b string) int {
	utf16A, errA := windows.UTF16PtrFromString(a)
	utf16B, errB := windows.UTF16PtrFromString(b)
	if errA != nil || errB != nil {
		return namematch.Compare(a, b)
	}
	r, _, _ := prjFileNameCompare.Call(
		uintptr(unsafe.Pointer(utf16A)),
		uintptr(unsafe.Pointer(utf16B)),
	)
	runtime.KeepAlive(utf16A)
	runtime.KeepAlive(utf16B)
	switch result := int32(uint32(r)); {
	case result < 0:
		return -1
	case result > 0:
		return 1
	}
	return 0
}

// NativeNameMatcher returns the matcher that compares and
// matches names with ProjectedFSLib.dll itself.
func NativeNameMatcher() (namematch.Matcher, error) {
	if err := tryLoadProjFS(); err != nil {
		return nil, err
	}
	return nativeNameMatcher{}, nil
}

var (
	projFSDLL = windows.NewLazySystemDLL("ProjectedFSLib.dll")

	prjAllocateAlignedBuffer         *windows.LazyProc
	prjClearNegativePathCache        *windows.LazyProc
	prjCompleteCommand               *windows.LazyProc
	prjDeleteFile                    *windows.LazyProc
	prjFileNameCompare               *windows.LazyProc
	prjFileNameMatch                 *windows.LazyProc
	prjFillDirEntryBuffer            *windows.LazyProc
	prjFreeAlignedBuffer             *windows.LazyProc
	prjGetOnDiskFileState            *windows.LazyProc
	prjGetVirtualizationInstanceInfo *windows.LazyProc
	prjMarkDirectoryAsPlaceholder    *windows.LazyProc
	prjStartVirtualizing             *windows.LazyProc
	prjStopVirtualizing              *windows.LazyProc
	prjUpdateFileIfNeeded            *windows.LazyProc
	prjWriteFileData                 *windows.LazyProc
	prjWritePlaceholderInfo          *windows.LazyProc
	prjWritePlaceholderInfo2         *windows.LazyProc
)

func findProc(name string, target **windows.LazyProc) error {
	proc := projFSDLL.NewProc(name)
	if err := proc.Find(); err != nil {
		return errors.Wrapf(err,
			"projfs cannot find proc %q", name)
	}
	*target = proc
	return nil
}

func loadProcs(procs map[string]**windows.LazyProc) error {
	for name, proc := range procs {
		if err := findProc(name, proc); err != nil {
			return err
		}
	}
	return nil
}

func initProjFS() error {
	if err := projFSDLL.Load(); err != nil {
		return errors.Wrap(err, "load ProjectedFSLib.dll, "+
			"is the projected file system feature enabled")
	}
	return loadProcs(map[string]**windows.LazyProc{
		"PrjAllocateAlignedBuffer":         &prjAllocateAlignedBuffer,
		"PrjClearNegativePathCache":        &prjClearNegativePathCache,
		"PrjCompleteCommand":               &prjCompleteCommand,
		"PrjDeleteFile":                    &prjDeleteFile,
		"PrjFileNameCompare":               &prjFileNameCompare,
		"PrjFileNameMatch":                 &prjFileNameMatch,
		"PrjFillDirEntryBuffer":            &prjFillDirEntryBuffer,
		"PrjFreeAlignedBuffer":             &prjFreeAlignedBuffer,
		"PrjGetOnDiskFileState":            &prjGetOnDiskFileState,
		"PrjGetVirtualizationInstanceInfo": &prjGetVirtualizationInstanceInfo,
		"PrjMarkDirectoryAsPlaceholder":    &prjMarkDirectoryAsPlaceholder,
		"PrjStartVirtualizing":             &prjStartVirtualizing,
		"PrjStopVirtualizing":              &prjStopVirtualizing,
		"PrjUpdateFileIfNeeded":            &prjUpdateFileIfNeeded,
		"PrjWriteFileData":                 &prjWriteFileData,
		"PrjWritePlaceholderInfo":          &prjWritePlaceholderInfo,
		"PrjWritePlaceholderInfo2":         &prjWritePlaceholderInfo2,
	})
}

var (
	tryLoadOnce sync.Once
	tryLoadErr  error
)

// tryLoadProjFS attempts to load the ProjFS DLL, the work
// is done once and error will be persistent.
func tryLoadProjFS() error {
	tryLoadOnce.Do(func() {
		tryLoadErr = initProjFS()
	})
	return tryLoadErr
}
