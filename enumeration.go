package projfs

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/aegistudio/go-projfs/enumeration"
	"github.com/aegistudio/go-projfs/namematch"
)

// DirectoryEnumerationResults is the sink of the entries
// of a get directory enumeration callback, bound to the
// bounded output buffer of the call.
type DirectoryEnumerationResults interface {
	// Handle returns the handle of the output buffer, which
	// is passed to CompleteEnumeration when the callback
	// returned Pending.
	Handle() DirEntryBufferHandle

	// Add appends an entry with the basic fields, returning
	// false when the buffer has no room for it.
	Add(fileName string, fileSize int64, isDirectory bool) bool

	// AddWithInfo appends an entry with its attributes and
	// timestamps, returning false when the buffer has no
	// room for it.
	AddWithInfo(fileName string, info *FileBasicInfo) bool
}

type dirEntryBuffer struct {
	inst   *VirtualizationInstance
	handle DirEntryBufferHandle
}

func (b *dirEntryBuffer) Handle() DirEntryBufferHandle {
	return b.handle
}

func (b *dirEntryBuffer) Add(
	fileName string, fileSize int64, isDirectory bool,
) bool {
	return b.AddWithInfo(fileName, &FileBasicInfo{
		IsDirectory: isDirectory,
		FileSize:    fileSize,
	})
}

func (b *dirEntryBuffer) AddWithInfo(
	fileName string, info *FileBasicInfo,
) bool {
	if fileName == "" || info == nil {
		return false
	}
	if info.IsDirectory && info.FileSize != 0 {
		dirInfo := *info
		dirInfo.FileSize = 0
		info = &dirInfo
	}
	err := b.inst.driver.FillDirEntryBuffer(b.handle, fileName, info)
	if err != nil && convertHResult(err) != InsufficientBuffer {
		b.inst.logger.Warn("fill directory entry buffer",
			zap.String("name", fileName), zap.Error(err))
	}
	return err == nil
}

// FillDirectoryEnumeration fills the results with the
// entries of the session from the current one, until the
// session is exhausted or the results are full.
//
// When not even the first entry fits, InsufficientBuffer is
// returned. Otherwise the entry that does not fit remains
// current, and will be the first one of the next fill.
func FillDirectoryEnumeration(
	session *enumeration.Session, results DirectoryEnumerationResults,
) error {
	added := 0
	for session.IsCurrentValid() {
		entry := session.Current()
		var ok bool
		if entry.HasBasicInfo() {
			ok = results.AddWithInfo(entry.Name, basicInfoOf(entry))
		} else {
			ok = results.Add(entry.Name, entry.Size, entry.IsDirectory)
		}
		if !ok {
			if added == 0 {
				return InsufficientBuffer
			}
			break
		}
		added++
		session.MoveNext()
	}
	return nil
}

// BehaviourDirectoryEnumerationRaw is the raw interface of
// directory enumeration. Under most circumstances, the
// provider should implement BehaviourListDirectory instead.
//
// The calls of one enumeration id are serialized by the file
// system, while different enumerations run concurrently.
type BehaviourDirectoryEnumerationRaw interface {
	StartDirectoryEnumeration(
		inst *VirtualizationInstance, commandID CommandID,
		enumerationID uuid.UUID, path string, process ProcessInfo,
	) error

	// GetDirectoryEnumeration fills the results, the filter
	// is empty when the file system supplies none.
	GetDirectoryEnumeration(
		inst *VirtualizationInstance, commandID CommandID,
		enumerationID uuid.UUID, filter string, restart bool,
		results DirectoryEnumerationResults,
	) error

	EndDirectoryEnumeration(
		inst *VirtualizationInstance, enumerationID uuid.UUID,
	) error
}

func delegateStartDirectoryEnumeration(
	data *CallbackData, enumerationID uuid.UUID,
) HResult {
	inst, path, status := resolve(data)
	if inst == nil {
		return status
	}
	return inst.dispatch("StartDirectoryEnumeration", data.CommandID,
		commandGeneric, NotifyNone, func() error {
			return inst.ref.enumerate.StartDirectoryEnumeration(
				inst, data.CommandID, enumerationID,
				path, data.process())
		})
}

func delegateGetDirectoryEnumeration(
	data *CallbackData, enumerationID uuid.UUID,
	searchExpression []uint16, handle DirEntryBufferHandle,
) HResult {
	inst := loadInstance(data.InstanceToken)
	if inst == nil {
		return hresultNoRef
	}
	var filter string
	if searchExpression != nil {
		var ok bool
		if filter, ok = decodeUTF16(searchExpression); !ok {
			return InvalidArg
		}
	}
	restart := data.Flags&CallbackRestartScan != 0
	results := &dirEntryBuffer{inst: inst, handle: handle}
	return inst.dispatch("GetDirectoryEnumeration", data.CommandID,
		commandEnumeration, NotifyNone, func() error {
			return inst.ref.enumerate.GetDirectoryEnumeration(
				inst, data.CommandID, enumerationID,
				filter, restart, results)
		})
}

func delegateEndDirectoryEnumeration(
	data *CallbackData, enumerationID uuid.UUID,
) HResult {
	inst := loadInstance(data.InstanceToken)
	if inst == nil {
		return hresultNoRef
	}
	return inst.dispatch("EndDirectoryEnumeration", data.CommandID,
		commandGeneric, NotifyNone, func() error {
			return inst.ref.enumerate.EndDirectoryEnumeration(
				inst, enumerationID)
		})
}

// BehaviourListDirectory is the delegated interface which
// lists the entries of a directory at the start of an
// enumeration, leaving the sorting, the filtering and the
// resumption to the enumeration session.
//
// Returning Pending is not supported, since the entries are
// required to create the session.
type BehaviourListDirectory interface {
	ListDirectory(
		inst *VirtualizationInstance, commandID CommandID,
		path string, process ProcessInfo,
	) ([]DirectoryEntry, error)
}

type behaviourListDirectoryDelegate struct {
	listDir  BehaviourListDirectory
	matcher  namematch.Matcher
	sessions sync.Map
}

func (d *behaviourListDirectoryDelegate) StartDirectoryEnumeration(
	inst *VirtualizationInstance, commandID CommandID,
	enumerationID uuid.UUID, path string, process ProcessInfo,
) error {
	entries, err := d.listDir.ListDirectory(
		inst, commandID, path, process)
	if err != nil {
		if convertHResult(err) == Pending {
			inst.logger.Error("list directory returned pending",
				zap.String("path", path),
				zap.Int32("command_id", int32(commandID)))
			return InternalError
		}
		return err
	}
	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, func(a, b DirectoryEntry) int {
		return d.matcher.Compare(a.Name, b.Name)
	})
	d.sessions.Store(enumerationID, enumeration.New(entries, d.matcher))
	return nil
}

func (d *behaviourListDirectoryDelegate) GetDirectoryEnumeration(
	inst *VirtualizationInstance, commandID CommandID,
	enumerationID uuid.UUID, filter string, restart bool,
	results DirectoryEnumerationResults,
) error {
	value, ok := d.sessions.Load(enumerationID)
	if !ok {
		inst.logger.Warn("get unknown directory enumeration",
			zap.Stringer("enumeration_id", enumerationID),
			zap.Int32("command_id", int32(commandID)))
		return errors.Wrapf(InvalidArg,
			"unknown enumeration %s", enumerationID)
	}
	session := value.(*enumeration.Session)
	if restart {
		session.Restart(filter)
	} else {
		session.TrySaveFilter(filter)
	}
	return FillDirectoryEnumeration(session, results)
}

func (d *behaviourListDirectoryDelegate) EndDirectoryEnumeration(
	inst *VirtualizationInstance, enumerationID uuid.UUID,
) error {
	d.sessions.Delete(enumerationID)
	return nil
}

func (d *behaviourListDirectoryDelegate) reset() {
	d.sessions.Range(func(key, _ any) bool {
		d.sessions.Delete(key)
		return true
	})
}
