package projfs

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func newPlaceholderInfo(
	info *FileBasicInfo, contentID, providerID []byte,
) (*PlaceholderInfo, error) {
	if info == nil {
		return nil, errors.Wrap(InvalidArg, "nil file basic info")
	}
	versionInfo, err := newVersionInfo(contentID, providerID)
	if err != nil {
		return nil, err
	}
	result := &PlaceholderInfo{
		FileBasicInfo: *info,
		VersionInfo:   *versionInfo,
	}
	if result.IsDirectory {
		result.FileSize = 0
	}
	return result, nil
}

// WritePlaceholderInfo writes the metadata of a path in
// response to GetPlaceholderInfo, or to create placeholders
// ahead of time.
//
// The content id and provider id are at most 128 bytes, and
// are handed back with the GetFileData of the placeholder.
func (inst *VirtualizationInstance) WritePlaceholderInfo(
	relativePath string, info *FileBasicInfo,
	contentID, providerID []byte,
) error {
	return inst.WriteSymlinkPlaceholderInfo(
		relativePath, info, "", contentID, providerID)
}

// WriteSymlinkPlaceholderInfo writes the metadata of a path
// like WritePlaceholderInfo, making it a symbolic link to the
// target when the target is not empty.
func (inst *VirtualizationInstance) WriteSymlinkPlaceholderInfo(
	relativePath string, info *FileBasicInfo, symlinkTarget string,
	contentID, providerID []byte,
) error {
	ctx, err := inst.loadContext()
	if err != nil {
		return err
	}
	placeholder, err := newPlaceholderInfo(info, contentID, providerID)
	if err != nil {
		return err
	}
	placeholder.SymlinkTarget = symlinkTarget
	if err := inst.driver.WritePlaceholderInfo(
		ctx, relativePath, placeholder,
	); err != nil {
		return errors.Wrapf(err, "write placeholder %q", relativePath)
	}
	return nil
}

// UpdateFileIfNeeded updates a placeholder or hydrated
// file whose content id differs from the specified one.
// When the on disk state is not allowed to be discarded by
// the update type, the failure cause tells why.
func (inst *VirtualizationInstance) UpdateFileIfNeeded(
	relativePath string, info *FileBasicInfo,
	contentID, providerID []byte, updateType UpdateType,
) (UpdateFailureCause, error) {
	ctx, err := inst.loadContext()
	if err != nil {
		return UpdateFailureNone, err
	}
	placeholder, err := newPlaceholderInfo(info, contentID, providerID)
	if err != nil {
		return UpdateFailureNone, err
	}
	cause, err := inst.driver.UpdateFileIfNeeded(
		ctx, relativePath, placeholder, updateType)
	if err != nil {
		return cause, errors.Wrapf(err, "update file %q", relativePath)
	}
	return cause, nil
}

// DeleteFile deletes a file under the virtualization root,
// as long as the update type allows discarding its state.
func (inst *VirtualizationInstance) DeleteFile(
	relativePath string, updateType UpdateType,
) (UpdateFailureCause, error) {
	ctx, err := inst.loadContext()
	if err != nil {
		return UpdateFailureNone, err
	}
	cause, err := inst.driver.DeleteFile(ctx, relativePath, updateType)
	if err != nil {
		return cause, errors.Wrapf(err, "delete file %q", relativePath)
	}
	return cause, nil
}

// WriteFileData provides the content of a data stream in
// response to GetFileData.
func (inst *VirtualizationInstance) WriteFileData(
	dataStreamID uuid.UUID, data []byte, byteOffset uint64,
) error {
	ctx, err := inst.loadContext()
	if err != nil {
		return err
	}
	if err := inst.driver.WriteFileData(
		ctx, dataStreamID, data, byteOffset,
	); err != nil {
		return errors.Wrapf(err,
			"write %d bytes at %d", len(data), byteOffset)
	}
	return nil
}

// WriteAlignment returns the alignment of the offset and
// length of WriteFileData, as reported by the file system.
func (inst *VirtualizationInstance) WriteAlignment() (uint32, error) {
	if !inst.running.Load() {
		return 0, ErrNotStarted
	}
	return inst.writeAlignment, nil
}

// AlignWriteRange extends the range to the write alignment
// of the instance, for providers writing a whole requested
// range in chunks.
func (inst *VirtualizationInstance) AlignWriteRange(
	byteOffset uint64, length uint32,
) (uint64, uint32) {
	alignment, _ := inst.WriteAlignment()
	return alignRange(byteOffset, length, alignment)
}

func alignRange(
	byteOffset uint64, length uint32, alignment uint32,
) (uint64, uint32) {
	if alignment <= 1 {
		return byteOffset, length
	}
	a := uint64(alignment)
	begin := byteOffset / a * a
	end := (byteOffset + uint64(length) + a - 1) / a * a
	return begin, uint32(end - begin)
}

// MarkDirectoryAsPlaceholder converts an existing directory
// under the virtualization root into a placeholder.
func (inst *VirtualizationInstance) MarkDirectoryAsPlaceholder(
	targetPath string, contentID, providerID []byte,
) error {
	instanceID, err := inst.InstanceID()
	if err != nil {
		return err
	}
	versionInfo, err := newVersionInfo(contentID, providerID)
	if err != nil {
		return err
	}
	if err := inst.driver.MarkDirectoryAsPlaceholder(
		inst.rootPath, targetPath, versionInfo, instanceID,
	); err != nil {
		return errors.Wrapf(err, "mark %q as placeholder", targetPath)
	}
	return nil
}

// ClearNegativePathCache purges the paths the file system
// remembers as not found, returning how many were purged.
func (inst *VirtualizationInstance) ClearNegativePathCache() (uint32, error) {
	ctx, err := inst.loadContext()
	if err != nil {
		return 0, err
	}
	return inst.driver.ClearNegativePathCache(ctx)
}

// GetOnDiskFileState returns the state of a file under the
// virtualization root, the path is a full path.
func (inst *VirtualizationInstance) GetOnDiskFileState(
	path string,
) (FileState, error) {
	return inst.driver.GetOnDiskFileState(path)
}
