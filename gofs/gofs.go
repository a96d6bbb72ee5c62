package gofs

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/aegistudio/go-projfs"
	"github.com/aegistudio/go-projfs/pathlock"
)

const (
	fileAttributeReadonly  = uint32(0x00000001)
	fileAttributeDirectory = uint32(0x00000010)
	fileAttributeNormal    = uint32(0x00000080)
)

// providerID is attached to every placeholder written by
// this package.
var providerID = []byte("gofs")

type option struct {
	logger      *zap.Logger
	denyDeletes bool
	asyncData   bool
	workers     int64
	chunkSize   uint32
}

func newOption() *option {
	return &option{
		logger:    zap.NewNop(),
		workers:   4,
		chunkSize: 1 << 20,
	}
}

// Option is the option for creating the provider.
type Option func(*option)

func WithLogger(value *zap.Logger) Option {
	return func(o *option) {
		if value == nil {
			value = zap.NewNop()
		}
		o.logger = value
	}
}

// WithDenyDeletes vetoes every deletion under the root.
func WithDenyDeletes(value bool) Option {
	return func(o *option) {
		o.denyDeletes = value
	}
}

// WithAsyncData returns Pending from GetFileData, and the
// content is written and completed by the workers.
func WithAsyncData(value bool) Option {
	return func(o *option) {
		o.asyncData = value
	}
}

// WithWorkers bounds the count of concurrent hydrations
// when WithAsyncData is enabled.
func WithWorkers(value int64) Option {
	return func(o *option) {
		if value > 0 {
			o.workers = value
		}
	}
}

// WithChunkSize is the size of each WriteFileData, it is
// rounded up to the write alignment of the instance.
func WithChunkSize(value uint32) Option {
	return func(o *option) {
		if value > 0 {
			o.chunkSize = value
		}
	}
}

func Options(opts ...Option) Option {
	return func(o *option) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

// Provider projects an afero.Fs into a virtualization
// instance. Close must be called to wait for the workers
// before the instance is stopped.
type Provider struct {
	inner  afero.Fs
	option *option
	logger *zap.Logger
	locker pathlock.Locker

	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	// cancels maps the CommandID of the pending hydrations
	// to the cancel functions of their contexts.
	cancels sync.Map
}

// New creates the provider of the file system.
func New(fs afero.Fs, opts ...Option) *Provider {
	option := newOption()
	Options(opts...)(option)
	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		inner:  fs,
		option: option,
		logger: option.logger,
		sem:    semaphore.NewWeighted(option.workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close cancels the pending hydrations and waits for the
// workers to complete them.
func (p *Provider) Close() {
	p.cancel()
	p.workers.Wait()
}

func attributesFromFileMode(mode os.FileMode) uint32 {
	var attributes uint32
	if mode.IsDir() {
		attributes |= fileAttributeDirectory
	}
	if (uint32(mode.Perm()) & 0200) == 0 {
		attributes |= fileAttributeReadonly
	}
	if attributes == 0 {
		attributes = fileAttributeNormal
	}
	return attributes
}

func basicInfoFromStat(info os.FileInfo) *projfs.FileBasicInfo {
	result := &projfs.FileBasicInfo{
		IsDirectory:    info.IsDir(),
		FileAttributes: attributesFromFileMode(info.Mode()),
		CreationTime:   info.ModTime(),
		LastAccessTime: info.ModTime(),
		LastWriteTime:  info.ModTime(),
		ChangeTime:     info.ModTime(),
	}
	if !info.IsDir() {
		result.FileSize = info.Size()
	}
	return result
}

// evaluateContentID identifies a version of the file by
// hashing, so that a modified source file is told apart
// from the placeholder written before.
func evaluateContentID(p string, info os.FileInfo) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(info.Size()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(info.ModTime().UnixNano()))
	h := sha256.New()
	_, _ = h.Write([]byte(p))
	_, _ = h.Write(buf[:])
	return h.Sum(nil)
}

// projectedPath converts the slash path of the file system
// into the path relative to the virtualization root.
func projectedPath(p string) string {
	return strings.ReplaceAll(strings.TrimPrefix(p, "/"), "/", `\`)
}

// lookup walks the path case insensitively, returning the
// slash path in the file system's own case.
func (p *Provider) lookup(relative string) (string, os.FileInfo, error) {
	current := "/"
	info, err := p.inner.Stat(current)
	if err != nil {
		return "", nil, err
	}
	for _, part := range strings.Split(
		strings.ReplaceAll(relative, `\`, "/"), "/") {
		if part == "" || part == "." {
			continue
		}
		if !info.IsDir() {
			return "", nil, errors.Wrapf(projfs.PathNotFound,
				"%q is not a directory", current)
		}
		infos, err := afero.ReadDir(p.inner, current)
		if err != nil {
			return "", nil, err
		}
		var found os.FileInfo
		for _, candidate := range infos {
			if candidate.Name() == part {
				found = candidate
				break
			}
			if found == nil && strings.EqualFold(candidate.Name(), part) {
				found = candidate
			}
		}
		if found == nil {
			return "", nil, errors.Wrapf(projfs.FileNotFound,
				"%q not found", relative)
		}
		current = path.Join(current, found.Name())
		info = found
	}
	return current, info, nil
}

func (p *Provider) ListDirectory(
	inst *projfs.VirtualizationInstance, commandID projfs.CommandID,
	relative string, process projfs.ProcessInfo,
) ([]projfs.DirectoryEntry, error) {
	name, info, err := p.lookup(relative)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(projfs.Directory,
			"list non directory %q", name)
	}
	infos, err := afero.ReadDir(p.inner, name)
	if err != nil {
		return nil, err
	}
	entries := make([]projfs.DirectoryEntry, 0, len(infos))
	for _, info := range infos {
		basicInfo := basicInfoFromStat(info)
		entries = append(entries, projfs.DirectoryEntry{
			Name:           info.Name(),
			Size:           basicInfo.FileSize,
			IsDirectory:    basicInfo.IsDirectory,
			FileAttributes: basicInfo.FileAttributes,
			CreationTime:   basicInfo.CreationTime,
			LastAccessTime: basicInfo.LastAccessTime,
			LastWriteTime:  basicInfo.LastWriteTime,
			ChangeTime:     basicInfo.ChangeTime,
		})
	}
	return entries, nil
}

var _ projfs.BehaviourListDirectory = (*Provider)(nil)

func (p *Provider) GetPlaceholderInfo(
	inst *projfs.VirtualizationInstance, commandID projfs.CommandID,
	relative string, process projfs.ProcessInfo,
) error {
	name, info, err := p.lookup(relative)
	if err != nil {
		return err
	}
	var target string
	if info.Mode()&os.ModeSymlink != 0 {
		if reader, ok := p.inner.(afero.LinkReader); ok {
			link, err := reader.ReadlinkIfPossible(name)
			if err != nil {
				return err
			}
			target = strings.ReplaceAll(link, "/", `\`)
		}
	}
	p.logger.Debug("write placeholder",
		zap.String("path", name),
		zap.Uint32("process_id", process.ID),
		zap.String("process", process.ImageFileName))
	return inst.WriteSymlinkPlaceholderInfo(
		projectedPath(name), basicInfoFromStat(info), target,
		evaluateContentID(name, info), providerID)
}

// hydrate writes the requested range of the file in chunks,
// stopping early at the end of file.
func (p *Provider) hydrate(
	ctx context.Context, inst *projfs.VirtualizationInstance,
	file afero.File, request *projfs.FileDataRequest,
) error {
	alignment, err := inst.WriteAlignment()
	if err != nil {
		return err
	}
	chunkSize := uint64(p.option.chunkSize)
	if alignment > 1 {
		a := uint64(alignment)
		chunkSize = (chunkSize + a - 1) / a * a
	}
	buf := make([]byte, chunkSize)
	offset := request.ByteOffset
	end := offset + uint64(request.Length)
	for offset < end {
		if err := ctx.Err(); err != nil {
			return err
		}
		size := min(chunkSize, end-offset)
		n, err := file.ReadAt(buf[:size], int64(offset))
		if err != nil && err != io.EOF {
			return errors.Wrapf(err, "read %q at %d",
				request.Path, offset)
		}
		if n > 0 {
			if err := inst.WriteFileData(
				request.DataStreamID, buf[:n], offset,
			); err != nil {
				return err
			}
		}
		offset += uint64(n)
		if uint64(n) < size {
			break
		}
	}
	hydratedBytes.Add(float64(offset - request.ByteOffset))
	return nil
}

func (p *Provider) GetFileData(
	inst *projfs.VirtualizationInstance, commandID projfs.CommandID,
	request *projfs.FileDataRequest,
) error {
	lock := p.locker.Shared(request.Path)
	if lock == nil {
		return errors.Wrapf(projfs.AccessDenied,
			"%q is being removed", request.Path)
	}
	started := false
	defer func() {
		if !started {
			lock.Unlock()
		}
	}()
	name, info, err := p.lookup(request.Path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.Wrapf(projfs.Directory,
			"read directory %q", name)
	}
	file, err := p.inner.Open(name)
	if err != nil {
		return err
	}
	defer func() {
		if !started {
			_ = file.Close()
		}
	}()
	if !p.option.asyncData {
		return p.hydrate(p.ctx, inst, file, request)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.cancels.Store(commandID, cancel)
	p.workers.Add(1)
	started = true
	go func() {
		defer p.workers.Done()
		defer lock.Unlock()
		defer func() { _ = file.Close() }()
		defer p.cancels.Delete(commandID)
		defer cancel()
		err := p.sem.Acquire(ctx, 1)
		if err == nil {
			err = p.hydrate(ctx, inst, file, request)
			p.sem.Release(1)
		}
		if err != nil {
			p.logger.Warn("hydrate file",
				zap.String("path", request.Path),
				zap.Int32("command_id", int32(commandID)),
				zap.Error(err))
		}
		if err := inst.CompleteCommand(commandID, err); err != nil {
			p.logger.Warn("complete file data",
				zap.Int32("command_id", int32(commandID)),
				zap.Error(err))
		}
	}()
	return projfs.Pending
}

var _ projfs.BehaviourBase = (*Provider)(nil)

func (p *Provider) QueryFileName(
	inst *projfs.VirtualizationInstance, commandID projfs.CommandID,
	relative string, process projfs.ProcessInfo,
) error {
	_, _, err := p.lookup(relative)
	return err
}

var _ projfs.BehaviourQueryFileName = (*Provider)(nil)

func (p *Provider) CancelCommand(
	inst *projfs.VirtualizationInstance, commandID projfs.CommandID,
) {
	if cancel, ok := p.cancels.Load(commandID); ok {
		p.logger.Debug("cancel hydration",
			zap.Int32("command_id", int32(commandID)))
		cancel.(context.CancelFunc)()
	}
}

var _ projfs.BehaviourCancelCommand = (*Provider)(nil)

// checkRemovable tells whether the path might be removed
// or renamed, which is not while it is being hydrated.
func (p *Provider) checkRemovable(relative string) error {
	lock := p.locker.Exclusive(relative)
	if lock == nil {
		return errors.Wrapf(projfs.ErrNotAllowed,
			"%q is in use", relative)
	}
	lock.Unlock()
	return nil
}

func (p *Provider) NotifyPreDelete(
	inst *projfs.VirtualizationInstance, n *projfs.PreDeleteNotification,
) error {
	if p.option.denyDeletes {
		p.logger.Info("deny deletion", zap.String("path", n.Path),
			zap.String("process", n.Process.ImageFileName))
		return projfs.ErrNotAllowed
	}
	return p.checkRemovable(n.Path)
}

var _ projfs.BehaviourNotifyPreDelete = (*Provider)(nil)

func (p *Provider) NotifyPreRename(
	inst *projfs.VirtualizationInstance, n *projfs.PreRenameNotification,
) error {
	return p.checkRemovable(n.Path)
}

var _ projfs.BehaviourNotifyPreRename = (*Provider)(nil)

func (p *Provider) NotifyNewFileCreated(
	inst *projfs.VirtualizationInstance, n *projfs.NewFileCreatedNotification,
) (projfs.NotificationType, error) {
	p.logger.Info("new file created", zap.String("path", n.Path),
		zap.Bool("directory", n.IsDirectory))
	return projfs.NotifyUseExistingMask, nil
}

var _ projfs.BehaviourNotifyNewFileCreated = (*Provider)(nil)

func (p *Provider) NotifyFileRenamed(
	inst *projfs.VirtualizationInstance, n *projfs.FileRenamedNotification,
) (projfs.NotificationType, error) {
	p.logger.Info("file renamed", zap.String("path", n.Path),
		zap.String("destination", n.DestinationPath))
	return projfs.NotifyUseExistingMask, nil
}

var _ projfs.BehaviourNotifyFileRenamed = (*Provider)(nil)

func (p *Provider) NotifyFileHandleClosedFileModifiedOrDeleted(
	inst *projfs.VirtualizationInstance,
	n *projfs.FileHandleClosedFileModifiedOrDeletedNotification,
) {
	p.logger.Info("file handle closed", zap.String("path", n.Path),
		zap.Bool("modified", n.IsFileModified),
		zap.Bool("deleted", n.IsFileDeleted))
}

var _ projfs.BehaviourNotifyFileHandleClosedFileModifiedOrDeleted = (*Provider)(nil)
